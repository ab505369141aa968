// Package presence holds the pure, dependency-free data types and
// decision functions shared by the presence store, the presence
// service, and the websocket fleet. Nothing in this package performs
// I/O; it exists so the rules that govern a record's lifecycle can be
// unit tested without Redis or a network.
package presence

import "time"

// SessionMode is the desktop session-mode FSM's state, mirrored
// server-side to drive TTL policy. "removed" is never persisted: it
// means the record is absent.
type SessionMode string

const (
	ModeActive         SessionMode = "active"
	ModePassiveActive  SessionMode = "passive_active"
)

// Device is the coarse device classification attached to a record.
// The server treats it as an opaque tag supplied by the client; it
// never derives it from the user agent itself.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
)

// IsMobileClass reports whether the device is subject to the
// aggressive disconnect resolver (mobile and tablet) rather than
// TTL-only desktop cleanup.
func (d Device) IsMobileClass() bool {
	return d == DeviceMobile || d == DeviceTablet
}

// Record is the presence store's unit of storage, keyed by
// (CustomerID, SessionID). Only a session's current leader tab ever
// writes one.
type Record struct {
	CustomerID string `json:"customerId"`
	SessionID  string `json:"sessionId"`
	TabID      string `json:"tabId"`
	IsLeader   bool   `json:"isLeader"`

	Platform string `json:"platform,omitempty"`
	Browser  string `json:"browser,omitempty"`
	Device   Device `json:"device,omitempty"`

	DesktopMode               bool `json:"desktop_mode"`
	TotalTabQuantity          int  `json:"total_tab_quantity"`
	TotalBackgroundTabQuantity int `json:"total_backgroundTab_quantity"`

	SessionMode SessionMode `json:"session_mode"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastActivity string    `json:"lastActivity"`
}

// Merge overlays non-zero fields of incoming onto the receiver,
// preserving CreatedAt and anything incoming leaves at its zero value
// (as happens for polling-mode TTL refreshes that omit device and tab
// counts). TabID is always taken from incoming and IsLeader is set.
// The tab-count group (total, background, desktop_mode) is taken as a
// unit whenever incoming's total tab count is non-zero. It returns a
// new record; it does not mutate the receiver.
func (r Record) Merge(incoming Record) Record {
	merged := r
	merged.TabID = incoming.TabID
	merged.IsLeader = true

	if incoming.Platform != "" {
		merged.Platform = incoming.Platform
	}
	if incoming.Browser != "" {
		merged.Browser = incoming.Browser
	}
	if incoming.Device != "" {
		merged.Device = incoming.Device
	}
	if incoming.TotalTabQuantity > 0 {
		merged.TotalTabQuantity = incoming.TotalTabQuantity
		merged.TotalBackgroundTabQuantity = incoming.TotalBackgroundTabQuantity
		merged.DesktopMode = incoming.DesktopMode
	}
	if incoming.SessionMode != "" {
		merged.SessionMode = incoming.SessionMode
	}

	merged.CreatedAt = r.CreatedAt
	return merged
}

// Peer is a browser-local tab registry entry; it never leaves the
// client but is modeled here so the leader-election rules that
// consume it can be exercised by table-driven tests.
type Peer struct {
	TabID    string
	State    VisibilityState
	LastSeen time.Time
}

// VisibilityState is the coarse foreground/background signal produced
// by the visibility tracker.
type VisibilityState string

const (
	Foreground VisibilityState = "foreground"
	Background VisibilityState = "background"
)

// PeerStale reports whether a peer has not been seen within the
// pruning window (30s per the tab registry contract).
func PeerStale(p Peer, now time.Time) bool {
	return now.Sub(p.LastSeen) > 30*time.Second
}
