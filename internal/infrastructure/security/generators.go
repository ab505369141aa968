// Package security provides secure random generation utilities
package security

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenerateULID generates a new ULID string, used wherever a
// server-minted id benefits from sorting lexicographically by
// creation time rather than being opaque.
func GenerateULID() string {
	return ulid.Make().String()
}

// GenerateConnectionID generates a UUID used only to tag a websocket
// connection for trace-channel logging; it never appears in a
// presence record and carries no ordering guarantee.
func GenerateConnectionID() string {
	return uuid.NewString()
}
