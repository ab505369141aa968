package presence

import (
	"sort"
	"time"
)

// ElectLeader resolves a leader-election round to the winning tabId.
// The rule is deterministic: the lexicographically smallest tabId
// among foreground candidates wins; if no candidate is foreground,
// the smallest among all candidates wins; an empty candidate set has
// no winner.
func ElectLeader(candidates []Peer) (tabID string, ok bool) {
	if len(candidates) == 0 {
		return "", false
	}

	foreground := make([]Peer, 0, len(candidates))
	for _, c := range candidates {
		if c.State == Foreground {
			foreground = append(foreground, c)
		}
	}

	pool := candidates
	if len(foreground) > 0 {
		pool = foreground
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].TabID < pool[j].TabID })
	return pool[0].TabID, true
}

// PrunePeers drops peers unseen for more than 30s, per the tab
// registry contract.
func PrunePeers(peers map[string]Peer, now time.Time) {
	for id, p := range peers {
		if PeerStale(p, now) {
			delete(peers, id)
		}
	}
}

// TabCounts is the total/background tab tally a JOIN payload carries
// so the server does not have to infer fleet shape from one tab.
type TabCounts struct {
	Total      int
	Background int
}

// CountTabs derives TabCounts from a peer map plus the local tab's
// own state (the local tab is never a member of its own peer map).
func CountTabs(peers map[string]Peer, selfState VisibilityState) TabCounts {
	total := 1
	background := 0
	if selfState == Background {
		background++
	}
	for _, p := range peers {
		total++
		if p.State == Background {
			background++
		}
	}
	return TabCounts{Total: total, Background: background}
}
