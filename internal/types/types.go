// Package types defines the canonical event model shared by the webhook
// handlers, the reconciliation engine, and the side adapters.
//
// Inbound webhook payloads from either side are normalized into a closed set
// of event variants (IssueCreated, IssueEdited, StateChanged, ...) so the
// engine can dispatch each to an independent handler instead of one large
// conditional cascade keyed on raw payload fields.
package types

// Side identifies which tracker an event or identifier belongs to.
type Side string

const (
	// SideLinear is the team-side tracker (tickets, teams, cycles/projects).
	SideLinear Side = "linear"
	// SideGitHub is the repo-side tracker (issues, milestones, labels).
	SideGitHub Side = "github"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLinear {
		return SideGitHub
	}
	return SideLinear
}

// Actor is the user that caused an event, in that side's identity space.
type Actor struct {
	ID    string // Linear user UUID or GitHub numeric ID as string
	Login string // GitHub login (empty for Linear actors)
	Name  string // Display name, when the payload carries one
	Email string
}

// Label is a label reference as it appeared in a webhook payload.
// Linear payloads carry IDs (names are fetched lazily); GitHub payloads
// carry names directly.
type Label struct {
	ID   string
	Name string
}

// CloseReason buckets the reason an item was closed.
type CloseReason string

const (
	CloseDone     CloseReason = "done"
	CloseCanceled CloseReason = "canceled"
	// CloseNone means the item is open (or was reopened).
	CloseNone CloseReason = ""
)
