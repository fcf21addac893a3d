// Package loopguard decides whether an inbound event is an echo of this
// system's own prior propagation. Echoes must be dropped before any
// outbound call is made, or the two trackers ping-pong forever.
package loopguard

import (
	"fmt"

	"github.com/syncfork/ticketbridge/internal/content"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

// Decision is the result of an echo check. Pure data; no side effects.
type Decision struct {
	Echo   bool
	Reason string
}

// Check applies the echo rules in order:
//
//  1. The acting user is this system's own bot identity on that side.
//  2. A content-bearing event (issue/comment create or edit) whose body
//     carries the sync-footer marker.
//  3. A milestone/cycle creation whose description carries the marker —
//     the counterpart was created by this system and is linked on the
//     first real state-changing event, not on creation.
//
// Absence of a signal means "not an echo"; Check never fails.
func Check(ev types.Event, sync *store.Sync) Decision {
	meta := ev.Meta()

	if botID := botIdentity(meta.Side, sync); botID != "" && actorMatches(meta.Actor, botID) {
		return Decision{Echo: true, Reason: fmt.Sprintf("event actor %q is the sync bot", botID)}
	}

	if body, ok := contentOf(ev); ok && content.HasFooter(body) {
		return Decision{Echo: true, Reason: "content carries the sync footer marker"}
	}

	if m, ok := ev.(*types.MilestoneLinked); ok && !m.Unlinked && content.HasFooter(m.Description) {
		return Decision{Echo: true, Reason: "milestone description carries the sync footer marker"}
	}

	return Decision{}
}

func botIdentity(side types.Side, sync *store.Sync) string {
	if sync == nil {
		return ""
	}
	if side == types.SideLinear {
		return sync.LinearBotID
	}
	return sync.GitHubBotLogin
}

func actorMatches(actor types.Actor, botID string) bool {
	return actor.ID == botID || (actor.Login != "" && actor.Login == botID)
}

// contentOf returns the body of content-bearing event variants.
func contentOf(ev types.Event) (string, bool) {
	switch e := ev.(type) {
	case *types.IssueCreated:
		return e.Body, true
	case *types.IssueEdited:
		if e.Body != nil {
			return *e.Body, true
		}
		if e.Title != nil {
			return *e.Title, true
		}
		return "", false
	case *types.CommentCreated:
		return e.Body, true
	case *types.CommentEdited:
		return e.Body, true
	default:
		return "", false
	}
}
