package loopguard

import (
	"testing"

	"github.com/syncfork/ticketbridge/internal/content"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

var testSync = &store.Sync{
	LinearBotID:    "bot-uuid",
	GitHubBotLogin: "ticketbridge[bot]",
}

func strPtr(s string) *string { return &s }

func TestCheckBotActor(t *testing.T) {
	tests := []struct {
		name string
		ev   types.Event
		echo bool
	}{
		{
			"linear bot actor",
			&types.CommentCreated{EventMeta: types.EventMeta{Side: types.SideLinear, Actor: types.Actor{ID: "bot-uuid"}}, Body: "hi"},
			true,
		},
		{
			"github bot login",
			&types.IssueEdited{EventMeta: types.EventMeta{Side: types.SideGitHub, Actor: types.Actor{Login: "ticketbridge[bot]"}}, Title: strPtr("t")},
			true,
		},
		{
			"ordinary user",
			&types.CommentCreated{EventMeta: types.EventMeta{Side: types.SideLinear, Actor: types.Actor{ID: "user-1"}}, Body: "hi"},
			false,
		},
		{
			"github login does not match linear bot",
			&types.CommentCreated{EventMeta: types.EventMeta{Side: types.SideGitHub, Actor: types.Actor{Login: "someone"}}, Body: "hi"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Check(tt.ev, testSync)
			if d.Echo != tt.echo {
				t.Errorf("Check().Echo = %v (%s), want %v", d.Echo, d.Reason, tt.echo)
			}
		})
	}
}

func TestCheckFooterMarker(t *testing.T) {
	footered := content.AppendFooter("propagated text", content.FooterInfo{Origin: types.SideLinear})

	ev := &types.CommentEdited{
		EventMeta: types.EventMeta{Side: types.SideGitHub, Actor: types.Actor{Login: "someone"}},
		Body:      footered,
	}
	if d := Check(ev, testSync); !d.Echo {
		t.Error("footered comment edit not detected as echo")
	}

	// State changes carry no content and are never footer echoes.
	sc := &types.StateChanged{EventMeta: types.EventMeta{Side: types.SideGitHub, Actor: types.Actor{Login: "someone"}}}
	if d := Check(sc, testSync); d.Echo {
		t.Errorf("state change flagged as echo: %s", d.Reason)
	}
}

func TestCheckMilestoneCreation(t *testing.T) {
	desc := content.AppendFooter("Cycle 12", content.FooterInfo{Origin: types.SideLinear})

	linked := &types.MilestoneLinked{
		EventMeta:   types.EventMeta{Side: types.SideGitHub, Actor: types.Actor{Login: "someone"}},
		Description: desc,
	}
	if d := Check(linked, testSync); !d.Echo {
		t.Error("system-created milestone not detected as echo")
	}

	// Unlink events propagate even when the description carries the marker.
	unlinked := &types.MilestoneLinked{
		EventMeta:   types.EventMeta{Side: types.SideGitHub, Actor: types.Actor{Login: "someone"}},
		Description: desc,
		Unlinked:    true,
	}
	if d := Check(unlinked, testSync); d.Echo {
		t.Errorf("milestone unlink flagged as echo: %s", d.Reason)
	}
}

func TestCheckNilSync(t *testing.T) {
	ev := &types.CommentCreated{EventMeta: types.EventMeta{Side: types.SideLinear, Actor: types.Actor{ID: "u"}}, Body: "x"}
	if d := Check(ev, nil); d.Echo {
		t.Errorf("nil sync flagged as echo: %s", d.Reason)
	}
}
