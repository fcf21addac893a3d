package linear

import (
	"testing"

	"github.com/syncfork/ticketbridge/internal/types"
)

func TestIPAllowed(t *testing.T) {
	allowed := []string{"35.231.147.226", "10.0.0.0/8"}

	tests := []struct {
		remote string
		want   bool
	}{
		{"35.231.147.226:443", true},
		{"35.231.147.226", true},
		{"10.1.2.3:8080", true},
		{"35.243.134.228:443", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := IPAllowed(tt.remote, allowed); got != tt.want {
			t.Errorf("IPAllowed(%q) = %v, want %v", tt.remote, got, tt.want)
		}
	}
}

func TestNormalizeIssueCreate(t *testing.T) {
	body := []byte(`{
		"action": "create",
		"type": "Issue",
		"actor": {"id": "usr-1", "name": "Ada"},
		"data": {
			"id": "iss-1", "number": 42, "teamId": "team-1",
			"title": "Crash on save", "description": "Steps to reproduce",
			"priority": 2, "estimate": 3, "stateId": "st-todo",
			"assigneeId": "usr-2",
			"labelIds": ["lbl-pub", "lbl-bug"],
			"labels": [{"id": "lbl-pub", "name": "Public"}, {"id": "lbl-bug", "name": "bug"}]
		}
	}`)
	p, err := ParsePayload(body)
	if err != nil {
		t.Fatal(err)
	}
	events, err := Normalize(p, "dlv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev, ok := events[0].(*types.IssueCreated)
	if !ok {
		t.Fatalf("got %T, want *types.IssueCreated", events[0])
	}
	if ev.Side != types.SideLinear || ev.TicketID != "iss-1" || ev.TicketNumber != 42 {
		t.Errorf("meta = %+v", ev.EventMeta)
	}
	if ev.Title != "Crash on save" || ev.Priority != 2 || ev.Estimate != 3 {
		t.Errorf("fields = %+v", ev)
	}
	if len(ev.Labels) != 2 || ev.Labels[0].Name != "Public" {
		t.Errorf("labels = %+v", ev.Labels)
	}
	if ev.Actor.ID != "usr-1" {
		t.Errorf("actor = %+v", ev.Actor)
	}
}

func TestNormalizeIssueUpdateSplitsFields(t *testing.T) {
	body := []byte(`{
		"action": "update",
		"type": "Issue",
		"data": {
			"id": "iss-1", "number": 42, "teamId": "team-1",
			"title": "New title", "description": "New body",
			"priority": 1, "stateId": "st-done",
			"labelIds": ["lbl-bug", "lbl-new"],
			"labels": [{"id": "lbl-bug", "name": "bug"}, {"id": "lbl-new", "name": "regression"}]
		},
		"updatedFrom": {
			"title": "Old title",
			"stateId": "st-todo",
			"priority": 3,
			"labelIds": ["lbl-bug", "lbl-old"]
		}
	}`)
	p, err := ParsePayload(body)
	if err != nil {
		t.Fatal(err)
	}
	events, err := Normalize(p, "dlv-2")
	if err != nil {
		t.Fatal(err)
	}

	kinds := map[types.EventKind]int{}
	for _, ev := range events {
		kinds[ev.Meta().Kind]++
	}
	want := map[types.EventKind]int{
		types.EventIssueEdited:     1,
		types.EventStateChanged:    1,
		types.EventPriorityChanged: 1,
		types.EventLabelAdded:      1,
		types.EventLabelRemoved:    1,
	}
	for k, n := range want {
		if kinds[k] != n {
			t.Errorf("kind %s: got %d, want %d", k, kinds[k], n)
		}
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}

	for _, ev := range events {
		switch e := ev.(type) {
		case *types.IssueEdited:
			if e.Title == nil || *e.Title != "New title" {
				t.Errorf("edited title = %v", e.Title)
			}
			if e.Body != nil {
				t.Errorf("body should be unchanged, got %v", *e.Body)
			}
		case *types.StateChanged:
			if e.StateID != "st-done" {
				t.Errorf("stateId = %s", e.StateID)
			}
		case *types.LabelAdded:
			if e.Label.ID != "lbl-new" || e.Label.Name != "regression" {
				t.Errorf("added = %+v", e.Label)
			}
		case *types.LabelRemoved:
			if e.Label.ID != "lbl-old" {
				t.Errorf("removed = %+v", e.Label)
			}
			// Removed labels are absent from the current payload, so
			// only the ID survives normalization.
			if e.Label.Name != "" {
				t.Errorf("removed name = %q", e.Label.Name)
			}
		}
	}
}

func TestNormalizeAssigneeCleared(t *testing.T) {
	body := []byte(`{
		"action": "update",
		"type": "Issue",
		"data": {"id": "iss-1", "number": 7, "teamId": "team-1"},
		"updatedFrom": {"assigneeId": "usr-2"}
	}`)
	p, _ := ParsePayload(body)
	events, err := Normalize(p, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0].(*types.AssigneeChanged)
	if ev.AssigneeID != "" || ev.PrevAssigneeID != "usr-2" {
		t.Errorf("assignee = %+v", ev)
	}
}

func TestNormalizeCycleUnlink(t *testing.T) {
	body := []byte(`{
		"action": "update",
		"type": "Issue",
		"data": {"id": "iss-1", "number": 7, "teamId": "team-1"},
		"updatedFrom": {"cycleId": "cyc-1"}
	}`)
	p, _ := ParsePayload(body)
	events, err := Normalize(p, "")
	if err != nil {
		t.Fatal(err)
	}
	ev := events[0].(*types.MilestoneLinked)
	if !ev.Unlinked || ev.MilestoneID != "cyc-1" {
		t.Errorf("milestone = %+v", ev)
	}
}

func TestNormalizeComment(t *testing.T) {
	body := []byte(`{
		"action": "create",
		"type": "Comment",
		"data": {"id": "cmt-1", "body": "Looks good", "issueId": "iss-1", "userId": "usr-3"}
	}`)
	p, err := ParsePayload(body)
	if err != nil {
		t.Fatal(err)
	}
	events, err := Normalize(p, "dlv-3")
	if err != nil {
		t.Fatal(err)
	}
	ev := events[0].(*types.CommentCreated)
	if ev.CommentID != "cmt-1" || ev.TicketID != "iss-1" || ev.Body != "Looks good" {
		t.Errorf("comment = %+v", ev)
	}
	if ev.Actor.ID != "usr-3" {
		t.Errorf("actor fallback = %+v", ev.Actor)
	}
}

func TestNormalizeIgnoresUntrackedTypes(t *testing.T) {
	p, err := ParsePayload([]byte(`{"action": "create", "type": "Reaction", "data": {}}`))
	if err != nil {
		t.Fatal(err)
	}
	events, err := Normalize(p, "")
	if err != nil || events != nil {
		t.Errorf("got %v, %v", events, err)
	}
}

func TestNormalizeIssueRemoveIsNoop(t *testing.T) {
	p, err := ParsePayload([]byte(`{"action": "remove", "type": "Issue", "data": {"id": "iss-1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	events, err := Normalize(p, "")
	if err != nil || len(events) != 0 {
		t.Errorf("got %v, %v", events, err)
	}
}
