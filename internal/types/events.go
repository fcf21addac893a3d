package types

import "time"

// EventKind discriminates the normalized event variants.
type EventKind string

const (
	EventIssueCreated    EventKind = "issue_created"
	EventIssueEdited     EventKind = "issue_edited"
	EventStateChanged    EventKind = "state_changed"
	EventLabelAdded      EventKind = "label_added"
	EventLabelRemoved    EventKind = "label_removed"
	EventAssigneeChanged EventKind = "assignee_changed"
	EventPriorityChanged EventKind = "priority_changed"
	EventEstimateChanged EventKind = "estimate_changed"
	EventMilestoneLinked EventKind = "milestone_linked"
	EventCommentCreated  EventKind = "comment_created"
	EventCommentEdited   EventKind = "comment_edited"
	EventUnlinked        EventKind = "unlinked"
)

// EventMeta carries the fields common to every normalized event.
// Only the identifiers for the originating side are guaranteed to be set;
// the engine resolves the counterpart through the correspondence store.
type EventMeta struct {
	Side  Side
	Kind  EventKind
	Actor Actor

	// Linear-side identity (set when Side == SideLinear).
	TicketID     string // Linear issue UUID
	TicketNumber int    // numeric part of "TEAM-123"
	TeamID       string

	// GitHub-side identity (set when Side == SideGitHub).
	IssueNumber  int
	IssueID      int64
	RepoID       int64
	RepoFullName string

	// DeliveryID is the webhook delivery identifier, for log correlation.
	DeliveryID string
}

// Event is the closed union of normalized webhook events.
// Each variant embeds EventMeta; the engine dispatches on Meta().Kind.
type Event interface {
	Meta() *EventMeta
}

func (m *EventMeta) Meta() *EventMeta { return m }

// IssueCreated fires when an item first crosses the sync boundary: the
// public marker label was added to a Linear ticket, or a GitHub issue was
// opened (or labeled into the sync).
type IssueCreated struct {
	EventMeta
	Title      string
	Body       string
	Labels     []Label
	AssigneeID string // origin-side assignee identifier, "" when unassigned
	Priority   int    // Linear priority bucket (0 = none ... 4 = low)
	Estimate   int    // Linear estimate points, 0 when unset
	StateID    string // Linear workflow state id, or GitHub "open"/"closed"

	// FromLabelTrigger is true when creation was triggered by adding the
	// public marker label to an existing item. Only then is existing comment
	// history backfilled onto the counterpart.
	FromLabelTrigger bool
}

// IssueEdited carries title/description changes. Nil pointer means the
// field did not change in this delivery.
type IssueEdited struct {
	EventMeta
	Title *string
	Body  *string
}

// StateChanged carries a workflow state transition.
type StateChanged struct {
	EventMeta
	StateID string      // Linear workflow state id (Linear origin)
	State   string      // "open" or "closed" (GitHub origin)
	Reason  CloseReason // close reason bucket (GitHub maps state_reason)
}

// LabelAdded and LabelRemoved carry exactly one label each; a payload that
// changes several labels is normalized into several events.
type LabelAdded struct {
	EventMeta
	Label Label
}

type LabelRemoved struct {
	EventMeta
	Label Label
}

// AssigneeChanged carries the new assignee ("" means unassigned) and the
// prior one when the payload supplies it.
type AssigneeChanged struct {
	EventMeta
	AssigneeID     string
	PrevAssigneeID string
}

// PriorityChanged carries the new Linear priority bucket.
type PriorityChanged struct {
	EventMeta
	Priority int
}

// EstimateChanged carries the new Linear estimate in points (0 clears it).
type EstimateChanged struct {
	EventMeta
	Estimate int
}

// MilestoneLinked fires when an item is attached to (or detached from) a
// cycle/project on the Linear side or a milestone on the GitHub side.
type MilestoneLinked struct {
	EventMeta
	MilestoneID string // Linear cycle/project UUID
	Number      int    // GitHub milestone number (GitHub origin)
	Title       string
	Description string
	DueDate     *time.Time
	Unlinked    bool
}

// CommentCreated carries a new comment on a synced item.
type CommentCreated struct {
	EventMeta
	CommentID string // origin-side comment id
	Body      string
}

// CommentEdited carries an edit to an existing comment.
type CommentEdited struct {
	EventMeta
	CommentID string
	Body      string
}

// Unlinked fires when the public marker label is removed from a Linear
// ticket: the correspondence row is deleted and propagation stops.
type Unlinked struct {
	EventMeta
}
