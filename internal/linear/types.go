package linear

import (
	"time"

	"github.com/syncfork/ticketbridge/internal/types"
)

// Issue is the slice of a Linear issue the sync reads and writes.
type Issue struct {
	ID          string
	Identifier  string // "ENG-123"
	Number      int
	Title       string
	Description string
	Priority    int
	Estimate    int
	StateID     string
	AssigneeID  string
	TeamID      string
	TeamKey     string
	Labels      []types.Label
	CycleID     string
	ProjectID   string
	URL         string
}

// LabelIDs returns the IDs of the issue's labels, in API order.
func (i *Issue) LabelIDs() []string {
	ids := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		ids = append(ids, l.ID)
	}
	return ids
}

// HasLabel reports whether the issue carries the given label ID.
func (i *Issue) HasLabel(labelID string) bool {
	for _, l := range i.Labels {
		if l.ID == labelID {
			return true
		}
	}
	return false
}

// IssueCreateInput holds the fields for issueCreate. Pointer fields are
// omitted from the mutation when nil.
type IssueCreateInput struct {
	TeamID      string   `json:"teamId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	StateID     string   `json:"stateId,omitempty"`
	AssigneeID  string   `json:"assigneeId,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	Estimate    *int     `json:"estimate,omitempty"`
	LabelIDs    []string `json:"labelIds,omitempty"`
}

// IssueUpdateInput holds the fields for issueUpdate. Nil means unchanged.
// For AssigneeID, CycleID, and ProjectID a pointer to "" clears the field
// (serialized as an explicit null). The client builds the mutation input
// from the non-nil fields only.
type IssueUpdateInput struct {
	Title       *string
	Description *string
	StateID     *string
	AssigneeID  *string
	Priority    *int
	Estimate    *int
	LabelIDs    []string
	CycleID     *string
	ProjectID   *string
}

// Comment is a Linear issue comment.
type Comment struct {
	ID      string
	Body    string
	UserID  string
	IssueID string
}

// WorkflowState is one column of a team's workflow.
type WorkflowState struct {
	ID   string
	Name string
	Type string // "triage", "backlog", "unstarted", "started", "completed", "canceled"
}

// Cycle is a Linear cycle, mirrored from a GitHub milestone.
type Cycle struct {
	ID       string
	Number   int
	Name     string
	StartsAt time.Time
	EndsAt   time.Time
}

// Project is a Linear project, mirrored from a "(Project)" milestone.
type Project struct {
	ID   string
	Name string
	URL  string
}
