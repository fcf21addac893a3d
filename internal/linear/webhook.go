package linear

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"

	"github.com/syncfork/ticketbridge/internal/types"
)

// DefaultWebhookIPs are the documented source addresses for Linear
// webhook deliveries. Requests from other addresses are rejected.
var DefaultWebhookIPs = []string{
	"35.231.147.226",
	"35.243.134.228",
}

// IPAllowed reports whether remoteAddr (a host or host:port) is in the
// allowlist. Entries may be plain addresses or CIDR prefixes.
func IPAllowed(remoteAddr string, allowed []string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, entry := range allowed {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(entry); err == nil && other == addr {
			return true
		}
	}
	return false
}

// Payload is one Linear webhook delivery, decoded far enough to dispatch.
type Payload struct {
	Action         string          `json:"action"` // "create", "update", "remove"
	Type           string          `json:"type"`   // "Issue", "Comment", ...
	OrganizationID string          `json:"organizationId"`
	WebhookID      string          `json:"webhookId"`
	Actor          *payloadActor   `json:"actor"`
	Data           json.RawMessage `json:"data"`
	UpdatedFrom    json.RawMessage `json:"updatedFrom"`
}

type payloadActor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type issueData struct {
	ID          string   `json:"id"`
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Estimate    float64  `json:"estimate"`
	TeamID      string   `json:"teamId"`
	StateID     string   `json:"stateId"`
	AssigneeID  string   `json:"assigneeId"`
	CreatorID   string   `json:"creatorId"`
	LabelIDs    []string `json:"labelIds"`
	CycleID     string   `json:"cycleId"`
	ProjectID   string   `json:"projectId"`
	Labels      []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"labels"`
}

type commentData struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	IssueID string `json:"issueId"`
	UserID  string `json:"userId"`
	Issue   *struct {
		ID     string `json:"id"`
		TeamID string `json:"teamId"`
	} `json:"issue"`
}

// ParsePayload decodes a webhook body. It does not validate the sender;
// the HTTP layer checks the source address first.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("webhook payload missing type")
	}
	return &p, nil
}

// Normalize flattens a delivery into zero or more events. A payload that
// touches several fields at once yields one event per field change, so
// downstream handling stays a flat dispatch. Entity types the sync does
// not track normalize to nothing.
func Normalize(p *Payload, deliveryID string) ([]types.Event, error) {
	switch p.Type {
	case "Issue":
		return normalizeIssue(p, deliveryID)
	case "Comment":
		return normalizeComment(p, deliveryID)
	default:
		return nil, nil
	}
}

func (p *Payload) actor() types.Actor {
	if p.Actor == nil {
		return types.Actor{}
	}
	return types.Actor{ID: p.Actor.ID, Name: p.Actor.Name, Email: p.Actor.Email}
}

func issueMeta(p *Payload, d *issueData, kind types.EventKind, deliveryID string) types.EventMeta {
	actor := p.actor()
	if actor.ID == "" {
		actor.ID = d.CreatorID
	}
	return types.EventMeta{
		Side:         types.SideLinear,
		Kind:         kind,
		Actor:        actor,
		TicketID:     d.ID,
		TicketNumber: d.Number,
		TeamID:       d.TeamID,
		DeliveryID:   deliveryID,
	}
}

func (d *issueData) labelName(id string) string {
	for _, l := range d.Labels {
		if l.ID == id {
			return l.Name
		}
	}
	return ""
}

func (d *issueData) typedLabels() []types.Label {
	labels := make([]types.Label, 0, len(d.LabelIDs))
	for _, id := range d.LabelIDs {
		labels = append(labels, types.Label{ID: id, Name: d.labelName(id)})
	}
	return labels
}

func normalizeIssue(p *Payload, deliveryID string) ([]types.Event, error) {
	var d issueData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode issue data: %w", err)
	}

	switch p.Action {
	case "create":
		ev := &types.IssueCreated{
			EventMeta:  issueMeta(p, &d, types.EventIssueCreated, deliveryID),
			Title:      d.Title,
			Body:       d.Description,
			Labels:     d.typedLabels(),
			AssigneeID: d.AssigneeID,
			Priority:   d.Priority,
			Estimate:   int(d.Estimate),
			StateID:    d.StateID,
		}
		return []types.Event{ev}, nil

	case "update":
		prev := map[string]json.RawMessage{}
		if len(p.UpdatedFrom) > 0 {
			if err := json.Unmarshal(p.UpdatedFrom, &prev); err != nil {
				return nil, fmt.Errorf("failed to decode updatedFrom: %w", err)
			}
		}
		return normalizeIssueUpdate(p, &d, prev, deliveryID), nil

	default:
		// Deletions do not propagate; the mirror survives until the
		// public marker is removed explicitly.
		return nil, nil
	}
}

func normalizeIssueUpdate(p *Payload, d *issueData, prev map[string]json.RawMessage, deliveryID string) []types.Event {
	var events []types.Event

	_, titleChanged := prev["title"]
	_, bodyChanged := prev["description"]
	if titleChanged || bodyChanged {
		ev := &types.IssueEdited{EventMeta: issueMeta(p, d, types.EventIssueEdited, deliveryID)}
		if titleChanged {
			ev.Title = &d.Title
		}
		if bodyChanged {
			ev.Body = &d.Description
		}
		events = append(events, ev)
	}

	if _, ok := prev["stateId"]; ok {
		events = append(events, &types.StateChanged{
			EventMeta: issueMeta(p, d, types.EventStateChanged, deliveryID),
			StateID:   d.StateID,
		})
	}
	if _, ok := prev["priority"]; ok {
		events = append(events, &types.PriorityChanged{
			EventMeta: issueMeta(p, d, types.EventPriorityChanged, deliveryID),
			Priority:  d.Priority,
		})
	}
	if _, ok := prev["estimate"]; ok {
		events = append(events, &types.EstimateChanged{
			EventMeta: issueMeta(p, d, types.EventEstimateChanged, deliveryID),
			Estimate:  int(d.Estimate),
		})
	}
	if raw, ok := prev["assigneeId"]; ok {
		var prevID string
		_ = json.Unmarshal(raw, &prevID)
		events = append(events, &types.AssigneeChanged{
			EventMeta:      issueMeta(p, d, types.EventAssigneeChanged, deliveryID),
			AssigneeID:     d.AssigneeID,
			PrevAssigneeID: prevID,
		})
	}
	if raw, ok := prev["labelIds"]; ok {
		var prevIDs []string
		_ = json.Unmarshal(raw, &prevIDs)
		events = append(events, diffLabels(p, d, prevIDs, deliveryID)...)
	}
	if raw, ok := prev["cycleId"]; ok {
		events = append(events, milestoneEvent(p, d, raw, d.CycleID, deliveryID))
	}
	if raw, ok := prev["projectId"]; ok {
		events = append(events, milestoneEvent(p, d, raw, d.ProjectID, deliveryID))
	}
	return events
}

func diffLabels(p *Payload, d *issueData, prevIDs []string, deliveryID string) []types.Event {
	prevSet := make(map[string]bool, len(prevIDs))
	for _, id := range prevIDs {
		prevSet[id] = true
	}
	curSet := make(map[string]bool, len(d.LabelIDs))
	for _, id := range d.LabelIDs {
		curSet[id] = true
	}

	var events []types.Event
	for _, id := range d.LabelIDs {
		if !prevSet[id] {
			events = append(events, &types.LabelAdded{
				EventMeta: issueMeta(p, d, types.EventLabelAdded, deliveryID),
				Label:     types.Label{ID: id, Name: d.labelName(id)},
			})
		}
	}
	for _, id := range prevIDs {
		if !curSet[id] {
			events = append(events, &types.LabelRemoved{
				EventMeta: issueMeta(p, d, types.EventLabelRemoved, deliveryID),
				Label:     types.Label{ID: id, Name: d.labelName(id)},
			})
		}
	}
	return events
}

func milestoneEvent(p *Payload, d *issueData, prevRaw json.RawMessage, currentID, deliveryID string) types.Event {
	ev := &types.MilestoneLinked{
		EventMeta:   issueMeta(p, d, types.EventMilestoneLinked, deliveryID),
		MilestoneID: currentID,
	}
	if currentID == "" {
		var prevID string
		_ = json.Unmarshal(prevRaw, &prevID)
		ev.MilestoneID = prevID
		ev.Unlinked = true
	}
	return ev
}

func normalizeComment(p *Payload, deliveryID string) ([]types.Event, error) {
	var d commentData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode comment data: %w", err)
	}
	issueID := d.IssueID
	teamID := ""
	if d.Issue != nil {
		if issueID == "" {
			issueID = d.Issue.ID
		}
		teamID = d.Issue.TeamID
	}
	actor := p.actor()
	if actor.ID == "" {
		actor.ID = d.UserID
	}
	meta := types.EventMeta{
		Side:       types.SideLinear,
		Actor:      actor,
		TicketID:   issueID,
		TeamID:     teamID,
		DeliveryID: deliveryID,
	}

	switch p.Action {
	case "create":
		meta.Kind = types.EventCommentCreated
		return []types.Event{&types.CommentCreated{EventMeta: meta, CommentID: d.ID, Body: d.Body}}, nil
	case "update":
		meta.Kind = types.EventCommentEdited
		return []types.Event{&types.CommentEdited{EventMeta: meta, CommentID: d.ID, Body: d.Body}}, nil
	default:
		return nil, nil
	}
}
