package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	gh "github.com/google/go-github/v57/github"

	"github.com/syncfork/ticketbridge/internal/types"
)

// RepoRef identifies the repository a delivery belongs to. The HTTP
// layer extracts it before signature validation, because each sync has
// its own webhook secret and the repo picks which one applies.
type RepoRef struct {
	ID       int64
	FullName string
}

// RepoFromBody pulls the repository identity out of a raw delivery.
func RepoFromBody(body []byte) (*RepoRef, error) {
	var probe struct {
		Repository *struct {
			ID       int64  `json:"id"`
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode delivery: %w", err)
	}
	if probe.Repository == nil {
		return nil, fmt.Errorf("delivery has no repository")
	}
	return &RepoRef{ID: probe.Repository.ID, FullName: probe.Repository.FullName}, nil
}

// ValidateSignature checks the X-Hub-Signature-256 header against the
// raw body using the sync's webhook secret.
func ValidateSignature(r *http.Request, body, secret []byte) error {
	sig := r.Header.Get(gh.SHA256SignatureHeader)
	if sig == "" {
		sig = r.Header.Get(gh.SHA1SignatureHeader)
	}
	return gh.ValidateSignature(sig, body, secret)
}

// Normalize parses one delivery and flattens it into zero or more
// events. Event types and actions the sync does not track normalize to
// nothing.
func Normalize(eventType string, body []byte, deliveryID string) ([]types.Event, error) {
	payload, err := gh.ParseWebHook(eventType, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s delivery: %w", eventType, err)
	}

	switch ev := payload.(type) {
	case *gh.IssuesEvent:
		return normalizeIssuesEvent(ev, deliveryID), nil
	case *gh.IssueCommentEvent:
		return normalizeCommentEvent(ev, deliveryID), nil
	case *gh.MilestoneEvent:
		return normalizeMilestoneEvent(ev, deliveryID), nil
	default:
		return nil, nil
	}
}

func actorFrom(sender *gh.User) types.Actor {
	if sender == nil {
		return types.Actor{}
	}
	return types.Actor{
		ID:    strconv.FormatInt(sender.GetID(), 10),
		Login: sender.GetLogin(),
		Name:  sender.GetName(),
	}
}

func issueEventMeta(kind types.EventKind, sender *gh.User, repo *gh.Repository, issue *gh.Issue, deliveryID string) types.EventMeta {
	meta := types.EventMeta{
		Side:       types.SideGitHub,
		Kind:       kind,
		Actor:      actorFrom(sender),
		DeliveryID: deliveryID,
	}
	if repo != nil {
		meta.RepoID = repo.GetID()
		meta.RepoFullName = repo.GetFullName()
	}
	if issue != nil {
		meta.IssueNumber = issue.GetNumber()
		meta.IssueID = issue.GetID()
	}
	return meta
}

func closeReasonFrom(issue *gh.Issue) types.CloseReason {
	switch issue.GetStateReason() {
	case "not_planned":
		return types.CloseCanceled
	case "completed":
		return types.CloseDone
	default:
		return types.CloseNone
	}
}

func normalizeIssuesEvent(ev *gh.IssuesEvent, deliveryID string) []types.Event {
	issue := ev.GetIssue()
	if issue == nil || issue.IsPullRequest() {
		return nil
	}

	meta := func(kind types.EventKind) types.EventMeta {
		return issueEventMeta(kind, ev.GetSender(), ev.GetRepo(), issue, deliveryID)
	}

	switch ev.GetAction() {
	case "opened":
		created := &types.IssueCreated{
			EventMeta: meta(types.EventIssueCreated),
			Title:     issue.GetTitle(),
			Body:      issue.GetBody(),
			StateID:   issue.GetState(),
		}
		for _, l := range issue.Labels {
			created.Labels = append(created.Labels, types.Label{Name: l.GetName()})
		}
		if len(issue.Assignees) > 0 {
			created.AssigneeID = issue.Assignees[0].GetLogin()
		}
		return []types.Event{created}

	case "edited":
		edited := &types.IssueEdited{EventMeta: meta(types.EventIssueEdited)}
		changes := ev.GetChanges()
		if changes != nil && changes.Title != nil {
			title := issue.GetTitle()
			edited.Title = &title
		}
		if changes != nil && changes.Body != nil {
			body := issue.GetBody()
			edited.Body = &body
		}
		if edited.Title == nil && edited.Body == nil {
			return nil
		}
		return []types.Event{edited}

	case "closed":
		return []types.Event{&types.StateChanged{
			EventMeta: meta(types.EventStateChanged),
			State:     "closed",
			Reason:    closeReasonFrom(issue),
		}}

	case "reopened":
		return []types.Event{&types.StateChanged{
			EventMeta: meta(types.EventStateChanged),
			State:     "open",
		}}

	case "labeled":
		return []types.Event{&types.LabelAdded{
			EventMeta: meta(types.EventLabelAdded),
			Label:     types.Label{Name: ev.GetLabel().GetName()},
		}}

	case "unlabeled":
		return []types.Event{&types.LabelRemoved{
			EventMeta: meta(types.EventLabelRemoved),
			Label:     types.Label{Name: ev.GetLabel().GetName()},
		}}

	case "assigned", "unassigned":
		changed := &types.AssigneeChanged{EventMeta: meta(types.EventAssigneeChanged)}
		if len(issue.Assignees) > 0 {
			changed.AssigneeID = issue.Assignees[0].GetLogin()
		}
		if ev.Assignee != nil && ev.GetAction() == "unassigned" {
			changed.PrevAssigneeID = ev.Assignee.GetLogin()
		}
		return []types.Event{changed}

	case "milestoned":
		ms := issue.GetMilestone()
		if ms == nil {
			return nil
		}
		linked := &types.MilestoneLinked{
			EventMeta:   meta(types.EventMilestoneLinked),
			Number:      ms.GetNumber(),
			Title:       ms.GetTitle(),
			Description: ms.GetDescription(),
		}
		if ms.DueOn != nil {
			t := ms.DueOn.Time
			linked.DueDate = &t
		}
		return []types.Event{linked}

	case "demilestoned":
		unlinked := &types.MilestoneLinked{
			EventMeta: meta(types.EventMilestoneLinked),
			Unlinked:  true,
		}
		if ms := ev.GetMilestone(); ms != nil {
			unlinked.Number = ms.GetNumber()
			unlinked.Title = ms.GetTitle()
		}
		return []types.Event{unlinked}

	default:
		return nil
	}
}

func normalizeCommentEvent(ev *gh.IssueCommentEvent, deliveryID string) []types.Event {
	issue := ev.GetIssue()
	comment := ev.GetComment()
	if issue == nil || comment == nil || issue.IsPullRequest() {
		return nil
	}

	var kind types.EventKind
	switch ev.GetAction() {
	case "created":
		kind = types.EventCommentCreated
	case "edited":
		kind = types.EventCommentEdited
	default:
		return nil
	}

	meta := issueEventMeta(kind, ev.GetSender(), ev.GetRepo(), issue, deliveryID)
	// The comment author, not the delivery sender, is the actor that
	// matters for echo suppression.
	if comment.User != nil {
		meta.Actor = actorFrom(comment.User)
	}

	commentID := strconv.FormatInt(comment.GetID(), 10)
	if kind == types.EventCommentCreated {
		return []types.Event{&types.CommentCreated{
			EventMeta: meta,
			CommentID: commentID,
			Body:      comment.GetBody(),
		}}
	}
	return []types.Event{&types.CommentEdited{
		EventMeta: meta,
		CommentID: commentID,
		Body:      comment.GetBody(),
	}}
}

func normalizeMilestoneEvent(ev *gh.MilestoneEvent, deliveryID string) []types.Event {
	if ev.GetAction() != "created" {
		return nil
	}
	ms := ev.GetMilestone()
	if ms == nil {
		return nil
	}
	linked := &types.MilestoneLinked{
		EventMeta:   issueEventMeta(types.EventMilestoneLinked, ev.GetSender(), ev.GetRepo(), nil, deliveryID),
		Number:      ms.GetNumber(),
		Title:       ms.GetTitle(),
		Description: ms.GetDescription(),
	}
	if ms.DueOn != nil {
		t := ms.DueOn.Time
		linked.DueDate = &t
	}
	return []types.Event{linked}
}
