package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syncfork/ticketbridge/internal/content"
	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/identity"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

func (e *Engine) handleLinearEvent(ctx context.Context, sc *syncContext, ev types.Event) (Outcome, error) {
	switch ev := ev.(type) {
	case *types.IssueCreated:
		return e.linearIssueCreated(ctx, sc, ev)
	case *types.IssueEdited:
		return e.linearIssueEdited(ctx, sc, ev)
	case *types.StateChanged:
		return e.linearStateChanged(ctx, sc, ev)
	case *types.LabelAdded:
		return e.linearLabelAdded(ctx, sc, ev)
	case *types.LabelRemoved:
		return e.linearLabelRemoved(ctx, sc, ev)
	case *types.AssigneeChanged:
		return e.linearAssigneeChanged(ctx, sc, ev)
	case *types.PriorityChanged:
		return e.linearPriorityChanged(ctx, sc, ev)
	case *types.EstimateChanged:
		return e.linearEstimateChanged(ctx, sc, ev)
	case *types.MilestoneLinked:
		return e.linearMilestoneLinked(ctx, sc, ev)
	case *types.CommentCreated:
		return e.linearCommentCreated(ctx, sc, ev)
	case *types.CommentEdited:
		return e.linearCommentEdited(ctx, sc, ev)
	case *types.Unlinked:
		return e.linearUnlinked(ctx, sc, ev)
	default:
		return skipped("unhandled event kind %s", ev.Meta().Kind), nil
	}
}

func (e *Engine) linearIssueCreated(ctx context.Context, sc *syncContext, ev *types.IssueCreated) (Outcome, error) {
	public := ev.FromLabelTrigger
	for _, l := range ev.Labels {
		if l.ID == sc.sync.PublicLabelID {
			public = true
		}
	}
	if !public {
		return skipped("ticket is not public"), nil
	}
	return e.mirrorTicketToGitHub(ctx, sc, &ev.EventMeta, ev.FromLabelTrigger)
}

// mirrorTicketToGitHub creates the GitHub counterpart of a Linear ticket.
// It re-reads the ticket rather than trusting the delivery, so a stale or
// redelivered payload cannot resurrect removed content.
func (e *Engine) mirrorTicketToGitHub(ctx context.Context, sc *syncContext, meta *types.EventMeta, backfill bool) (Outcome, error) {
	if _, err := e.store.GetSyncedIssueByTicket(ctx, sc.sync.LinearTeamID, meta.TicketID); err == nil {
		return skipped("ticket already linked"), nil
	}

	issue, err := sc.ln.FetchIssue(ctx, meta.TicketID)
	if err != nil {
		return Outcome{}, err
	}
	if !issue.HasLabel(sc.sync.PublicLabelID) {
		return skipped("public label no longer present"), nil
	}

	labels := mirrorLabelNames(sc.sync, issue)
	ensureGitHubLabels(ctx, sc, meta, labels)

	var assignees []string
	assigneeNote := ""
	if issue.AssigneeID != "" {
		if login := sc.ids.GitHubLoginFor(ctx, issue.AssigneeID); login != "" {
			assignees = []string{login}
		} else {
			assigneeNote = "; assignee has no mapped account"
		}
	}

	body := sc.xform.ToCounterpart(ctx, issue.Description, content.Options{
		From:        types.SideLinear,
		Attribution: attribution(meta.Actor),
	})

	created, err := sc.gh.CreateIssue(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, github.IssueCreateInput{
		Title:     content.EmbedTicketKey(issue.Identifier, issue.Title),
		Body:      body,
		Labels:    labels,
		Assignees: assignees,
	})
	if err != nil {
		return Outcome{}, err
	}

	row := &store.SyncedIssue{
		SyncID:            sc.sync.ID,
		LinearIssueID:     issue.ID,
		LinearIssueNumber: issue.Number,
		LinearTeamID:      sc.sync.LinearTeamID,
		GitHubIssueID:     created.ID,
		GitHubIssueNumber: created.Number,
		GitHubRepoID:      sc.sync.GitHubRepoID,
	}
	if err := e.store.CreateSyncedIssue(ctx, row); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return Outcome{}, err
		}
		// Another delivery won the creation race. The issue created here
		// is orphaned; leave it for a human, the row stays authoritative.
		logStep(meta, "record correspondence", err)
		assigneeNote += "; lost creation race, the new issue is orphaned"
	}

	// Secondary steps are independent of each other. Each failure is
	// logged and the rest still run.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logStep(meta, "cross-link attachment", sc.ln.CreateAttachment(gctx, issue.ID,
			fmt.Sprintf("GitHub Issue #%d", created.Number), created.HTMLURL))
		return nil
	})
	if state, reason := identity.GitHubStateFor(sc.sync, issue.StateID); state == "closed" {
		g.Go(func() error {
			logStep(meta, "close mirrored issue",
				sc.gh.SetIssueState(gctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, created.Number, state, reason))
			return nil
		})
	}
	_ = g.Wait()

	if backfill {
		e.backfillComments(ctx, sc, meta, issue.ID, created.Number)
	}

	return synced("created issue #%d%s", created.Number, assigneeNote), nil
}

// mirrorLabelNames computes the GitHub label set for a Linear ticket: its
// plain labels minus the public marker, plus the priority and estimate
// family members.
func mirrorLabelNames(sync *store.Sync, issue *linear.Issue) []string {
	var labels []string
	for _, l := range issue.Labels {
		if l.ID == sync.PublicLabelID || l.Name == "" {
			continue
		}
		labels = append(labels, l.Name)
	}
	if p := identity.PriorityLabel(issue.Priority); p != "" {
		labels = append(labels, p)
	}
	if est := identity.EstimateLabel(issue.Estimate); est != "" {
		labels = append(labels, est)
	}
	return labels
}

// ensureGitHubLabels creates missing repo labels concurrently. Failures
// are logged only; GitHub rejects unknown labels on issue creation with
// an auto-create in most setups, and a missing label is cosmetic.
func ensureGitHubLabels(ctx context.Context, sc *syncContext, meta *types.EventMeta, names []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range names {
		name := name
		g.Go(func() error {
			logStep(meta, fmt.Sprintf("ensure label %q", name), sc.ids.EnsureGitHubLabel(gctx, sc.sync, name))
			return nil
		})
	}
	_ = g.Wait()
}

// backfillComments copies pre-existing Linear comments onto a freshly
// linked GitHub issue, oldest first. Runs only on label-triggered links;
// a brand-new ticket has no history.
func (e *Engine) backfillComments(ctx context.Context, sc *syncContext, meta *types.EventMeta, ticketID string, issueNumber int) {
	comments, err := sc.ln.FetchComments(ctx, ticketID)
	if err != nil {
		logStep(meta, "backfill comments", err)
		return
	}
	for _, cmt := range comments {
		if content.HasFooter(cmt.Body) {
			continue
		}
		body := sc.xform.ToCounterpart(ctx, cmt.Body, content.Options{
			From:        types.SideLinear,
			Attribution: e.linearDisplayName(ctx, cmt.UserID),
			CommentID:   cmt.ID,
		})
		_, err := sc.gh.CreateComment(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, issueNumber, body)
		logStep(meta, fmt.Sprintf("backfill comment %s", cmt.ID), err)
	}
}

func (e *Engine) linearDisplayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	if id, err := e.store.GetUserIdentityByLinearID(ctx, userID); err == nil {
		return id.LinearName
	}
	return ""
}

func (e *Engine) linearIssueEdited(ctx context.Context, sc *syncContext, ev *types.IssueEdited) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	var title, body *string
	if ev.Title != nil {
		t := content.EmbedTicketKey(ticketKey(sc.sync, row), *ev.Title)
		title = &t
	}
	if ev.Body != nil {
		b := sc.xform.ToCounterpart(ctx, *ev.Body, content.Options{
			From:        types.SideLinear,
			Attribution: attribution(ev.Actor),
		})
		body = &b
	}
	if err := sc.gh.EditIssue(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, title, body); err != nil {
		return Outcome{}, err
	}
	return synced("updated issue #%d", row.GitHubIssueNumber), nil
}

func (e *Engine) linearStateChanged(ctx context.Context, sc *syncContext, ev *types.StateChanged) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	state, reason := identity.GitHubStateFor(sc.sync, ev.StateID)
	if err := sc.gh.SetIssueState(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, state, reason); err != nil {
		return Outcome{}, err
	}
	return synced("set issue #%d %s", row.GitHubIssueNumber, state), nil
}

func (e *Engine) linearLabelAdded(ctx context.Context, sc *syncContext, ev *types.LabelAdded) (Outcome, error) {
	if ev.Label.ID == sc.sync.PublicLabelID {
		return e.mirrorTicketToGitHub(ctx, sc, &ev.EventMeta, true)
	}

	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	name, err := e.resolveLinearLabelName(ctx, sc, ev.Label)
	if err != nil {
		return Outcome{}, err
	}
	logStep(&ev.EventMeta, fmt.Sprintf("ensure label %q", name), sc.ids.EnsureGitHubLabel(ctx, sc.sync, name))
	if err := sc.gh.AddLabels(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, []string{name}); err != nil {
		return Outcome{}, err
	}
	return synced("added label %q to issue #%d", name, row.GitHubIssueNumber), nil
}

func (e *Engine) linearLabelRemoved(ctx context.Context, sc *syncContext, ev *types.LabelRemoved) (Outcome, error) {
	if ev.Label.ID == sc.sync.PublicLabelID {
		unlinked := &types.Unlinked{EventMeta: ev.EventMeta}
		unlinked.Kind = types.EventUnlinked
		return e.linearUnlinked(ctx, sc, unlinked)
	}

	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	name, err := e.resolveLinearLabelName(ctx, sc, ev.Label)
	if err != nil {
		return Outcome{}, err
	}
	if err := sc.gh.RemoveLabel(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, name); err != nil {
		return Outcome{}, err
	}
	return synced("removed label %q from issue #%d", name, row.GitHubIssueNumber), nil
}

// resolveLinearLabelName fills in the label name when the delivery only
// carried the ID (removals do).
func (e *Engine) resolveLinearLabelName(ctx context.Context, sc *syncContext, label types.Label) (string, error) {
	if label.Name != "" {
		return label.Name, nil
	}
	resolved, err := sc.ln.FetchLabel(ctx, label.ID)
	if err != nil {
		return "", err
	}
	return resolved.Name, nil
}

func (e *Engine) linearUnlinked(ctx context.Context, sc *syncContext, ev *types.Unlinked) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := e.store.DeleteSyncedIssue(ctx, row.ID); err != nil {
		return Outcome{}, err
	}
	return synced("unlinked issue #%d", row.GitHubIssueNumber), nil
}

func (e *Engine) linearAssigneeChanged(ctx context.Context, sc *syncContext, ev *types.AssigneeChanged) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	var want []string
	if ev.AssigneeID != "" {
		login := sc.ids.GitHubLoginFor(ctx, ev.AssigneeID)
		if login == "" {
			return skipped("assignee has no mapped account; skipped"), nil
		}
		want = []string{login}
	}

	issue, err := sc.gh.GetIssue(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber)
	if err != nil {
		return Outcome{}, err
	}
	if sameAssignees(issue.Assignees, want) {
		return skipped("assignees already match on issue #%d", row.GitHubIssueNumber), nil
	}
	if err := sc.gh.ReplaceAssignees(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, issue.Assignees, want); err != nil {
		return Outcome{}, err
	}
	return synced("updated assignees on issue #%d", row.GitHubIssueNumber), nil
}

// sameAssignees reports whether two assignee sets match, ignoring order.
// GitHub logins compare case-insensitively.
func sameAssignees(current, want []string) bool {
	if len(current) != len(want) {
		return false
	}
	for _, w := range want {
		found := false
		for _, c := range current {
			if strings.EqualFold(c, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Engine) linearPriorityChanged(ctx context.Context, sc *syncContext, ev *types.PriorityChanged) (Outcome, error) {
	return e.replaceFamilyLabel(ctx, sc, &ev.EventMeta, identity.IsPriorityLabel, identity.PriorityLabel(ev.Priority))
}

func (e *Engine) linearEstimateChanged(ctx context.Context, sc *syncContext, ev *types.EstimateChanged) (Outcome, error) {
	return e.replaceFamilyLabel(ctx, sc, &ev.EventMeta, identity.IsEstimateLabel, identity.EstimateLabel(ev.Estimate))
}

// replaceFamilyLabel swaps the single member of a mutually exclusive
// label family (priority or estimate) on the mirrored issue. An empty
// replacement clears the family.
func (e *Engine) replaceFamilyLabel(ctx context.Context, sc *syncContext, meta *types.EventMeta, inFamily func(string) bool, replacement string) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, meta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	issue, err := sc.gh.GetIssue(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber)
	if err != nil {
		return Outcome{}, err
	}
	var labels []string
	for _, l := range issue.Labels {
		if !inFamily(l.Name) {
			labels = append(labels, l.Name)
		}
	}
	if replacement != "" {
		logStep(meta, fmt.Sprintf("ensure label %q", replacement), sc.ids.EnsureGitHubLabel(ctx, sc.sync, replacement))
		labels = append(labels, replacement)
	}
	if err := sc.gh.ReplaceLabels(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, labels); err != nil {
		return Outcome{}, err
	}
	if replacement == "" {
		return synced("cleared family label on issue #%d", row.GitHubIssueNumber), nil
	}
	return synced("set label %q on issue #%d", replacement, row.GitHubIssueNumber), nil
}

func (e *Engine) linearMilestoneLinked(ctx context.Context, sc *syncContext, ev *types.MilestoneLinked) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if ev.Unlinked {
		if err := sc.gh.SetMilestone(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, 0); err != nil {
			return Outcome{}, err
		}
		return synced("detached milestone from issue #%d", row.GitHubIssueNumber), nil
	}

	ms, err := e.ensureGitHubMilestone(ctx, sc, &ev.EventMeta, ev.MilestoneID)
	if err != nil {
		return Outcome{}, err
	}
	if err := sc.gh.SetMilestone(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, ms.MilestoneNumber); err != nil {
		return Outcome{}, err
	}
	return synced("attached issue #%d to milestone %d", row.GitHubIssueNumber, ms.MilestoneNumber), nil
}

// ensureGitHubMilestone returns the milestone mirroring a Linear cycle or
// project, creating it on first use. The webhook payload does not say
// which of the two resource kinds the ID names, so the cycle lookup is
// tried first and the project lookup on miss.
func (e *Engine) ensureGitHubMilestone(ctx context.Context, sc *syncContext, meta *types.EventMeta, resourceID string) (*store.SyncedMilestone, error) {
	if row, err := e.store.GetSyncedMilestoneByResource(ctx, sc.sync.LinearTeamID, resourceID); err == nil {
		return row, nil
	}

	var (
		kind   store.MilestoneKind
		title  string
		marker string
		dueOn  *time.Time
	)
	if cycle, err := sc.ln.FetchCycle(ctx, resourceID); err == nil {
		kind = store.MilestoneCycle
		title = cycle.Name
		if title == "" {
			title = fmt.Sprintf("Cycle %d", cycle.Number)
		}
		due := cycle.EndsAt
		dueOn = &due
	} else if project, err := sc.ln.FetchProject(ctx, resourceID); err == nil {
		kind = store.MilestoneProject
		title = project.Name
		// The description marker is what routes this milestone back to a
		// project rather than a cycle.
		marker = "(Project)"
	} else {
		return nil, fmt.Errorf("resource %s is neither a cycle nor a project: %w", resourceID, err)
	}

	// The sync footer in the description lets the inbound milestone-created
	// echo be recognized and dropped.
	description := content.AppendFooter(marker, content.FooterInfo{Origin: types.SideLinear})
	ms, err := sc.gh.CreateMilestone(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, title, description, dueOn)
	if err != nil {
		return nil, err
	}

	row := &store.SyncedMilestone{
		SyncID:           sc.sync.ID,
		LinearResourceID: resourceID,
		Kind:             kind,
		LinearTeamID:     sc.sync.LinearTeamID,
		MilestoneNumber:  ms.Number,
		GitHubRepoID:     sc.sync.GitHubRepoID,
	}
	if err := e.store.CreateSyncedMilestone(ctx, row); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		logStep(meta, "record milestone correspondence", err)
		return e.store.GetSyncedMilestoneByResource(ctx, sc.sync.LinearTeamID, resourceID)
	}
	return row, nil
}

func (e *Engine) linearCommentCreated(ctx context.Context, sc *syncContext, ev *types.CommentCreated) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	body := sc.xform.ToCounterpart(ctx, ev.Body, content.Options{
		From:        types.SideLinear,
		Attribution: attribution(ev.Actor),
		CommentID:   ev.CommentID,
	})
	cmt, err := sc.gh.CreateComment(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber, body)
	if err != nil {
		return Outcome{}, err
	}
	return synced("created comment %d on issue #%d", cmt.ID, row.GitHubIssueNumber), nil
}

func (e *Engine) linearCommentEdited(ctx context.Context, sc *syncContext, ev *types.CommentEdited) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("ticket not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	comments, err := sc.gh.ListComments(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, row.GitHubIssueNumber)
	if err != nil {
		return Outcome{}, err
	}
	for _, cmt := range comments {
		if id, ok := content.ExtractCommentID(cmt.Body); !ok || id != ev.CommentID {
			continue
		}
		body := sc.xform.ToCounterpart(ctx, ev.Body, content.Options{
			From:        types.SideLinear,
			Attribution: attribution(ev.Actor),
			CommentID:   ev.CommentID,
		})
		if err := sc.gh.UpdateComment(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, cmt.ID, body); err != nil {
			return Outcome{}, err
		}
		return synced("updated comment %d on issue #%d", cmt.ID, row.GitHubIssueNumber), nil
	}
	return skipped("counterpart comment not found"), nil
}
