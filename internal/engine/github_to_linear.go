package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syncfork/ticketbridge/internal/content"
	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/identity"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

func (e *Engine) handleGitHubEvent(ctx context.Context, sc *syncContext, ev types.Event) (Outcome, error) {
	switch ev := ev.(type) {
	case *types.IssueCreated:
		return e.githubIssueOpened(ctx, sc, ev)
	case *types.IssueEdited:
		return e.githubIssueEdited(ctx, sc, ev)
	case *types.StateChanged:
		return e.githubStateChanged(ctx, sc, ev)
	case *types.LabelAdded:
		return e.githubLabelAdded(ctx, sc, ev)
	case *types.LabelRemoved:
		return e.githubLabelRemoved(ctx, sc, ev)
	case *types.AssigneeChanged:
		return e.githubAssigneeChanged(ctx, sc, ev)
	case *types.MilestoneLinked:
		return e.githubMilestoneLinked(ctx, sc, ev)
	case *types.CommentCreated:
		return e.githubCommentCreated(ctx, sc, ev)
	case *types.CommentEdited:
		return e.githubCommentEdited(ctx, sc, ev)
	default:
		return skipped("unhandled event kind %s", ev.Meta().Kind), nil
	}
}

// githubIssueOpened mirrors a newly opened repo issue as a public Linear
// ticket.
func (e *Engine) githubIssueOpened(ctx context.Context, sc *syncContext, ev *types.IssueCreated) (Outcome, error) {
	if _, err := e.store.GetSyncedIssueByIssue(ctx, sc.sync.GitHubRepoID, ev.IssueNumber); err == nil {
		return skipped("issue already linked"), nil
	}

	iss := &github.Issue{
		ID:     ev.IssueID,
		Number: ev.IssueNumber,
		Title:  ev.Title,
		Body:   ev.Body,
		Labels: ev.Labels,
	}
	if ev.AssigneeID != "" {
		iss.Assignees = []string{ev.AssigneeID}
	}
	return e.mirrorIssueToLinear(ctx, sc, &ev.EventMeta, iss, false)
}

// mirrorIssueToLinear creates the Linear counterpart of a repo issue.
// Priority and estimate family labels become ticket fields rather than
// labels. backfill copies existing issue comments onto the new ticket;
// it runs only on marker-label links, a freshly opened issue has none.
func (e *Engine) mirrorIssueToLinear(ctx context.Context, sc *syncContext, meta *types.EventMeta, iss *github.Issue, backfill bool) (Outcome, error) {
	input := linear.IssueCreateInput{
		TeamID:  sc.sync.LinearTeamID,
		Title:   content.StripTicketKey(iss.Title),
		StateID: sc.sync.ToDoStateID,
	}
	input.Description = sc.xform.ToCounterpart(ctx, iss.Body, content.Options{
		From:        types.SideGitHub,
		Attribution: attribution(meta.Actor),
	})

	var plain []string
	for _, l := range iss.Labels {
		if p, ok := identity.PriorityFromLabel(l.Name); ok {
			p := p
			input.Priority = &p
			continue
		}
		if est, ok := identity.EstimateFromLabel(l.Name); ok {
			est := est
			input.Estimate = &est
			continue
		}
		if strings.EqualFold(l.Name, sc.sync.PublicLabelName) {
			// The marker controls linking, it is not content.
			continue
		}
		plain = append(plain, l.Name)
	}
	input.LabelIDs = append(e.ensureLinearLabels(ctx, sc, meta, plain), sc.sync.PublicLabelID)

	note := ""
	if len(iss.Assignees) > 0 {
		if userID := sc.ids.LinearUserFor(ctx, iss.Assignees[0]); userID != "" {
			input.AssigneeID = userID
		} else {
			note = "; assignee has no mapped account"
		}
	}

	created, err := sc.ln.CreateIssue(ctx, input)
	if err != nil {
		return Outcome{}, err
	}

	row := &store.SyncedIssue{
		SyncID:            sc.sync.ID,
		LinearIssueID:     created.ID,
		LinearIssueNumber: created.Number,
		LinearTeamID:      sc.sync.LinearTeamID,
		GitHubIssueID:     iss.ID,
		GitHubIssueNumber: iss.Number,
		GitHubRepoID:      sc.sync.GitHubRepoID,
	}
	if err := e.store.CreateSyncedIssue(ctx, row); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return Outcome{}, err
		}
		logStep(meta, "record correspondence", err)
		note += "; lost creation race, the new ticket is orphaned"
	}

	issueURL := fmt.Sprintf("https://github.com/%s/issues/%d", meta.RepoFullName, iss.Number)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logStep(meta, "cross-link attachment",
			sc.ln.CreateAttachment(gctx, created.ID, fmt.Sprintf("GitHub Issue #%d", iss.Number), issueURL))
		return nil
	})
	g.Go(func() error {
		// Embedding the ticket key makes the pairing visible in the repo.
		title := content.EmbedTicketKey(created.Identifier, iss.Title)
		logStep(meta, "embed ticket key",
			sc.gh.EditIssue(gctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, iss.Number, &title, nil))
		return nil
	})
	_ = g.Wait()

	if backfill {
		e.backfillIssueComments(ctx, sc, meta, iss.Number, created.ID)
	}

	return synced("created ticket %s%s", created.Identifier, note), nil
}

// backfillIssueComments copies pre-existing repo comments onto a freshly
// linked ticket, oldest first. Mirrored comments carry a footer and are
// not copied back.
func (e *Engine) backfillIssueComments(ctx context.Context, sc *syncContext, meta *types.EventMeta, issueNumber int, ticketID string) {
	comments, err := sc.gh.ListComments(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, issueNumber)
	if err != nil {
		logStep(meta, "backfill comments", err)
		return
	}
	for _, cmt := range comments {
		if content.HasFooter(cmt.Body) {
			continue
		}
		body := sc.xform.ToCounterpart(ctx, cmt.Body, content.Options{
			From:        types.SideGitHub,
			Attribution: cmt.UserLogin,
			CommentID:   strconv.FormatInt(cmt.ID, 10),
		})
		_, err := sc.ln.CreateComment(ctx, ticketID, body)
		logStep(meta, fmt.Sprintf("backfill comment %d", cmt.ID), err)
	}
}

// ensureLinearLabels resolves label names to team label IDs, creating
// missing labels. Failed resolutions are logged and dropped.
func (e *Engine) ensureLinearLabels(ctx context.Context, sc *syncContext, meta *types.EventMeta, names []string) []string {
	ids := make([]string, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			id, err := sc.ids.EnsureLinearLabel(gctx, sc.sync, name)
			logStep(meta, fmt.Sprintf("ensure label %q", name), err)
			mu.Lock()
			ids[i] = id
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) githubIssueEdited(ctx context.Context, sc *syncContext, ev *types.IssueEdited) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	var input linear.IssueUpdateInput
	if ev.Title != nil {
		t := content.StripTicketKey(*ev.Title)
		input.Title = &t
	}
	if ev.Body != nil {
		b := sc.xform.ToCounterpart(ctx, *ev.Body, content.Options{
			From:        types.SideGitHub,
			Attribution: attribution(ev.Actor),
		})
		input.Description = &b
	}
	if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, input); err != nil {
		return Outcome{}, err
	}
	return synced("updated ticket %s", ticketKey(sc.sync, row)), nil
}

func (e *Engine) githubStateChanged(ctx context.Context, sc *syncContext, ev *types.StateChanged) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	stateID := identity.LinearStateFor(sc.sync, ev.State, ev.Reason)
	if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{StateID: &stateID}); err != nil {
		return Outcome{}, err
	}
	return synced("moved ticket %s", ticketKey(sc.sync, row)), nil
}

func (e *Engine) githubLabelAdded(ctx context.Context, sc *syncContext, ev *types.LabelAdded) (Outcome, error) {
	// The marker label on an unlinked issue is the repo-side way to pull
	// an existing issue into the sync, with its comment history.
	if sc.sync.PublicLabelName != "" && strings.EqualFold(ev.Label.Name, sc.sync.PublicLabelName) {
		if _, err := e.store.GetSyncedIssueByIssue(ctx, sc.sync.GitHubRepoID, ev.IssueNumber); err == nil {
			return skipped("issue already linked"), nil
		}
		iss, err := sc.gh.GetIssue(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, ev.IssueNumber)
		if err != nil {
			return Outcome{}, err
		}
		return e.mirrorIssueToLinear(ctx, sc, &ev.EventMeta, iss, true)
	}

	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if p, ok := identity.PriorityFromLabel(ev.Label.Name); ok {
		if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{Priority: &p}); err != nil {
			return Outcome{}, err
		}
		return synced("set priority %d on ticket %s", p, ticketKey(sc.sync, row)), nil
	}
	if est, ok := identity.EstimateFromLabel(ev.Label.Name); ok {
		if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{Estimate: &est}); err != nil {
			return Outcome{}, err
		}
		return synced("set estimate %d on ticket %s", est, ticketKey(sc.sync, row)), nil
	}

	labelID, err := sc.ids.EnsureLinearLabel(ctx, sc.sync, ev.Label.Name)
	if err != nil {
		return Outcome{}, err
	}
	issue, err := sc.ln.FetchIssue(ctx, row.LinearIssueID)
	if err != nil {
		return Outcome{}, err
	}
	for _, id := range issue.LabelIDs() {
		if id == labelID {
			return skipped("label already present"), nil
		}
	}
	labelIDs := append(issue.LabelIDs(), labelID)
	if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{LabelIDs: labelIDs}); err != nil {
		return Outcome{}, err
	}
	return synced("added label %q to ticket %s", ev.Label.Name, ticketKey(sc.sync, row)), nil
}

func (e *Engine) githubLabelRemoved(ctx context.Context, sc *syncContext, ev *types.LabelRemoved) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if _, ok := identity.PriorityFromLabel(ev.Label.Name); ok {
		zero := 0
		if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{Priority: &zero}); err != nil {
			return Outcome{}, err
		}
		return synced("cleared priority on ticket %s", ticketKey(sc.sync, row)), nil
	}
	if _, ok := identity.EstimateFromLabel(ev.Label.Name); ok {
		zero := 0
		if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{Estimate: &zero}); err != nil {
			return Outcome{}, err
		}
		return synced("cleared estimate on ticket %s", ticketKey(sc.sync, row)), nil
	}

	issue, err := sc.ln.FetchIssue(ctx, row.LinearIssueID)
	if err != nil {
		return Outcome{}, err
	}
	var remaining []string
	found := false
	for _, l := range issue.Labels {
		if strings.EqualFold(l.Name, ev.Label.Name) {
			found = true
			continue
		}
		remaining = append(remaining, l.ID)
	}
	if !found {
		return skipped("label not present on ticket"), nil
	}
	if remaining == nil {
		remaining = []string{}
	}
	if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{LabelIDs: remaining}); err != nil {
		return Outcome{}, err
	}
	return synced("removed label %q from ticket %s", ev.Label.Name, ticketKey(sc.sync, row)), nil
}

func (e *Engine) githubAssigneeChanged(ctx context.Context, sc *syncContext, ev *types.AssigneeChanged) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	assignee := ""
	if ev.AssigneeID != "" {
		assignee = sc.ids.LinearUserFor(ctx, ev.AssigneeID)
		if assignee == "" {
			return skipped("assignee has no mapped account; skipped"), nil
		}
	}
	issue, err := sc.ln.FetchIssue(ctx, row.LinearIssueID)
	if err != nil {
		return Outcome{}, err
	}
	if issue.AssigneeID == assignee {
		return skipped("assignee already matches on ticket %s", ticketKey(sc.sync, row)), nil
	}
	if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, linear.IssueUpdateInput{AssigneeID: &assignee}); err != nil {
		return Outcome{}, err
	}
	return synced("updated assignee on ticket %s", ticketKey(sc.sync, row)), nil
}

func (e *Engine) githubMilestoneLinked(ctx context.Context, sc *syncContext, ev *types.MilestoneLinked) (Outcome, error) {
	// A bare milestone creation (no issue attached yet) pre-mirrors the
	// grouping resource so the first attachment is cheap.
	if ev.IssueNumber == 0 {
		if _, err := e.store.GetSyncedMilestoneByNumber(ctx, sc.sync.GitHubRepoID, ev.Number); err == nil {
			return skipped("milestone already mirrored"), nil
		}
		if _, err := e.ensureLinearResource(ctx, sc, ev); err != nil {
			return Outcome{}, err
		}
		return synced("mirrored milestone %d", ev.Number), nil
	}

	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if ev.Unlinked {
		ms, err := e.store.GetSyncedMilestoneByNumber(ctx, sc.sync.GitHubRepoID, ev.Number)
		if errors.Is(err, store.ErrNotFound) {
			return skipped("milestone not mirrored"), nil
		}
		if err != nil {
			return Outcome{}, err
		}
		clear := ""
		input := linear.IssueUpdateInput{}
		if ms.Kind == store.MilestoneProject {
			input.ProjectID = &clear
		} else {
			input.CycleID = &clear
		}
		if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, input); err != nil {
			return Outcome{}, err
		}
		return synced("detached ticket %s", ticketKey(sc.sync, row)), nil
	}

	ms, err := e.ensureLinearResource(ctx, sc, ev)
	if err != nil {
		return Outcome{}, err
	}
	input := linear.IssueUpdateInput{}
	if ms.Kind == store.MilestoneProject {
		input.ProjectID = &ms.LinearResourceID
	} else {
		input.CycleID = &ms.LinearResourceID
	}
	if err := sc.ln.UpdateIssue(ctx, row.LinearIssueID, input); err != nil {
		return Outcome{}, err
	}
	return synced("attached ticket %s to %s", ticketKey(sc.sync, row), ms.Kind), nil
}

// ensureLinearResource returns the cycle or project mirroring a GitHub
// milestone, creating it on first use. Milestones whose description
// carries "(Project)" become projects, everything else becomes a cycle.
func (e *Engine) ensureLinearResource(ctx context.Context, sc *syncContext, ev *types.MilestoneLinked) (*store.SyncedMilestone, error) {
	if row, err := e.store.GetSyncedMilestoneByNumber(ctx, sc.sync.GitHubRepoID, ev.Number); err == nil {
		return row, nil
	}

	title := ev.Title
	description := ev.Description
	if title == "" {
		ms, err := sc.gh.GetMilestone(ctx, sc.sync.GitHubOwner, sc.sync.GitHubRepo, ev.Number)
		if err != nil {
			return nil, err
		}
		title = ms.Title
		description = ms.Description
		if ev.DueDate == nil {
			ev.DueDate = ms.DueOn
		}
	}

	kind := identity.MilestoneKindFor(description)
	var resourceID string
	if kind == store.MilestoneProject {
		project, err := sc.ln.CreateProject(ctx, sc.sync.LinearTeamID, title, description, ev.DueDate)
		if err != nil {
			return nil, err
		}
		resourceID = project.ID
	} else {
		start := time.Now()
		end := start.AddDate(0, 0, 14)
		if ev.DueDate != nil {
			end = *ev.DueDate
		}
		cycle, err := sc.ln.CreateCycle(ctx, sc.sync.LinearTeamID, title, start, end)
		if err != nil {
			return nil, err
		}
		resourceID = cycle.ID
	}

	row := &store.SyncedMilestone{
		SyncID:           sc.sync.ID,
		LinearResourceID: resourceID,
		Kind:             kind,
		LinearTeamID:     sc.sync.LinearTeamID,
		MilestoneNumber:  ev.Number,
		GitHubRepoID:     sc.sync.GitHubRepoID,
	}
	if err := e.store.CreateSyncedMilestone(ctx, row); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		logStep(&ev.EventMeta, "record milestone correspondence", err)
		return e.store.GetSyncedMilestoneByNumber(ctx, sc.sync.GitHubRepoID, ev.Number)
	}
	return row, nil
}

func (e *Engine) githubCommentCreated(ctx context.Context, sc *syncContext, ev *types.CommentCreated) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	body := sc.xform.ToCounterpart(ctx, ev.Body, content.Options{
		From:        types.SideGitHub,
		Attribution: attribution(ev.Actor),
		CommentID:   ev.CommentID,
	})
	cmt, err := sc.ln.CreateComment(ctx, row.LinearIssueID, body)
	if err != nil {
		return Outcome{}, err
	}
	return synced("created comment %s on ticket %s", cmt.ID, ticketKey(sc.sync, row)), nil
}

func (e *Engine) githubCommentEdited(ctx context.Context, sc *syncContext, ev *types.CommentEdited) (Outcome, error) {
	row, err := e.linkedIssue(ctx, sc, &ev.EventMeta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("issue not linked"), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	comments, err := sc.ln.FetchComments(ctx, row.LinearIssueID)
	if err != nil {
		return Outcome{}, err
	}
	for _, cmt := range comments {
		if id, ok := content.ExtractCommentID(cmt.Body); !ok || id != ev.CommentID {
			continue
		}
		body := sc.xform.ToCounterpart(ctx, ev.Body, content.Options{
			From:        types.SideGitHub,
			Attribution: attribution(ev.Actor),
			CommentID:   ev.CommentID,
		})
		if err := sc.ln.UpdateComment(ctx, cmt.ID, body); err != nil {
			return Outcome{}, err
		}
		return synced("updated comment %s on ticket %s", cmt.ID, ticketKey(sc.sync, row)), nil
	}
	return skipped("counterpart comment not found"), nil
}
