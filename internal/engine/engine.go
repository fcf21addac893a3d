// Package engine applies normalized webhook events to the counterpart
// tracker. It is the only component that performs outbound writes.
//
// Failure isolation: within one event, each outbound sub-step that fails
// is logged and skipped; the remaining sub-steps still run. An error is
// returned only when nothing could be done at all, so the webhook layer
// can answer 500 and let the tracker redeliver.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/syncfork/ticketbridge/internal/content"
	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/identity"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/loopguard"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

// LinearClient is the slice of the Linear API the engine calls.
// Satisfied by *linear.Client.
type LinearClient interface {
	FetchIssue(ctx context.Context, issueID string) (*linear.Issue, error)
	CreateIssue(ctx context.Context, input linear.IssueCreateInput) (*linear.Issue, error)
	UpdateIssue(ctx context.Context, issueID string, input linear.IssueUpdateInput) error
	CreateComment(ctx context.Context, issueID, body string) (*linear.Comment, error)
	UpdateComment(ctx context.Context, commentID, body string) error
	FetchComments(ctx context.Context, issueID string) ([]linear.Comment, error)
	FetchUser(ctx context.Context, userID string) (*types.Actor, error)
	FetchLabel(ctx context.Context, labelID string) (*types.Label, error)
	FindLabel(ctx context.Context, teamID, name string) (*types.Label, error)
	CreateLabel(ctx context.Context, teamID, name string) (*types.Label, error)
	FetchCycle(ctx context.Context, cycleID string) (*linear.Cycle, error)
	FetchProject(ctx context.Context, projectID string) (*linear.Project, error)
	CreateCycle(ctx context.Context, teamID, name string, startsAt, endsAt time.Time) (*linear.Cycle, error)
	CreateProject(ctx context.Context, teamID, name, description string, targetDate *time.Time) (*linear.Project, error)
	CreateAttachment(ctx context.Context, issueID, title, url string) error
	RefreshImageURL(ctx context.Context, url string) (string, error)
}

// GitHubClient is the slice of the GitHub API the engine calls.
// Satisfied by *github.Client.
type GitHubClient interface {
	CreateIssue(ctx context.Context, owner, repo string, input github.IssueCreateInput) (*github.Issue, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	EditIssue(ctx context.Context, owner, repo string, number int, title, body *string) error
	SetIssueState(ctx context.Context, owner, repo string, number int, state string, reason types.CloseReason) error
	SetMilestone(ctx context.Context, owner, repo string, number, milestoneNumber int) error
	ReplaceAssignees(ctx context.Context, owner, repo string, number int, current, want []string) error
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error
	ReplaceLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
	ListComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, error)
	CreateMilestone(ctx context.Context, owner, repo, title, description string, dueOn *time.Time) (*github.Milestone, error)
	GetMilestone(ctx context.Context, owner, repo string, number int) (*github.Milestone, error)
	FindLabel(ctx context.Context, owner, repo, name string) (*types.Label, error)
	CreateLabel(ctx context.Context, owner, repo, name string) (*types.Label, error)
	FindUserByEmail(ctx context.Context, email string) (*types.Actor, error)
}

// ClientFactory builds API clients for one sync's stored credentials.
type ClientFactory interface {
	LinearFor(ctx context.Context, sync *store.Sync) (LinearClient, error)
	GitHubFor(ctx context.Context, sync *store.Sync) (GitHubClient, error)
}

// Outcome describes what one event produced. Message is human-readable
// and surfaces in the webhook response body and logs.
type Outcome struct {
	Synced  bool
	Message string
}

func skipped(format string, args ...any) Outcome {
	return Outcome{Synced: false, Message: fmt.Sprintf(format, args...)}
}

func synced(format string, args ...any) Outcome {
	return Outcome{Synced: true, Message: fmt.Sprintf(format, args...)}
}

// Engine owns event application. One Engine serves all syncs.
type Engine struct {
	store   store.Storage
	clients ClientFactory
}

func New(st store.Storage, clients ClientFactory) *Engine {
	return &Engine{store: st, clients: clients}
}

// syncContext bundles everything the per-event handlers need.
type syncContext struct {
	sync  *store.Sync
	ln    LinearClient
	gh    GitHubClient
	ids   *identity.Mapper
	xform *content.Transformer
}

func (e *Engine) newSyncContext(ctx context.Context, sync *store.Sync) (*syncContext, error) {
	ln, err := e.clients.LinearFor(ctx, sync)
	if err != nil {
		return nil, fmt.Errorf("failed to build linear client: %w", err)
	}
	gh, err := e.clients.GitHubFor(ctx, sync)
	if err != nil {
		return nil, fmt.Errorf("failed to build github client: %w", err)
	}
	ids := identity.New(e.store, ln, gh)
	return &syncContext{
		sync:  sync,
		ln:    ln,
		gh:    gh,
		ids:   ids,
		xform: &content.Transformer{Mentions: ids, Images: ln},
	}, nil
}

// HandleEvent resolves the sync for an event, runs echo suppression, and
// dispatches to the side-specific handler. Events for teams or repos with
// no sync are acknowledged without action.
func (e *Engine) HandleEvent(ctx context.Context, ev types.Event) (Outcome, error) {
	meta := ev.Meta()

	sync, err := e.resolveSync(ctx, meta)
	if errors.Is(err, store.ErrNotFound) {
		return skipped("no sync configured for this %s source", meta.Side), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if d := loopguard.Check(ev, sync); d.Echo {
		return skipped("echo suppressed: %s", d.Reason), nil
	}

	sc, err := e.newSyncContext(ctx, sync)
	if err != nil {
		return Outcome{}, err
	}

	switch meta.Side {
	case types.SideLinear:
		return e.handleLinearEvent(ctx, sc, ev)
	case types.SideGitHub:
		return e.handleGitHubEvent(ctx, sc, ev)
	default:
		return skipped("unknown event side %q", meta.Side), nil
	}
}

func (e *Engine) resolveSync(ctx context.Context, meta *types.EventMeta) (*store.Sync, error) {
	if meta.Side == types.SideGitHub {
		return e.store.GetSyncByRepo(ctx, meta.RepoID)
	}
	if meta.TeamID != "" {
		return e.store.GetSyncByTeam(ctx, meta.TeamID)
	}
	// Comment deliveries sometimes omit the team. Fall back to scanning
	// the (small) sync list for a correspondence row.
	if meta.TicketID != "" {
		syncs, err := e.store.ListSyncs(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range syncs {
			if _, err := e.store.GetSyncedIssueByTicket(ctx, s.LinearTeamID, meta.TicketID); err == nil {
				return s, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

// linkedIssue looks up the correspondence row for an event, on whichever
// side the event originated.
func (e *Engine) linkedIssue(ctx context.Context, sc *syncContext, meta *types.EventMeta) (*store.SyncedIssue, error) {
	if meta.Side == types.SideLinear {
		return e.store.GetSyncedIssueByTicket(ctx, sc.sync.LinearTeamID, meta.TicketID)
	}
	return e.store.GetSyncedIssueByIssue(ctx, sc.sync.GitHubRepoID, meta.IssueNumber)
}

// ticketKey renders the canonical identifier for a linked ticket,
// e.g. "ENG-123".
func ticketKey(sync *store.Sync, row *store.SyncedIssue) string {
	return fmt.Sprintf("%s-%d", sync.LinearTeamKey, row.LinearIssueNumber)
}

// attribution picks a display name for the sync footer.
func attribution(actor types.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return actor.Login
}

func logStep(meta *types.EventMeta, step string, err error) {
	if err != nil {
		log.Printf("ticketbridge: delivery %s: %s failed: %v", meta.DeliveryID, step, err)
	}
}
