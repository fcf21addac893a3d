// Package store provides the correspondence store: durable mappings between
// Linear teams/tickets and GitHub repositories/issues.
//
// The concrete implementations live in the sqlite and memory sub-packages.
// This package holds the interface and entity types referenced by both the
// implementations and their consumers (the engine, cmd/ticketbridge).
//
// The store is the single source of truth for idempotency: the engine never
// caches correspondence rows across webhook deliveries.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a create would violate a uniqueness
// invariant. Callers racing to create the same correspondence row treat
// this as "the row already exists", not as a failure.
var ErrDuplicate = errors.New("already exists")

// Sync is one authorized link between a Linear team and a GitHub repository.
// Never mutated after creation except credential rotation.
type Sync struct {
	ID int64

	LinearTeamID  string
	LinearTeamKey string // ticket identifier prefix, e.g. "ENG" in ENG-123

	GitHubRepoID int64
	GitHubOwner  string
	GitHubRepo   string

	// CreatorLinearUserID is the user that ran the setup flow. Part of the
	// (team, repo, creator) uniqueness triple.
	CreatorLinearUserID string

	// Credential references, resolved through the token vault collaborator.
	LinearTokenRef   string
	GitHubTokenRef   string
	WebhookSecretRef string

	// Special identifiers configured at setup.
	PublicLabelID   string // Linear label whose presence drives the lifecycle
	PublicLabelName string
	DoneStateID     string
	CanceledStateID string
	ToDoStateID     string

	// Bot identities used for echo suppression.
	LinearBotID    string
	GitHubBotLogin string

	CreatedAt time.Time
}

// SyncedIssue links one Linear ticket to one GitHub issue.
// Unique per (linear_issue_id, linear_team_id) and per
// (github_issue_number, github_repo_id).
type SyncedIssue struct {
	ID     int64
	SyncID int64

	LinearIssueID     string
	LinearIssueNumber int
	LinearTeamID      string

	GitHubIssueID     int64
	GitHubIssueNumber int
	GitHubRepoID      int64

	CreatedAt time.Time
}

// MilestoneKind distinguishes the two Linear grouping resources that map to
// GitHub milestones.
type MilestoneKind string

const (
	MilestoneCycle   MilestoneKind = "cycle"
	MilestoneProject MilestoneKind = "project"
)

// SyncedMilestone links a Linear cycle/project to a GitHub milestone.
type SyncedMilestone struct {
	ID     int64
	SyncID int64

	LinearResourceID string // cycle or project UUID
	Kind             MilestoneKind
	LinearTeamID     string

	MilestoneNumber int
	GitHubRepoID    int64

	CreatedAt time.Time
}

// UserIdentity maps a Linear user to a GitHub user, with cached display
// fields for footer attribution. Upserts are idempotent on the pair.
type UserIdentity struct {
	ID int64

	LinearUserID string
	LinearName   string
	LinearEmail  string

	GitHubUserID int64
	GitHubLogin  string
	GitHubName   string

	CreatedAt time.Time
}

// Storage is the interface satisfied by *sqlite.Store and *memory.Store.
// Consumers depend on this interface so tests can substitute the in-memory
// implementation.
type Storage interface {
	// Syncs
	CreateSync(ctx context.Context, s *Sync) error
	GetSyncByTeam(ctx context.Context, linearTeamID string) (*Sync, error)
	GetSyncByRepo(ctx context.Context, githubRepoID int64) (*Sync, error)
	ListSyncs(ctx context.Context) ([]*Sync, error)
	DeleteSync(ctx context.Context, id int64) error // cascades to SyncedIssue/SyncedMilestone

	// Synced issues
	CreateSyncedIssue(ctx context.Context, si *SyncedIssue) error
	GetSyncedIssueByTicket(ctx context.Context, linearTeamID, linearIssueID string) (*SyncedIssue, error)
	GetSyncedIssueByIssue(ctx context.Context, githubRepoID int64, issueNumber int) (*SyncedIssue, error)
	DeleteSyncedIssue(ctx context.Context, id int64) error

	// Synced milestones
	CreateSyncedMilestone(ctx context.Context, sm *SyncedMilestone) error
	GetSyncedMilestoneByResource(ctx context.Context, linearTeamID, resourceID string) (*SyncedMilestone, error)
	GetSyncedMilestoneByNumber(ctx context.Context, githubRepoID int64, number int) (*SyncedMilestone, error)

	// User identities
	UpsertUserIdentity(ctx context.Context, u *UserIdentity) error
	GetUserIdentityByLinearID(ctx context.Context, linearUserID string) (*UserIdentity, error)
	GetUserIdentityByGitHubLogin(ctx context.Context, login string) (*UserIdentity, error)

	Close() error
}
