// Package sqlite implements the correspondence store using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/syncfork/ticketbridge/internal/store"
)

// Store implements store.Storage backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Foreign keys are enabled so sync deletion cascades.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapErr maps driver-level errors to the store sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return store.ErrDuplicate
	}
	return err
}

// CreateSync inserts a new sync. At most one active sync may exist per
// (team, repo, creator) triple; a second insert returns store.ErrDuplicate.
func (s *Store) CreateSync(ctx context.Context, sy *store.Sync) error {
	if sy.CreatedAt.IsZero() {
		sy.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO syncs (
			linear_team_id, linear_team_key, github_repo_id, github_owner,
			github_repo, creator_linear_user_id, linear_token_ref,
			github_token_ref, webhook_secret_ref, public_label_id,
			public_label_name, done_state_id, canceled_state_id,
			todo_state_id, linear_bot_id, github_bot_login, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sy.LinearTeamID, sy.LinearTeamKey, sy.GitHubRepoID, sy.GitHubOwner,
		sy.GitHubRepo, sy.CreatorLinearUserID, sy.LinearTokenRef,
		sy.GitHubTokenRef, sy.WebhookSecretRef, sy.PublicLabelID,
		sy.PublicLabelName, sy.DoneStateID, sy.CanceledStateID,
		sy.ToDoStateID, sy.LinearBotID, sy.GitHubBotLogin, sy.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	sy.ID, _ = res.LastInsertId()
	return nil
}

const syncColumns = `id, linear_team_id, linear_team_key, github_repo_id,
	github_owner, github_repo, creator_linear_user_id, linear_token_ref,
	github_token_ref, webhook_secret_ref, public_label_id, public_label_name,
	done_state_id, canceled_state_id, todo_state_id, linear_bot_id,
	github_bot_login, created_at`

func scanSync(row interface{ Scan(...interface{}) error }) (*store.Sync, error) {
	var sy store.Sync
	err := row.Scan(&sy.ID, &sy.LinearTeamID, &sy.LinearTeamKey,
		&sy.GitHubRepoID, &sy.GitHubOwner, &sy.GitHubRepo,
		&sy.CreatorLinearUserID, &sy.LinearTokenRef, &sy.GitHubTokenRef,
		&sy.WebhookSecretRef, &sy.PublicLabelID, &sy.PublicLabelName,
		&sy.DoneStateID, &sy.CanceledStateID, &sy.ToDoStateID,
		&sy.LinearBotID, &sy.GitHubBotLogin, &sy.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &sy, nil
}

func (s *Store) GetSyncByTeam(ctx context.Context, teamID string) (*store.Sync, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncColumns+` FROM syncs WHERE linear_team_id = ?`, teamID)
	return scanSync(row)
}

func (s *Store) GetSyncByRepo(ctx context.Context, repoID int64) (*store.Sync, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncColumns+` FROM syncs WHERE github_repo_id = ?`, repoID)
	return scanSync(row)
}

func (s *Store) ListSyncs(ctx context.Context) ([]*store.Sync, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+syncColumns+` FROM syncs ORDER BY id`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var syncs []*store.Sync
	for rows.Next() {
		sy, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		syncs = append(syncs, sy)
	}
	return syncs, rows.Err()
}

func (s *Store) DeleteSync(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM syncs WHERE id = ?`, id)
	return wrapErr(err)
}

// CreateSyncedIssue inserts a correspondence row. The UNIQUE constraints
// make the loser of a duplicate-create race fail with store.ErrDuplicate.
func (s *Store) CreateSyncedIssue(ctx context.Context, si *store.SyncedIssue) error {
	if si.CreatedAt.IsZero() {
		si.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_issues (
			sync_id, linear_issue_id, linear_issue_number, linear_team_id,
			github_issue_id, github_issue_number, github_repo_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		si.SyncID, si.LinearIssueID, si.LinearIssueNumber, si.LinearTeamID,
		si.GitHubIssueID, si.GitHubIssueNumber, si.GitHubRepoID, si.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	si.ID, _ = res.LastInsertId()
	return nil
}

const syncedIssueColumns = `id, sync_id, linear_issue_id, linear_issue_number,
	linear_team_id, github_issue_id, github_issue_number, github_repo_id,
	created_at`

func scanSyncedIssue(row interface{ Scan(...interface{}) error }) (*store.SyncedIssue, error) {
	var si store.SyncedIssue
	err := row.Scan(&si.ID, &si.SyncID, &si.LinearIssueID,
		&si.LinearIssueNumber, &si.LinearTeamID, &si.GitHubIssueID,
		&si.GitHubIssueNumber, &si.GitHubRepoID, &si.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &si, nil
}

func (s *Store) GetSyncedIssueByTicket(ctx context.Context, teamID, issueID string) (*store.SyncedIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncedIssueColumns+`
		FROM synced_issues WHERE linear_team_id = ? AND linear_issue_id = ?`,
		teamID, issueID)
	return scanSyncedIssue(row)
}

func (s *Store) GetSyncedIssueByIssue(ctx context.Context, repoID int64, number int) (*store.SyncedIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncedIssueColumns+`
		FROM synced_issues WHERE github_repo_id = ? AND github_issue_number = ?`,
		repoID, number)
	return scanSyncedIssue(row)
}

func (s *Store) DeleteSyncedIssue(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM synced_issues WHERE id = ?`, id)
	return wrapErr(err)
}

func (s *Store) CreateSyncedMilestone(ctx context.Context, sm *store.SyncedMilestone) error {
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_milestones (
			sync_id, linear_resource_id, kind, linear_team_id,
			milestone_number, github_repo_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sm.SyncID, sm.LinearResourceID, string(sm.Kind), sm.LinearTeamID,
		sm.MilestoneNumber, sm.GitHubRepoID, sm.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	sm.ID, _ = res.LastInsertId()
	return nil
}

const syncedMilestoneColumns = `id, sync_id, linear_resource_id, kind,
	linear_team_id, milestone_number, github_repo_id, created_at`

func scanSyncedMilestone(row interface{ Scan(...interface{}) error }) (*store.SyncedMilestone, error) {
	var sm store.SyncedMilestone
	var kind string
	err := row.Scan(&sm.ID, &sm.SyncID, &sm.LinearResourceID, &kind,
		&sm.LinearTeamID, &sm.MilestoneNumber, &sm.GitHubRepoID, &sm.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	sm.Kind = store.MilestoneKind(kind)
	return &sm, nil
}

func (s *Store) GetSyncedMilestoneByResource(ctx context.Context, teamID, resourceID string) (*store.SyncedMilestone, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncedMilestoneColumns+`
		FROM synced_milestones WHERE linear_team_id = ? AND linear_resource_id = ?`,
		teamID, resourceID)
	return scanSyncedMilestone(row)
}

func (s *Store) GetSyncedMilestoneByNumber(ctx context.Context, repoID int64, number int) (*store.SyncedMilestone, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncedMilestoneColumns+`
		FROM synced_milestones WHERE github_repo_id = ? AND milestone_number = ?`,
		repoID, number)
	return scanSyncedMilestone(row)
}

// UpsertUserIdentity inserts or refreshes an identity, keyed by the
// (linear user, github login) pair. Cached display fields are overwritten.
func (s *Store) UpsertUserIdentity(ctx context.Context, u *store.UserIdentity) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_identities (
			linear_user_id, linear_name, linear_email, github_user_id,
			github_login, github_name, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(linear_user_id, github_login) DO UPDATE SET
			linear_name = excluded.linear_name,
			linear_email = excluded.linear_email,
			github_user_id = excluded.github_user_id,
			github_name = excluded.github_name`,
		u.LinearUserID, u.LinearName, u.LinearEmail, u.GitHubUserID,
		u.GitHubLogin, u.GitHubName, u.CreatedAt)
	if err != nil {
		return wrapErr(err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		u.ID = id
	}
	return nil
}

const userIdentityColumns = `id, linear_user_id, linear_name, linear_email,
	github_user_id, github_login, github_name, created_at`

func scanUserIdentity(row interface{ Scan(...interface{}) error }) (*store.UserIdentity, error) {
	var u store.UserIdentity
	err := row.Scan(&u.ID, &u.LinearUserID, &u.LinearName, &u.LinearEmail,
		&u.GitHubUserID, &u.GitHubLogin, &u.GitHubName, &u.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &u, nil
}

func (s *Store) GetUserIdentityByLinearID(ctx context.Context, linearUserID string) (*store.UserIdentity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userIdentityColumns+`
		FROM user_identities WHERE linear_user_id = ? ORDER BY id LIMIT 1`,
		linearUserID)
	return scanUserIdentity(row)
}

func (s *Store) GetUserIdentityByGitHubLogin(ctx context.Context, login string) (*store.UserIdentity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userIdentityColumns+`
		FROM user_identities WHERE github_login = ? ORDER BY id LIMIT 1`,
		login)
	return scanUserIdentity(row)
}
