package sqlite

// schema creates all tables if they do not exist. The UNIQUE constraints
// back the duplicate-create safety the engine relies on: the loser of a
// near-simultaneous create gets a constraint violation, surfaced as
// store.ErrDuplicate and treated as a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS syncs (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	linear_team_id         TEXT NOT NULL,
	linear_team_key        TEXT NOT NULL,
	github_repo_id         INTEGER NOT NULL,
	github_owner           TEXT NOT NULL,
	github_repo            TEXT NOT NULL,
	creator_linear_user_id TEXT NOT NULL,
	linear_token_ref       TEXT NOT NULL,
	github_token_ref       TEXT NOT NULL,
	webhook_secret_ref     TEXT NOT NULL,
	public_label_id        TEXT NOT NULL,
	public_label_name      TEXT NOT NULL DEFAULT 'Public',
	done_state_id          TEXT NOT NULL DEFAULT '',
	canceled_state_id      TEXT NOT NULL DEFAULT '',
	todo_state_id          TEXT NOT NULL DEFAULT '',
	linear_bot_id          TEXT NOT NULL DEFAULT '',
	github_bot_login       TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMP NOT NULL,
	UNIQUE(linear_team_id, github_repo_id, creator_linear_user_id)
);

CREATE TABLE IF NOT EXISTS synced_issues (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_id             INTEGER NOT NULL,
	linear_issue_id     TEXT NOT NULL,
	linear_issue_number INTEGER NOT NULL,
	linear_team_id      TEXT NOT NULL,
	github_issue_id     INTEGER NOT NULL,
	github_issue_number INTEGER NOT NULL,
	github_repo_id      INTEGER NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	FOREIGN KEY (sync_id) REFERENCES syncs(id) ON DELETE CASCADE,
	UNIQUE(linear_issue_id, linear_team_id),
	UNIQUE(github_issue_number, github_repo_id)
);

CREATE TABLE IF NOT EXISTS synced_milestones (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_id            INTEGER NOT NULL,
	linear_resource_id TEXT NOT NULL,
	kind               TEXT NOT NULL,
	linear_team_id     TEXT NOT NULL,
	milestone_number   INTEGER NOT NULL,
	github_repo_id     INTEGER NOT NULL,
	created_at         TIMESTAMP NOT NULL,
	FOREIGN KEY (sync_id) REFERENCES syncs(id) ON DELETE CASCADE,
	UNIQUE(linear_resource_id, linear_team_id),
	UNIQUE(milestone_number, github_repo_id)
);

CREATE TABLE IF NOT EXISTS user_identities (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	linear_user_id TEXT NOT NULL,
	linear_name    TEXT NOT NULL DEFAULT '',
	linear_email   TEXT NOT NULL DEFAULT '',
	github_user_id INTEGER NOT NULL DEFAULT 0,
	github_login   TEXT NOT NULL,
	github_name    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	UNIQUE(linear_user_id, github_login)
);

CREATE INDEX IF NOT EXISTS idx_synced_issues_sync ON synced_issues(sync_id);
CREATE INDEX IF NOT EXISTS idx_user_identities_linear ON user_identities(linear_user_id);
CREATE INDEX IF NOT EXISTS idx_user_identities_github ON user_identities(github_login);
`
