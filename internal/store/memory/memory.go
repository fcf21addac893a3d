// Package memory implements the correspondence store in memory.
// It enforces the same uniqueness invariants as the sqlite implementation
// and is the store used by engine and webhook tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/syncfork/ticketbridge/internal/store"
)

// Store implements store.Storage with in-process maps.
type Store struct {
	mu sync.Mutex

	nextID     int64
	syncs      map[int64]*store.Sync
	issues     map[int64]*store.SyncedIssue
	milestones map[int64]*store.SyncedMilestone
	users      map[int64]*store.UserIdentity
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		syncs:      make(map[int64]*store.Sync),
		issues:     make(map[int64]*store.SyncedIssue),
		milestones: make(map[int64]*store.SyncedMilestone),
		users:      make(map[int64]*store.UserIdentity),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateSync(_ context.Context, sy *store.Sync) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.syncs {
		if existing.LinearTeamID == sy.LinearTeamID &&
			existing.GitHubRepoID == sy.GitHubRepoID &&
			existing.CreatorLinearUserID == sy.CreatorLinearUserID {
			return store.ErrDuplicate
		}
	}
	cp := *sy
	cp.ID = s.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.syncs[cp.ID] = &cp
	sy.ID = cp.ID
	return nil
}

func (s *Store) GetSyncByTeam(_ context.Context, teamID string) (*store.Sync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sy := range s.syncs {
		if sy.LinearTeamID == teamID {
			cp := *sy
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSyncByRepo(_ context.Context, repoID int64) (*store.Sync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sy := range s.syncs {
		if sy.GitHubRepoID == repoID {
			cp := *sy
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSyncs(_ context.Context) ([]*store.Sync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Sync, 0, len(s.syncs))
	for _, sy := range s.syncs {
		cp := *sy
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteSync removes the sync and cascades to its correspondence rows,
// mirroring the sqlite foreign-key cascade.
func (s *Store) DeleteSync(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.syncs, id)
	for iid, si := range s.issues {
		if si.SyncID == id {
			delete(s.issues, iid)
		}
	}
	for mid, sm := range s.milestones {
		if sm.SyncID == id {
			delete(s.milestones, mid)
		}
	}
	return nil
}

func (s *Store) CreateSyncedIssue(_ context.Context, si *store.SyncedIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.issues {
		if existing.LinearTeamID == si.LinearTeamID && existing.LinearIssueID == si.LinearIssueID {
			return store.ErrDuplicate
		}
		if existing.GitHubRepoID == si.GitHubRepoID && existing.GitHubIssueNumber == si.GitHubIssueNumber {
			return store.ErrDuplicate
		}
	}
	cp := *si
	cp.ID = s.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.issues[cp.ID] = &cp
	si.ID = cp.ID
	return nil
}

func (s *Store) GetSyncedIssueByTicket(_ context.Context, teamID, issueID string) (*store.SyncedIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, si := range s.issues {
		if si.LinearTeamID == teamID && si.LinearIssueID == issueID {
			cp := *si
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSyncedIssueByIssue(_ context.Context, repoID int64, number int) (*store.SyncedIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, si := range s.issues {
		if si.GitHubRepoID == repoID && si.GitHubIssueNumber == number {
			cp := *si
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteSyncedIssue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.issues, id)
	return nil
}

func (s *Store) CreateSyncedMilestone(_ context.Context, sm *store.SyncedMilestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.milestones {
		if existing.LinearTeamID == sm.LinearTeamID && existing.LinearResourceID == sm.LinearResourceID {
			return store.ErrDuplicate
		}
		if existing.GitHubRepoID == sm.GitHubRepoID && existing.MilestoneNumber == sm.MilestoneNumber {
			return store.ErrDuplicate
		}
	}
	cp := *sm
	cp.ID = s.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.milestones[cp.ID] = &cp
	sm.ID = cp.ID
	return nil
}

func (s *Store) GetSyncedMilestoneByResource(_ context.Context, teamID, resourceID string) (*store.SyncedMilestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range s.milestones {
		if sm.LinearTeamID == teamID && sm.LinearResourceID == resourceID {
			cp := *sm
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSyncedMilestoneByNumber(_ context.Context, repoID int64, number int) (*store.SyncedMilestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range s.milestones {
		if sm.GitHubRepoID == repoID && sm.MilestoneNumber == number {
			cp := *sm
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpsertUserIdentity(_ context.Context, u *store.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.LinearUserID == u.LinearUserID && strings.EqualFold(existing.GitHubLogin, u.GitHubLogin) {
			existing.LinearName = u.LinearName
			existing.LinearEmail = u.LinearEmail
			existing.GitHubUserID = u.GitHubUserID
			existing.GitHubName = u.GitHubName
			u.ID = existing.ID
			return nil
		}
	}
	cp := *u
	cp.ID = s.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.users[cp.ID] = &cp
	u.ID = cp.ID
	return nil
}

func (s *Store) GetUserIdentityByLinearID(_ context.Context, linearUserID string) (*store.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.LinearUserID == linearUserID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserIdentityByGitHubLogin(_ context.Context, login string) (*store.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.GitHubLogin, login) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}
