package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/syncfork/ticketbridge/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSync() *store.Sync {
	return &store.Sync{
		LinearTeamID:        "team-1",
		LinearTeamKey:       "ENG",
		GitHubRepoID:        42,
		GitHubOwner:         "acme",
		GitHubRepo:          "widgets",
		CreatorLinearUserID: "user-1",
		PublicLabelID:       "label-public",
		PublicLabelName:     "Public",
		DoneStateID:         "st-done",
		CanceledStateID:     "st-cxl",
		ToDoStateID:         "st-todo",
		LinearBotID:         "bot-lin",
		GitHubBotLogin:      "bridge-bot",
	}
}

func TestSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sy := testSync()
	if err := s.CreateSync(ctx, sy); err != nil {
		t.Fatalf("create: %v", err)
	}
	if sy.ID == 0 {
		t.Fatal("create did not set the row id")
	}

	byTeam, err := s.GetSyncByTeam(ctx, "team-1")
	if err != nil {
		t.Fatalf("by team: %v", err)
	}
	if byTeam.GitHubRepo != "widgets" || byTeam.PublicLabelName != "Public" {
		t.Errorf("fields lost on round trip: %+v", byTeam)
	}

	byRepo, err := s.GetSyncByRepo(ctx, 42)
	if err != nil {
		t.Fatalf("by repo: %v", err)
	}
	if byRepo.ID != sy.ID {
		t.Errorf("by repo returned id %d, want %d", byRepo.ID, sy.ID)
	}

	if _, err := s.GetSyncByTeam(ctx, "team-none"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing team: got %v, want ErrNotFound", err)
	}
}

func TestCreateSyncUniquePerTriple(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CreateSync(ctx, testSync()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.CreateSync(ctx, testSync()); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second create: got %v, want ErrDuplicate", err)
	}
}

func TestSyncedIssueUniqueness(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sy := testSync()
	if err := s.CreateSync(ctx, sy); err != nil {
		t.Fatalf("create sync: %v", err)
	}

	si := &store.SyncedIssue{
		SyncID:            sy.ID,
		LinearIssueID:     "iss-1",
		LinearIssueNumber: 123,
		LinearTeamID:      "team-1",
		GitHubIssueID:     5001,
		GitHubIssueNumber: 7,
		GitHubRepoID:      42,
	}
	if err := s.CreateSyncedIssue(ctx, si); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		dup  store.SyncedIssue
	}{
		{"same ticket", store.SyncedIssue{SyncID: sy.ID, LinearIssueID: "iss-1", LinearTeamID: "team-1", GitHubIssueNumber: 99, GitHubRepoID: 42}},
		{"same issue number", store.SyncedIssue{SyncID: sy.ID, LinearIssueID: "iss-2", LinearTeamID: "team-1", GitHubIssueNumber: 7, GitHubRepoID: 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup := tt.dup
			if err := s.CreateSyncedIssue(ctx, &dup); !errors.Is(err, store.ErrDuplicate) {
				t.Errorf("got %v, want ErrDuplicate", err)
			}
		})
	}

	got, err := s.GetSyncedIssueByIssue(ctx, 42, 7)
	if err != nil {
		t.Fatalf("lookup by issue: %v", err)
	}
	if got.LinearIssueID != "iss-1" || got.LinearIssueNumber != 123 {
		t.Errorf("fields lost on round trip: %+v", got)
	}
}

func TestDeleteSyncCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sy := testSync()
	if err := s.CreateSync(ctx, sy); err != nil {
		t.Fatalf("create sync: %v", err)
	}
	si := &store.SyncedIssue{
		SyncID: sy.ID, LinearIssueID: "iss-1", LinearTeamID: "team-1",
		GitHubIssueNumber: 7, GitHubRepoID: 42,
	}
	if err := s.CreateSyncedIssue(ctx, si); err != nil {
		t.Fatalf("create synced issue: %v", err)
	}
	sm := &store.SyncedMilestone{
		SyncID: sy.ID, LinearResourceID: "cyc-1", Kind: store.MilestoneCycle,
		LinearTeamID: "team-1", MilestoneNumber: 1, GitHubRepoID: 42,
	}
	if err := s.CreateSyncedMilestone(ctx, sm); err != nil {
		t.Fatalf("create synced milestone: %v", err)
	}

	if err := s.DeleteSync(ctx, sy.ID); err != nil {
		t.Fatalf("delete sync: %v", err)
	}
	if _, err := s.GetSyncedIssueByTicket(ctx, "team-1", "iss-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("issue after cascade: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetSyncedMilestoneByResource(ctx, "team-1", "cyc-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("milestone after cascade: got %v, want ErrNotFound", err)
	}
}

func TestSyncedMilestoneLookups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sy := testSync()
	if err := s.CreateSync(ctx, sy); err != nil {
		t.Fatalf("create sync: %v", err)
	}

	sm := &store.SyncedMilestone{
		SyncID: sy.ID, LinearResourceID: "proj-1", Kind: store.MilestoneProject,
		LinearTeamID: "team-1", MilestoneNumber: 3, GitHubRepoID: 42,
	}
	if err := s.CreateSyncedMilestone(ctx, sm); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := *sm
	dup.ID = 0
	if err := s.CreateSyncedMilestone(ctx, &dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate create: got %v, want ErrDuplicate", err)
	}

	byNum, err := s.GetSyncedMilestoneByNumber(ctx, 42, 3)
	if err != nil {
		t.Fatalf("by number: %v", err)
	}
	if byNum.Kind != store.MilestoneProject || byNum.LinearResourceID != "proj-1" {
		t.Errorf("fields lost on round trip: %+v", byNum)
	}
}

func TestUpsertUserIdentityIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	u := &store.UserIdentity{LinearUserID: "user-1", GitHubLogin: "octocat", LinearName: "Jan"}
	if err := s.UpsertUserIdentity(ctx, u); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	again := &store.UserIdentity{LinearUserID: "user-1", GitHubLogin: "octocat", LinearName: "Jan Kowalski", LinearEmail: "jan@acme.test"}
	if err := s.UpsertUserIdentity(ctx, again); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetUserIdentityByLinearID(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.LinearName != "Jan Kowalski" || got.LinearEmail != "jan@acme.test" {
		t.Errorf("cached fields not refreshed: %+v", got)
	}

	byLogin, err := s.GetUserIdentityByGitHubLogin(ctx, "octocat")
	if err != nil {
		t.Fatalf("lookup by login: %v", err)
	}
	if byLogin.LinearUserID != "user-1" {
		t.Errorf("login lookup returned %+v", byLogin)
	}
}
