package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/store/memory"
	"github.com/syncfork/ticketbridge/internal/types"
)

type fakeLinear struct {
	users   map[string]*types.Actor
	labels  map[string]*types.Label
	created []string
}

func (f *fakeLinear) FetchUser(_ context.Context, id string) (*types.Actor, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeLinear) FindLabel(_ context.Context, _, name string) (*types.Label, error) {
	if l, ok := f.labels[name]; ok {
		return l, nil
	}
	return nil, nil
}

func (f *fakeLinear) CreateLabel(_ context.Context, _, name string) (*types.Label, error) {
	f.created = append(f.created, name)
	l := &types.Label{ID: "lbl-" + name, Name: name}
	if f.labels == nil {
		f.labels = map[string]*types.Label{}
	}
	f.labels[name] = l
	return l, nil
}

type fakeGitHub struct {
	byEmail   map[string]*types.Actor
	labels    map[string]*types.Label
	createErr error
	created   []string
}

func (f *fakeGitHub) FindUserByEmail(_ context.Context, email string) (*types.Actor, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, nil
}

func (f *fakeGitHub) FindLabel(_ context.Context, _, _, name string) (*types.Label, error) {
	if l, ok := f.labels[name]; ok {
		return l, nil
	}
	return nil, nil
}

func (f *fakeGitHub) CreateLabel(_ context.Context, _, _, name string) (*types.Label, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, name)
	return &types.Label{Name: name}, nil
}

func TestGitHubLoginForDiscoversAndCaches(t *testing.T) {
	st := memory.New()
	ln := &fakeLinear{users: map[string]*types.Actor{
		"usr-1": {ID: "usr-1", Name: "Ada", Email: "ada@example.com"},
	}}
	gh := &fakeGitHub{byEmail: map[string]*types.Actor{
		"ada@example.com": {Login: "ada-gh"},
	}}
	m := New(st, ln, gh)

	if got := m.GitHubLoginFor(context.Background(), "usr-1"); got != "ada-gh" {
		t.Fatalf("GitHubLoginFor = %q, want ada-gh", got)
	}
	// Second call must hit the store, not the directories.
	ln.users = nil
	gh.byEmail = nil
	if got := m.GitHubLoginFor(context.Background(), "usr-1"); got != "ada-gh" {
		t.Fatalf("cached GitHubLoginFor = %q, want ada-gh", got)
	}
}

func TestGitHubLoginForDegradesToEmpty(t *testing.T) {
	m := New(memory.New(), &fakeLinear{}, &fakeGitHub{})
	if got := m.GitHubLoginFor(context.Background(), "usr-unknown"); got != "" {
		t.Fatalf("GitHubLoginFor = %q, want empty", got)
	}
}

func TestResolveMentionBothDirections(t *testing.T) {
	st := memory.New()
	if err := st.UpsertUserIdentity(context.Background(), &store.UserIdentity{
		LinearUserID: "usr-1", LinearName: "Ada", GitHubLogin: "ada-gh",
	}); err != nil {
		t.Fatal(err)
	}
	m := New(st, nil, nil)

	if got, ok := m.ResolveMention(context.Background(), types.SideLinear, "usr-1"); !ok || got != "ada-gh" {
		t.Fatalf("linear mention = %q, %v", got, ok)
	}
	if got, ok := m.ResolveMention(context.Background(), types.SideGitHub, "ada-gh"); !ok || got != "Ada" {
		t.Fatalf("github mention = %q, %v", got, ok)
	}
	if _, ok := m.ResolveMention(context.Background(), types.SideGitHub, "stranger"); ok {
		t.Fatal("unknown mention should not resolve")
	}
}

func TestEnsureGitHubLabelIdempotent(t *testing.T) {
	sync := &store.Sync{GitHubOwner: "acme", GitHubRepo: "widgets"}
	gh := &fakeGitHub{labels: map[string]*types.Label{"bug": {Name: "bug"}}}
	m := New(memory.New(), nil, gh)

	if err := m.EnsureGitHubLabel(context.Background(), sync, "bug"); err != nil {
		t.Fatalf("existing label: %v", err)
	}
	if len(gh.created) != 0 {
		t.Fatalf("existing label should not be recreated, got %v", gh.created)
	}
	if err := m.EnsureGitHubLabel(context.Background(), sync, "feature"); err != nil {
		t.Fatalf("new label: %v", err)
	}
	gh.createErr = errors.New("Validation Failed: already exists")
	if err := m.EnsureGitHubLabel(context.Background(), sync, "race"); err != nil {
		t.Fatalf("already-exists race should be success, got %v", err)
	}
}

func TestStateMappingRoundTrip(t *testing.T) {
	sync := &store.Sync{DoneStateID: "st-done", CanceledStateID: "st-cxl", ToDoStateID: "st-todo"}

	tests := []struct {
		stateID    string
		wantState  string
		wantReason types.CloseReason
	}{
		{"st-done", "closed", types.CloseDone},
		{"st-cxl", "closed", types.CloseCanceled},
		{"st-progress", "open", types.CloseNone},
	}
	for _, tt := range tests {
		state, reason := GitHubStateFor(sync, tt.stateID)
		if state != tt.wantState || reason != tt.wantReason {
			t.Errorf("GitHubStateFor(%s) = %s/%s, want %s/%s",
				tt.stateID, state, reason, tt.wantState, tt.wantReason)
		}
	}

	if got := LinearStateFor(sync, "closed", types.CloseDone); got != "st-done" {
		t.Errorf("closed/done = %s", got)
	}
	if got := LinearStateFor(sync, "closed", types.CloseCanceled); got != "st-cxl" {
		t.Errorf("closed/canceled = %s", got)
	}
	if got := LinearStateFor(sync, "open", types.CloseNone); got != "st-todo" {
		t.Errorf("open = %s", got)
	}
}

func TestPriorityLabels(t *testing.T) {
	tests := []struct {
		priority int
		label    string
	}{
		{0, ""},
		{1, "Priority: Urgent"},
		{2, "Priority: High"},
		{3, "Priority: Medium"},
		{4, "Priority: Low"},
	}
	for _, tt := range tests {
		if got := PriorityLabel(tt.priority); got != tt.label {
			t.Errorf("PriorityLabel(%d) = %q, want %q", tt.priority, got, tt.label)
		}
		if tt.label == "" {
			continue
		}
		p, ok := PriorityFromLabel(tt.label)
		if !ok || p != tt.priority {
			t.Errorf("PriorityFromLabel(%q) = %d, %v", tt.label, p, ok)
		}
	}
	if IsPriorityLabel("bug") {
		t.Error("bug is not a priority label")
	}
}

func TestEstimateLabels(t *testing.T) {
	if got := EstimateLabel(1); got != "1 point" {
		t.Errorf("EstimateLabel(1) = %q", got)
	}
	if got := EstimateLabel(5); got != "5 points" {
		t.Errorf("EstimateLabel(5) = %q", got)
	}
	if got := EstimateLabel(0); got != "" {
		t.Errorf("EstimateLabel(0) = %q", got)
	}
	if n, ok := EstimateFromLabel("3 points"); !ok || n != 3 {
		t.Errorf("EstimateFromLabel = %d, %v", n, ok)
	}
	if _, ok := EstimateFromLabel("pointless"); ok {
		t.Error("pointless should not parse")
	}
}

func TestMilestoneKindFor(t *testing.T) {
	if got := MilestoneKindFor("Two week iteration."); got != store.MilestoneCycle {
		t.Errorf("plain description = %s", got)
	}
	if got := MilestoneKindFor("Everything for the v2 launch. (Project)"); got != store.MilestoneProject {
		t.Errorf("(Project) marker = %s", got)
	}
	if got := MilestoneKindFor(""); got != store.MilestoneCycle {
		t.Errorf("empty description = %s", got)
	}
}
