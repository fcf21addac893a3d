package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

// fakeLinear is an in-memory LinearClient that records mutations.
type fakeLinear struct {
	issues   map[string]*linear.Issue
	comments map[string][]linear.Comment
	users    map[string]*types.Actor
	labels   map[string]*types.Label // by name
	cycles   map[string]*linear.Cycle
	projects map[string]*linear.Project

	created        []linear.IssueCreateInput
	updates        map[string][]linear.IssueUpdateInput
	createdComment []linear.Comment
	updatedComment map[string]string
	attachments    []string
	nextNumber     int
}

func newFakeLinear() *fakeLinear {
	return &fakeLinear{
		issues:         map[string]*linear.Issue{},
		comments:       map[string][]linear.Comment{},
		users:          map[string]*types.Actor{},
		labels:         map[string]*types.Label{},
		cycles:         map[string]*linear.Cycle{},
		projects:       map[string]*linear.Project{},
		updates:        map[string][]linear.IssueUpdateInput{},
		updatedComment: map[string]string{},
		nextNumber:     100,
	}
}

func (f *fakeLinear) FetchIssue(_ context.Context, id string) (*linear.Issue, error) {
	if iss, ok := f.issues[id]; ok {
		return iss, nil
	}
	return nil, fmt.Errorf("issue %s not found", id)
}

func (f *fakeLinear) CreateIssue(_ context.Context, input linear.IssueCreateInput) (*linear.Issue, error) {
	f.created = append(f.created, input)
	f.nextNumber++
	iss := &linear.Issue{
		ID:          fmt.Sprintf("iss-%d", f.nextNumber),
		Identifier:  fmt.Sprintf("ENG-%d", f.nextNumber),
		Number:      f.nextNumber,
		Title:       input.Title,
		Description: input.Description,
		TeamID:      input.TeamID,
		StateID:     input.StateID,
		AssigneeID:  input.AssigneeID,
	}
	f.issues[iss.ID] = iss
	return iss, nil
}

func (f *fakeLinear) UpdateIssue(_ context.Context, id string, input linear.IssueUpdateInput) error {
	f.updates[id] = append(f.updates[id], input)
	return nil
}

func (f *fakeLinear) CreateComment(_ context.Context, issueID, body string) (*linear.Comment, error) {
	cmt := linear.Comment{ID: fmt.Sprintf("cmt-%d", len(f.createdComment)+1), Body: body, IssueID: issueID}
	f.createdComment = append(f.createdComment, cmt)
	f.comments[issueID] = append(f.comments[issueID], cmt)
	return &cmt, nil
}

func (f *fakeLinear) UpdateComment(_ context.Context, commentID, body string) error {
	f.updatedComment[commentID] = body
	return nil
}

func (f *fakeLinear) FetchComments(_ context.Context, issueID string) ([]linear.Comment, error) {
	return f.comments[issueID], nil
}

func (f *fakeLinear) FetchUser(_ context.Context, id string) (*types.Actor, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s not found", id)
}

func (f *fakeLinear) FetchLabel(_ context.Context, id string) (*types.Label, error) {
	for _, l := range f.labels {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("label %s not found", id)
}

func (f *fakeLinear) FindLabel(_ context.Context, _, name string) (*types.Label, error) {
	if l, ok := f.labels[name]; ok {
		return l, nil
	}
	return nil, nil
}

func (f *fakeLinear) CreateLabel(_ context.Context, _, name string) (*types.Label, error) {
	l := &types.Label{ID: "lbl-" + name, Name: name}
	f.labels[name] = l
	return l, nil
}

func (f *fakeLinear) FetchCycle(_ context.Context, id string) (*linear.Cycle, error) {
	if c, ok := f.cycles[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("cycle %s not found", id)
}

func (f *fakeLinear) FetchProject(_ context.Context, id string) (*linear.Project, error) {
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("project %s not found", id)
}

func (f *fakeLinear) CreateCycle(_ context.Context, _, name string, startsAt, endsAt time.Time) (*linear.Cycle, error) {
	c := &linear.Cycle{ID: fmt.Sprintf("cyc-%d", len(f.cycles)+1), Name: name, StartsAt: startsAt, EndsAt: endsAt}
	f.cycles[c.ID] = c
	return c, nil
}

func (f *fakeLinear) CreateProject(_ context.Context, _, name, _ string, _ *time.Time) (*linear.Project, error) {
	p := &linear.Project{ID: fmt.Sprintf("prj-%d", len(f.projects)+1), Name: name}
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeLinear) CreateAttachment(_ context.Context, issueID, _, url string) error {
	f.attachments = append(f.attachments, issueID+" -> "+url)
	return nil
}

func (f *fakeLinear) RefreshImageURL(_ context.Context, url string) (string, error) {
	return url, nil
}

// fakeGitHub is an in-memory GitHubClient that records mutations.
type fakeGitHub struct {
	issues     map[int]*github.Issue
	comments   map[int][]github.Comment
	milestones map[int]*github.Milestone
	labels     map[string]*types.Label
	byEmail    map[string]*types.Actor

	created        []github.IssueCreateInput
	stateSet       map[int]string
	milestoneSet   map[int]int
	assigneesSet   map[int][]string
	labelsReplaced map[int][]string
	labelsAdded    map[int][]string
	labelsRemoved  map[int][]string
	edits          map[int][]string
	updatedComment map[int64]string
	nextNumber     int
	nextMilestone  int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		issues:         map[int]*github.Issue{},
		comments:       map[int][]github.Comment{},
		milestones:     map[int]*github.Milestone{},
		labels:         map[string]*types.Label{},
		byEmail:        map[string]*types.Actor{},
		stateSet:       map[int]string{},
		milestoneSet:   map[int]int{},
		assigneesSet:   map[int][]string{},
		labelsReplaced: map[int][]string{},
		labelsAdded:    map[int][]string{},
		labelsRemoved:  map[int][]string{},
		edits:          map[int][]string{},
		updatedComment: map[int64]string{},
		nextNumber:     10,
	}
}

func (f *fakeGitHub) CreateIssue(_ context.Context, _, _ string, input github.IssueCreateInput) (*github.Issue, error) {
	f.created = append(f.created, input)
	f.nextNumber++
	iss := &github.Issue{
		ID:      int64(1000 + f.nextNumber),
		Number:  f.nextNumber,
		Title:   input.Title,
		Body:    input.Body,
		State:   "open",
		HTMLURL: fmt.Sprintf("https://github.com/acme/widgets/issues/%d", f.nextNumber),
	}
	for _, l := range input.Labels {
		iss.Labels = append(iss.Labels, types.Label{Name: l})
	}
	iss.Assignees = input.Assignees
	f.issues[iss.Number] = iss
	return iss, nil
}

func (f *fakeGitHub) GetIssue(_ context.Context, _, _ string, number int) (*github.Issue, error) {
	if iss, ok := f.issues[number]; ok {
		return iss, nil
	}
	return nil, fmt.Errorf("issue #%d not found", number)
}

func (f *fakeGitHub) EditIssue(_ context.Context, _, _ string, number int, title, body *string) error {
	if title != nil {
		f.edits[number] = append(f.edits[number], "title="+*title)
	}
	if body != nil {
		f.edits[number] = append(f.edits[number], "body="+*body)
	}
	return nil
}

func (f *fakeGitHub) SetIssueState(_ context.Context, _, _ string, number int, state string, reason types.CloseReason) error {
	f.stateSet[number] = state + "/" + string(reason)
	return nil
}

func (f *fakeGitHub) SetMilestone(_ context.Context, _, _ string, number, milestoneNumber int) error {
	f.milestoneSet[number] = milestoneNumber
	return nil
}

func (f *fakeGitHub) ReplaceAssignees(_ context.Context, _, _ string, number int, _, want []string) error {
	f.assigneesSet[number] = want
	return nil
}

func (f *fakeGitHub) AddLabels(_ context.Context, _, _ string, number int, labels []string) error {
	f.labelsAdded[number] = append(f.labelsAdded[number], labels...)
	return nil
}

func (f *fakeGitHub) RemoveLabel(_ context.Context, _, _ string, number int, label string) error {
	f.labelsRemoved[number] = append(f.labelsRemoved[number], label)
	return nil
}

func (f *fakeGitHub) ReplaceLabels(_ context.Context, _, _ string, number int, labels []string) error {
	f.labelsReplaced[number] = labels
	return nil
}

func (f *fakeGitHub) CreateComment(_ context.Context, _, _ string, number int, body string) (*github.Comment, error) {
	cmt := github.Comment{ID: int64(len(f.comments[number]) + 9000), Body: body}
	f.comments[number] = append(f.comments[number], cmt)
	return &cmt, nil
}

func (f *fakeGitHub) UpdateComment(_ context.Context, _, _ string, commentID int64, body string) error {
	f.updatedComment[commentID] = body
	return nil
}

func (f *fakeGitHub) ListComments(_ context.Context, _, _ string, number int) ([]github.Comment, error) {
	return f.comments[number], nil
}

func (f *fakeGitHub) CreateMilestone(_ context.Context, _, _, title, description string, dueOn *time.Time) (*github.Milestone, error) {
	f.nextMilestone++
	ms := &github.Milestone{Number: f.nextMilestone, Title: title, Description: description, State: "open", DueOn: dueOn}
	f.milestones[ms.Number] = ms
	return ms, nil
}

func (f *fakeGitHub) GetMilestone(_ context.Context, _, _ string, number int) (*github.Milestone, error) {
	if ms, ok := f.milestones[number]; ok {
		return ms, nil
	}
	return nil, fmt.Errorf("milestone %d not found", number)
}

func (f *fakeGitHub) FindLabel(_ context.Context, _, _, name string) (*types.Label, error) {
	if l, ok := f.labels[name]; ok {
		return l, nil
	}
	return nil, nil
}

func (f *fakeGitHub) CreateLabel(_ context.Context, _, _, name string) (*types.Label, error) {
	l := &types.Label{Name: name}
	f.labels[name] = l
	return l, nil
}

func (f *fakeGitHub) FindUserByEmail(_ context.Context, email string) (*types.Actor, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, nil
}

// githubIssueWith builds a minimal open issue #11 carrying the labels.
func githubIssueWith(labels ...string) *github.Issue {
	iss := &github.Issue{ID: 1011, Number: 11, State: "open"}
	for _, l := range labels {
		iss.Labels = append(iss.Labels, types.Label{Name: l})
	}
	return iss
}

// fixedFactory hands out the same fakes for every sync.
type fixedFactory struct {
	ln *fakeLinear
	gh *fakeGitHub
}

func (f *fixedFactory) LinearFor(context.Context, *store.Sync) (LinearClient, error) {
	return f.ln, nil
}

func (f *fixedFactory) GitHubFor(context.Context, *store.Sync) (GitHubClient, error) {
	return f.gh, nil
}
