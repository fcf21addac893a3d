// Package github wraps the GitHub REST API client and normalizes GitHub
// webhook deliveries for the sync engine.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/syncfork/ticketbridge/internal/types"
)

// Client wraps the go-github client with the operations the sync uses.
type Client struct {
	client *gh.Client
}

// NewClient creates an authenticated client.
func NewClient(token string) *Client {
	var tc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}
	return &Client{client: gh.NewClient(tc)}
}

// NewFromGitHub wraps an existing go-github client (for tests).
func NewFromGitHub(client *gh.Client) *Client {
	return &Client{client: client}
}

// Issue is the slice of a GitHub issue the sync reads and writes.
type Issue struct {
	ID              int64
	Number          int
	Title           string
	Body            string
	State           string
	StateReason     string
	HTMLURL         string
	Labels          []types.Label
	Assignees       []string
	MilestoneNumber int
}

// Comment is one issue comment.
type Comment struct {
	ID        int64
	Body      string
	UserLogin string
	HTMLURL   string
}

// Milestone is one repository milestone.
type Milestone struct {
	Number      int
	Title       string
	Description string
	State       string
	DueOn       *time.Time
}

func fromIssue(iss *gh.Issue) *Issue {
	out := &Issue{
		ID:          iss.GetID(),
		Number:      iss.GetNumber(),
		Title:       iss.GetTitle(),
		Body:        iss.GetBody(),
		State:       iss.GetState(),
		StateReason: iss.GetStateReason(),
		HTMLURL:     iss.GetHTMLURL(),
	}
	for _, l := range iss.Labels {
		out.Labels = append(out.Labels, types.Label{Name: l.GetName()})
	}
	for _, a := range iss.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	if iss.Milestone != nil {
		out.MilestoneNumber = iss.Milestone.GetNumber()
	}
	return out
}

// IssueCreateInput holds the fields for issue creation.
type IssueCreateInput struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
	Milestone int // milestone number, 0 for none
}

// CreateIssue opens an issue on the repository.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, input IssueCreateInput) (*Issue, error) {
	req := &gh.IssueRequest{
		Title: gh.String(input.Title),
		Body:  gh.String(input.Body),
	}
	if len(input.Labels) > 0 {
		req.Labels = &input.Labels
	}
	if len(input.Assignees) > 0 {
		req.Assignees = &input.Assignees
	}
	if input.Milestone > 0 {
		req.Milestone = gh.Int(input.Milestone)
	}
	iss, _, err := c.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return fromIssue(iss), nil
}

// GetIssue fetches one issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	iss, _, err := c.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}
	return fromIssue(iss), nil
}

// EditIssue patches title and/or body. Nil means unchanged.
func (c *Client) EditIssue(ctx context.Context, owner, repo string, number int, title, body *string) error {
	if title == nil && body == nil {
		return nil
	}
	req := &gh.IssueRequest{Title: title, Body: body}
	if _, _, err := c.client.Issues.Edit(ctx, owner, repo, number, req); err != nil {
		return fmt.Errorf("failed to edit issue #%d: %w", number, err)
	}
	return nil
}

// SetIssueState opens or closes an issue. For "closed", reason maps to
// the state_reason field ("completed" or "not_planned").
func (c *Client) SetIssueState(ctx context.Context, owner, repo string, number int, state string, reason types.CloseReason) error {
	req := &gh.IssueRequest{State: gh.String(state)}
	if state == "closed" {
		switch reason {
		case types.CloseCanceled:
			req.StateReason = gh.String("not_planned")
		default:
			req.StateReason = gh.String("completed")
		}
	}
	if _, _, err := c.client.Issues.Edit(ctx, owner, repo, number, req); err != nil {
		return fmt.Errorf("failed to set issue #%d state: %w", number, err)
	}
	return nil
}

// SetMilestone attaches an issue to a milestone, or detaches it when
// milestoneNumber is 0.
func (c *Client) SetMilestone(ctx context.Context, owner, repo string, number, milestoneNumber int) error {
	if milestoneNumber == 0 {
		if _, _, err := c.client.Issues.RemoveMilestone(ctx, owner, repo, number); err != nil {
			return fmt.Errorf("failed to remove milestone from #%d: %w", number, err)
		}
		return nil
	}
	req := &gh.IssueRequest{Milestone: gh.Int(milestoneNumber)}
	if _, _, err := c.client.Issues.Edit(ctx, owner, repo, number, req); err != nil {
		return fmt.Errorf("failed to set milestone on #%d: %w", number, err)
	}
	return nil
}

// ReplaceAssignees swaps the assignee set on an issue.
func (c *Client) ReplaceAssignees(ctx context.Context, owner, repo string, number int, current, want []string) error {
	if len(current) > 0 {
		if _, _, err := c.client.Issues.RemoveAssignees(ctx, owner, repo, number, current); err != nil {
			return fmt.Errorf("failed to remove assignees from #%d: %w", number, err)
		}
	}
	if len(want) > 0 {
		if _, _, err := c.client.Issues.AddAssignees(ctx, owner, repo, number, want); err != nil {
			return fmt.Errorf("failed to assign #%d: %w", number, err)
		}
	}
	return nil
}

// AddLabels appends labels to an issue.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	if _, _, err := c.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels); err != nil {
		return fmt.Errorf("failed to add labels to #%d: %w", number, err)
	}
	return nil
}

// RemoveLabel removes one label from an issue. A 404 means the label was
// already gone, which is fine.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	resp, err := c.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to remove label %q from #%d: %w", label, number, err)
	}
	return nil
}

// ReplaceLabels sets the exact label set of an issue.
func (c *Client) ReplaceLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	if _, _, err := c.client.Issues.ReplaceLabelsForIssue(ctx, owner, repo, number, labels); err != nil {
		return fmt.Errorf("failed to replace labels on #%d: %w", number, err)
	}
	return nil
}

// FindLabel looks up a repository label by name. GitHub matches label
// names case-insensitively. Returns (nil, nil) on 404.
func (c *Client) FindLabel(ctx context.Context, owner, repo, name string) (*types.Label, error) {
	lbl, resp, err := c.client.Issues.GetLabel(ctx, owner, repo, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find label %q: %w", name, err)
	}
	return &types.Label{Name: lbl.GetName()}, nil
}

// CreateLabel creates a repository label.
func (c *Client) CreateLabel(ctx context.Context, owner, repo, name string) (*types.Label, error) {
	lbl, _, err := c.client.Issues.CreateLabel(ctx, owner, repo, &gh.Label{Name: gh.String(name)})
	if err != nil {
		return nil, fmt.Errorf("failed to create label %q: %w", name, err)
	}
	return &types.Label{Name: lbl.GetName()}, nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	cmt, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: gh.String(body)})
	if err != nil {
		return nil, fmt.Errorf("failed to create comment on #%d: %w", number, err)
	}
	return &Comment{ID: cmt.GetID(), Body: cmt.GetBody(), HTMLURL: cmt.GetHTMLURL()}, nil
}

// UpdateComment replaces a comment body.
func (c *Client) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	_, _, err := c.client.Issues.EditComment(ctx, owner, repo, commentID, &gh.IssueComment{Body: gh.String(body)})
	if err != nil {
		return fmt.Errorf("failed to update comment %d: %w", commentID, err)
	}
	return nil
}

// ListComments returns all comments on an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	opts := &gh.IssueListCommentsOptions{
		Sort:        gh.String("created"),
		Direction:   gh.String("asc"),
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var all []Comment
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments on #%d: %w", number, err)
		}
		for _, cmt := range comments {
			all = append(all, Comment{
				ID:        cmt.GetID(),
				Body:      cmt.GetBody(),
				UserLogin: cmt.GetUser().GetLogin(),
				HTMLURL:   cmt.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateMilestone creates a repository milestone. Milestones mirrored
// from cycles with a past end date are created closed.
func (c *Client) CreateMilestone(ctx context.Context, owner, repo, title, description string, dueOn *time.Time) (*Milestone, error) {
	ms := &gh.Milestone{
		Title:       gh.String(title),
		Description: gh.String(description),
	}
	if dueOn != nil {
		ms.DueOn = &gh.Timestamp{Time: *dueOn}
		if dueOn.Before(time.Now()) {
			ms.State = gh.String("closed")
		}
	}
	created, _, err := c.client.Issues.CreateMilestone(ctx, owner, repo, ms)
	if err != nil {
		return nil, fmt.Errorf("failed to create milestone %q: %w", title, err)
	}
	return fromMilestone(created), nil
}

// GetMilestone fetches one milestone by number.
func (c *Client) GetMilestone(ctx context.Context, owner, repo string, number int) (*Milestone, error) {
	ms, _, err := c.client.Issues.GetMilestone(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get milestone %d: %w", number, err)
	}
	return fromMilestone(ms), nil
}

func fromMilestone(ms *gh.Milestone) *Milestone {
	out := &Milestone{
		Number:      ms.GetNumber(),
		Title:       ms.GetTitle(),
		Description: ms.GetDescription(),
		State:       ms.GetState(),
	}
	if ms.DueOn != nil {
		t := ms.DueOn.Time
		out.DueOn = &t
	}
	return out
}

// FindUserByEmail searches for a user by their public email address.
// Returns (nil, nil) when nobody matches.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*types.Actor, error) {
	result, _, err := c.client.Search.Users(ctx, fmt.Sprintf("%s in:email", email), &gh.SearchOptions{
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	if len(result.Users) == 0 {
		return nil, nil
	}
	u := result.Users[0]
	return &types.Actor{
		ID:    strconv.FormatInt(u.GetID(), 10),
		Login: u.GetLogin(),
		Name:  u.GetName(),
	}, nil
}

// AuthenticatedUser returns the identity behind the token. The sync
// records this as its bot login for echo suppression.
func (c *Client) AuthenticatedUser(ctx context.Context) (*types.Actor, error) {
	u, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated user: %w", err)
	}
	return &types.Actor{
		ID:    strconv.FormatInt(u.GetID(), 10),
		Login: u.GetLogin(),
		Name:  u.GetName(),
	}, nil
}

// GetRepository resolves owner/repo to its numeric ID.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (int64, string, error) {
	r, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return 0, "", fmt.Errorf("failed to get repository: %w", err)
	}
	return r.GetID(), r.GetFullName(), nil
}
