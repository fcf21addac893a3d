// Package linear provides a client for the Linear GraphQL API and
// normalization of Linear webhook deliveries.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/syncfork/ticketbridge/internal/types"
)

const (
	DefaultEndpoint = "https://api.linear.app/graphql"
	DefaultTimeout  = 30 * time.Second
)

// Client talks to the Linear GraphQL API with a single API key.
type Client struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a new Linear client.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:   apiKey,
		Endpoint: DefaultEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithEndpoint returns a new client with a custom endpoint (for testing).
func (c *Client) WithEndpoint(endpoint string) *Client {
	return &Client{
		APIKey:     c.APIKey,
		Endpoint:   endpoint,
		HTTPClient: c.HTTPClient,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// do executes one GraphQL operation, retrying rate limits and 5xx
// responses with exponential backoff. GraphQL-level errors are permanent.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	attempt := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, &transientError{err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		if err != nil {
			return nil, &transientError{fmt.Errorf("failed to read response: %w", err)}
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			// Retryable - backoff will retry
			return nil, &transientError{fmt.Errorf("linear API status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("linear API status %d: %s", resp.StatusCode, body))
		}
		return body, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	body, err := backoff.RetryWithData(attempt, policy)
	if err != nil {
		return err
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("linear API error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

// issueFields is the selection set shared by issue queries and mutations.
const issueFields = `id identifier number title description priority estimate url
state { id } assignee { id } team { id key }
labels { nodes { id name } } cycle { id } project { id }`

type issueNode struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    int     `json:"priority"`
	Estimate    float64 `json:"estimate"`
	URL         string  `json:"url"`
	State       *struct {
		ID string `json:"id"`
	} `json:"state"`
	Assignee *struct {
		ID string `json:"id"`
	} `json:"assignee"`
	Team *struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"team"`
	Labels struct {
		Nodes []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Cycle *struct {
		ID string `json:"id"`
	} `json:"cycle"`
	Project *struct {
		ID string `json:"id"`
	} `json:"project"`
}

func (n *issueNode) toIssue() *Issue {
	issue := &Issue{
		ID:          n.ID,
		Identifier:  n.Identifier,
		Number:      n.Number,
		Title:       n.Title,
		Description: n.Description,
		Priority:    n.Priority,
		Estimate:    int(n.Estimate),
		URL:         n.URL,
	}
	if n.State != nil {
		issue.StateID = n.State.ID
	}
	if n.Assignee != nil {
		issue.AssigneeID = n.Assignee.ID
	}
	if n.Team != nil {
		issue.TeamID = n.Team.ID
		issue.TeamKey = n.Team.Key
	}
	for _, l := range n.Labels.Nodes {
		issue.Labels = append(issue.Labels, types.Label{ID: l.ID, Name: l.Name})
	}
	if n.Cycle != nil {
		issue.CycleID = n.Cycle.ID
	}
	if n.Project != nil {
		issue.ProjectID = n.Project.ID
	}
	return issue
}

// FetchIssue retrieves a single issue by its UUID.
func (c *Client) FetchIssue(ctx context.Context, issueID string) (*Issue, error) {
	query := fmt.Sprintf(`query($id: String!) { issue(id: $id) { %s } }`, issueFields)
	var resp struct {
		Issue *issueNode `json:"issue"`
	}
	if err := c.do(ctx, query, map[string]any{"id": issueID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", issueID, err)
	}
	if resp.Issue == nil {
		return nil, fmt.Errorf("issue %s not found", issueID)
	}
	return resp.Issue.toIssue(), nil
}

// CreateIssue creates an issue on the team.
func (c *Client) CreateIssue(ctx context.Context, input IssueCreateInput) (*Issue, error) {
	query := fmt.Sprintf(`mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) { success issue { %s } }
	}`, issueFields)
	var resp struct {
		IssueCreate struct {
			Success bool       `json:"success"`
			Issue   *issueNode `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.do(ctx, query, map[string]any{"input": input}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	if !resp.IssueCreate.Success || resp.IssueCreate.Issue == nil {
		return nil, fmt.Errorf("issueCreate did not succeed")
	}
	return resp.IssueCreate.Issue.toIssue(), nil
}

// UpdateIssue applies the non-nil fields of input to an issue. A pointer
// to "" on AssigneeID, CycleID, or ProjectID clears the association.
func (c *Client) UpdateIssue(ctx context.Context, issueID string, input IssueUpdateInput) error {
	fields := map[string]any{}
	if input.Title != nil {
		fields["title"] = *input.Title
	}
	if input.Description != nil {
		fields["description"] = *input.Description
	}
	if input.StateID != nil {
		fields["stateId"] = *input.StateID
	}
	if input.Priority != nil {
		fields["priority"] = *input.Priority
	}
	if input.Estimate != nil {
		fields["estimate"] = *input.Estimate
	}
	if input.LabelIDs != nil {
		fields["labelIds"] = input.LabelIDs
	}
	for key, val := range map[string]*string{
		"assigneeId": input.AssigneeID,
		"cycleId":    input.CycleID,
		"projectId":  input.ProjectID,
	} {
		if val == nil {
			continue
		}
		if *val == "" {
			fields[key] = nil
		} else {
			fields[key] = *val
		}
	}
	if len(fields) == 0 {
		return nil
	}

	query := `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	var resp struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := c.do(ctx, query, map[string]any{"id": issueID, "input": fields}, &resp); err != nil {
		return fmt.Errorf("failed to update issue %s: %w", issueID, err)
	}
	if !resp.IssueUpdate.Success {
		return fmt.Errorf("issueUpdate did not succeed")
	}
	return nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) (*Comment, error) {
	query := `mutation($input: CommentCreateInput!) {
		commentCreate(input: $input) { success comment { id body } }
	}`
	vars := map[string]any{"input": map[string]any{"issueId": issueID, "body": body}}
	var resp struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment *struct {
				ID   string `json:"id"`
				Body string `json:"body"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	if err := c.do(ctx, query, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	if !resp.CommentCreate.Success || resp.CommentCreate.Comment == nil {
		return nil, fmt.Errorf("commentCreate did not succeed")
	}
	return &Comment{ID: resp.CommentCreate.Comment.ID, Body: resp.CommentCreate.Comment.Body, IssueID: issueID}, nil
}

// UpdateComment replaces the body of a comment.
func (c *Client) UpdateComment(ctx context.Context, commentID, body string) error {
	query := `mutation($id: String!, $input: CommentUpdateInput!) {
		commentUpdate(id: $id, input: $input) { success }
	}`
	vars := map[string]any{"id": commentID, "input": map[string]any{"body": body}}
	var resp struct {
		CommentUpdate struct {
			Success bool `json:"success"`
		} `json:"commentUpdate"`
	}
	if err := c.do(ctx, query, vars, &resp); err != nil {
		return fmt.Errorf("failed to update comment %s: %w", commentID, err)
	}
	if !resp.CommentUpdate.Success {
		return fmt.Errorf("commentUpdate did not succeed")
	}
	return nil
}

// FetchComments lists all comments on an issue, oldest first.
func (c *Client) FetchComments(ctx context.Context, issueID string) ([]Comment, error) {
	query := `query($id: String!, $after: String) {
		issue(id: $id) {
			comments(first: 100, after: $after) {
				nodes { id body user { id } }
				pageInfo { hasNextPage endCursor }
			}
		}
	}`
	var all []Comment
	var after *string
	for {
		vars := map[string]any{"id": issueID}
		if after != nil {
			vars["after"] = *after
		}
		var resp struct {
			Issue *struct {
				Comments struct {
					Nodes []struct {
						ID   string `json:"id"`
						Body string `json:"body"`
						User *struct {
							ID string `json:"id"`
						} `json:"user"`
					} `json:"nodes"`
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
				} `json:"comments"`
			} `json:"issue"`
		}
		if err := c.do(ctx, query, vars, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch comments for %s: %w", issueID, err)
		}
		if resp.Issue == nil {
			return nil, fmt.Errorf("issue %s not found", issueID)
		}
		for _, n := range resp.Issue.Comments.Nodes {
			comment := Comment{ID: n.ID, Body: n.Body, IssueID: issueID}
			if n.User != nil {
				comment.UserID = n.User.ID
			}
			all = append(all, comment)
		}
		if !resp.Issue.Comments.PageInfo.HasNextPage {
			return all, nil
		}
		cursor := resp.Issue.Comments.PageInfo.EndCursor
		after = &cursor
	}
}

// FindLabel looks up a team label by name, case-insensitively.
// Returns (nil, nil) when no label matches.
func (c *Client) FindLabel(ctx context.Context, teamID, name string) (*types.Label, error) {
	query := `query($teamId: ID!, $name: String!) {
		issueLabels(filter: { team: { id: { eq: $teamId } }, name: { eqIgnoreCase: $name } }, first: 1) {
			nodes { id name }
		}
	}`
	var resp struct {
		IssueLabels struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	if err := c.do(ctx, query, map[string]any{"teamId": teamID, "name": name}, &resp); err != nil {
		return nil, fmt.Errorf("failed to find label %q: %w", name, err)
	}
	if len(resp.IssueLabels.Nodes) == 0 {
		return nil, nil
	}
	n := resp.IssueLabels.Nodes[0]
	return &types.Label{ID: n.ID, Name: n.Name}, nil
}

// FetchLabel retrieves a label by ID. Webhook payloads carry only the ID
// for removed labels, so the counterpart update has to look the name up.
func (c *Client) FetchLabel(ctx context.Context, labelID string) (*types.Label, error) {
	query := `query($id: String!) { issueLabel(id: $id) { id name } }`
	var resp struct {
		IssueLabel *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"issueLabel"`
	}
	if err := c.do(ctx, query, map[string]any{"id": labelID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch label %s: %w", labelID, err)
	}
	if resp.IssueLabel == nil {
		return nil, fmt.Errorf("label %s not found", labelID)
	}
	return &types.Label{ID: resp.IssueLabel.ID, Name: resp.IssueLabel.Name}, nil
}

// CreateLabel creates a team label.
func (c *Client) CreateLabel(ctx context.Context, teamID, name string) (*types.Label, error) {
	query := `mutation($input: IssueLabelCreateInput!) {
		issueLabelCreate(input: $input) { success issueLabel { id name } }
	}`
	vars := map[string]any{"input": map[string]any{"teamId": teamID, "name": name}}
	var resp struct {
		IssueLabelCreate struct {
			Success    bool `json:"success"`
			IssueLabel *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"issueLabel"`
		} `json:"issueLabelCreate"`
	}
	if err := c.do(ctx, query, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to create label %q: %w", name, err)
	}
	if !resp.IssueLabelCreate.Success || resp.IssueLabelCreate.IssueLabel == nil {
		return nil, fmt.Errorf("issueLabelCreate did not succeed")
	}
	return &types.Label{ID: resp.IssueLabelCreate.IssueLabel.ID, Name: resp.IssueLabelCreate.IssueLabel.Name}, nil
}

// FetchUser retrieves a user's profile.
func (c *Client) FetchUser(ctx context.Context, userID string) (*types.Actor, error) {
	query := `query($id: String!) { user(id: $id) { id name displayName email } }`
	var resp struct {
		User *struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
		} `json:"user"`
	}
	if err := c.do(ctx, query, map[string]any{"id": userID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}
	if resp.User == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return &types.Actor{
		ID:    resp.User.ID,
		Login: resp.User.DisplayName,
		Name:  resp.User.Name,
		Email: resp.User.Email,
	}, nil
}

// FetchViewer returns the identity behind the API key. The sync records
// this as its bot identity for echo suppression.
func (c *Client) FetchViewer(ctx context.Context) (*types.Actor, error) {
	query := `query { viewer { id name displayName email } }`
	var resp struct {
		Viewer struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
		} `json:"viewer"`
	}
	if err := c.do(ctx, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch viewer: %w", err)
	}
	return &types.Actor{
		ID:    resp.Viewer.ID,
		Login: resp.Viewer.DisplayName,
		Name:  resp.Viewer.Name,
		Email: resp.Viewer.Email,
	}, nil
}

// FetchWorkflowStates lists the workflow states of a team.
func (c *Client) FetchWorkflowStates(ctx context.Context, teamID string) ([]WorkflowState, error) {
	query := `query($teamId: ID!) {
		workflowStates(filter: { team: { id: { eq: $teamId } } }, first: 50) {
			nodes { id name type }
		}
	}`
	var resp struct {
		WorkflowStates struct {
			Nodes []WorkflowState `json:"nodes"`
		} `json:"workflowStates"`
	}
	if err := c.do(ctx, query, map[string]any{"teamId": teamID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch workflow states: %w", err)
	}
	return resp.WorkflowStates.Nodes, nil
}

// FetchCycle retrieves a cycle by ID.
func (c *Client) FetchCycle(ctx context.Context, cycleID string) (*Cycle, error) {
	query := `query($id: String!) { cycle(id: $id) { id number name startsAt endsAt } }`
	var resp struct {
		Cycle *struct {
			ID       string    `json:"id"`
			Number   int       `json:"number"`
			Name     string    `json:"name"`
			StartsAt time.Time `json:"startsAt"`
			EndsAt   time.Time `json:"endsAt"`
		} `json:"cycle"`
	}
	if err := c.do(ctx, query, map[string]any{"id": cycleID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch cycle %s: %w", cycleID, err)
	}
	if resp.Cycle == nil {
		return nil, fmt.Errorf("cycle %s not found", cycleID)
	}
	n := resp.Cycle
	return &Cycle{ID: n.ID, Number: n.Number, Name: n.Name, StartsAt: n.StartsAt, EndsAt: n.EndsAt}, nil
}

// FetchProject retrieves a project by ID.
func (c *Client) FetchProject(ctx context.Context, projectID string) (*Project, error) {
	query := `query($id: String!) { project(id: $id) { id name url } }`
	var resp struct {
		Project *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"project"`
	}
	if err := c.do(ctx, query, map[string]any{"id": projectID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch project %s: %w", projectID, err)
	}
	if resp.Project == nil {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	return &Project{ID: resp.Project.ID, Name: resp.Project.Name, URL: resp.Project.URL}, nil
}

// CreateCycle creates a cycle on the team.
func (c *Client) CreateCycle(ctx context.Context, teamID, name string, startsAt, endsAt time.Time) (*Cycle, error) {
	query := `mutation($input: CycleCreateInput!) {
		cycleCreate(input: $input) { success cycle { id number name } }
	}`
	vars := map[string]any{"input": map[string]any{
		"teamId":   teamID,
		"name":     name,
		"startsAt": startsAt.Format(time.RFC3339),
		"endsAt":   endsAt.Format(time.RFC3339),
	}}
	var resp struct {
		CycleCreate struct {
			Success bool `json:"success"`
			Cycle   *struct {
				ID     string `json:"id"`
				Number int    `json:"number"`
				Name   string `json:"name"`
			} `json:"cycle"`
		} `json:"cycleCreate"`
	}
	if err := c.do(ctx, query, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to create cycle %q: %w", name, err)
	}
	if !resp.CycleCreate.Success || resp.CycleCreate.Cycle == nil {
		return nil, fmt.Errorf("cycleCreate did not succeed")
	}
	n := resp.CycleCreate.Cycle
	return &Cycle{ID: n.ID, Number: n.Number, Name: n.Name, StartsAt: startsAt, EndsAt: endsAt}, nil
}

// CreateProject creates a project attached to the team.
func (c *Client) CreateProject(ctx context.Context, teamID, name, description string, targetDate *time.Time) (*Project, error) {
	query := `mutation($input: ProjectCreateInput!) {
		projectCreate(input: $input) { success project { id name url } }
	}`
	input := map[string]any{
		"teamIds":     []string{teamID},
		"name":        name,
		"description": description,
	}
	if targetDate != nil {
		input["targetDate"] = targetDate.Format("2006-01-02")
	}
	var resp struct {
		ProjectCreate struct {
			Success bool `json:"success"`
			Project *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"project"`
		} `json:"projectCreate"`
	}
	if err := c.do(ctx, query, map[string]any{"input": input}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create project %q: %w", name, err)
	}
	if !resp.ProjectCreate.Success || resp.ProjectCreate.Project == nil {
		return nil, fmt.Errorf("projectCreate did not succeed")
	}
	n := resp.ProjectCreate.Project
	return &Project{ID: n.ID, Name: n.Name, URL: n.URL}, nil
}

// CreateAttachment links a URL to an issue. Used to cross-link the
// mirrored GitHub issue from the Linear ticket.
func (c *Client) CreateAttachment(ctx context.Context, issueID, title, url string) error {
	query := `mutation($input: AttachmentCreateInput!) {
		attachmentCreate(input: $input) { success }
	}`
	vars := map[string]any{"input": map[string]any{
		"issueId": issueID,
		"title":   title,
		"url":     url,
	}}
	var resp struct {
		AttachmentCreate struct {
			Success bool `json:"success"`
		} `json:"attachmentCreate"`
	}
	if err := c.do(ctx, query, vars, &resp); err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	if !resp.AttachmentCreate.Success {
		return fmt.Errorf("attachmentCreate did not succeed")
	}
	return nil
}
