package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient("lin_api_test").WithEndpoint(srv.URL)
	return c, srv
}

func TestFetchIssue(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "lin_api_test" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(req.Query, "issue(id: $id)") {
			t.Errorf("unexpected query: %s", req.Query)
		}
		w.Write([]byte(`{"data": {"issue": {
			"id": "iss-1", "identifier": "ENG-42", "number": 42,
			"title": "Crash on save", "description": "body",
			"priority": 2, "estimate": 3,
			"state": {"id": "st-todo"},
			"assignee": {"id": "usr-2"},
			"team": {"id": "team-1", "key": "ENG"},
			"labels": {"nodes": [{"id": "lbl-1", "name": "bug"}]},
			"cycle": {"id": "cyc-1"}
		}}}`))
	})
	defer srv.Close()

	issue, err := c.FetchIssue(context.Background(), "iss-1")
	if err != nil {
		t.Fatal(err)
	}
	if issue.Identifier != "ENG-42" || issue.StateID != "st-todo" || issue.TeamKey != "ENG" {
		t.Errorf("issue = %+v", issue)
	}
	if issue.Estimate != 3 || issue.CycleID != "cyc-1" {
		t.Errorf("issue = %+v", issue)
	}
	if !issue.HasLabel("lbl-1") || issue.HasLabel("lbl-2") {
		t.Errorf("labels = %+v", issue.Labels)
	}
}

func TestDoSurfacesGraphQLErrors(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors": [{"message": "Entity not found"}]}`))
	})
	defer srv.Close()

	_, err := c.FetchIssue(context.Background(), "iss-missing")
	if err == nil || !strings.Contains(err.Error(), "Entity not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	calls := 0
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data": {"issueUpdate": {"success": true}}}`))
	})
	defer srv.Close()

	title := "t"
	if err := c.UpdateIssue(context.Background(), "iss-1", IssueUpdateInput{Title: &title}); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	})
	defer srv.Close()

	_, err := c.FetchIssue(context.Background(), "iss-1")
	if err == nil {
		t.Fatal("want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestUpdateIssueClearsAssociations(t *testing.T) {
	var captured map[string]any
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables struct {
				Input map[string]any `json:"input"`
			} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		captured = req.Variables.Input
		w.Write([]byte(`{"data": {"issueUpdate": {"success": true}}}`))
	})
	defer srv.Close()

	empty := ""
	cycle := "cyc-2"
	err := c.UpdateIssue(context.Background(), "iss-1", IssueUpdateInput{
		AssigneeID: &empty,
		CycleID:    &cycle,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, present := captured["assigneeId"]; !present || v != nil {
		t.Errorf("assigneeId = %v (present %v), want explicit null", v, present)
	}
	if captured["cycleId"] != "cyc-2" {
		t.Errorf("cycleId = %v", captured["cycleId"])
	}
}

func TestUpdateIssueNoFieldsIsNoop(t *testing.T) {
	calls := 0
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) { calls++ })
	defer srv.Close()

	if err := c.UpdateIssue(context.Background(), "iss-1", IssueUpdateInput{}); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestFindLabelMiss(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"issueLabels": {"nodes": []}}}`))
	})
	defer srv.Close()

	lbl, err := c.FindLabel(context.Background(), "team-1", "missing")
	if err != nil || lbl != nil {
		t.Fatalf("got %v, %v", lbl, err)
	}
}
