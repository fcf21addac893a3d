package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncfork/ticketbridge/internal/engine"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/store/memory"
)

var testSecret = []byte("hunter2")

type staticSecrets struct{}

func (staticSecrets) WebhookSecret(ctx context.Context, s *store.Sync) ([]byte, error) {
	return testSecret, nil
}

// nilFactory is sufficient for tests whose events never reach a handler
// (unknown sync, echo suppression).
type nilFactory struct{}

func (nilFactory) LinearFor(ctx context.Context, s *store.Sync) (engine.LinearClient, error) {
	return nil, nil
}

func (nilFactory) GitHubFor(ctx context.Context, s *store.Sync) (engine.GitHubClient, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, store.Storage) {
	t.Helper()
	st := memory.New()
	srv := NewServer(ServerConfig{
		Store:   st,
		Engine:  engine.New(st, nilFactory{}),
		Secrets: staticSecrets{},
	})
	return srv, st
}

func seedSync(t *testing.T, st store.Storage) *store.Sync {
	t.Helper()
	sync := &store.Sync{
		LinearTeamID:   "team-1",
		LinearTeamKey:  "ENG",
		GitHubRepoID:   99,
		GitHubOwner:    "acme",
		GitHubRepo:     "widgets",
		LinearBotID:    "bot-lin",
		GitHubBotLogin: "ticketbridge-bot",
	}
	require.NoError(t, st.CreateSync(context.Background(), sync))
	return sync
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) DeliveryResponse {
	t.Helper()
	var resp DeliveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLinearRejectsUnknownSourceAddress(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/linear", bytes.NewReader([]byte(`{}`)))
	req.RemoteAddr = "203.0.113.50:4123"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)
}

func TestLinearDeliveryForUnknownTeamAcknowledged(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{
		"action": "create",
		"type": "Issue",
		"organizationId": "org-1",
		"webhookId": "wh-1",
		"actor": {"id": "usr-1", "name": "Alice"},
		"data": {"id": "iss-1", "number": 42, "title": "Crash on save", "teamId": "team-unknown"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/linear", bytes.NewReader([]byte(body)))
	req.RemoteAddr = "35.231.147.226:443"
	req.Header.Set("Linear-Delivery", "dlv-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Synced)
	assert.Contains(t, resp.Results[0].Message, "no sync configured")
}

func TestLinearUntrackedEntityIgnored(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"action": "create", "type": "Reaction", "data": {}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/linear", bytes.NewReader([]byte(body)))
	req.RemoteAddr = "35.231.147.226:443"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Results)
}

func TestLinearMalformedPayloadRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/linear", bytes.NewReader([]byte(`not json`)))
	req.RemoteAddr = "35.231.147.226:443"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHubPingAcknowledged(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(`{"zen":"Keep it logically awesome."}`)))
	req.Header.Set(gh.EventTypeHeader, "ping")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)
}

func TestGitHubUnknownRepoRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"action":"opened","repository":{"id":12345,"full_name":"other/repo"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(gh.EventTypeHeader, "issues")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGitHubBadSignatureRejected(t *testing.T) {
	srv, st := newTestServer(t)
	seedSync(t, st)

	body := []byte(`{"action":"opened","repository":{"id":99,"full_name":"acme/widgets"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(gh.EventTypeHeader, "issues")
	req.Header.Set(gh.SHA256SignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGitHubSignedDeliveryProcessed(t *testing.T) {
	srv, st := newTestServer(t)
	seedSync(t, st)

	// Sender is the sync's own bot, so the engine suppresses the echo
	// without needing API clients.
	body := []byte(`{
		"action": "opened",
		"issue": {"id": 5001, "number": 7, "title": "Test", "body": "hi", "state": "open"},
		"repository": {"id": 99, "full_name": "acme/widgets"},
		"sender": {"id": 77, "login": "ticketbridge-bot"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(gh.EventTypeHeader, "issues")
	req.Header.Set(gh.DeliveryIDHeader, "gh-dlv-1")
	req.Header.Set(gh.SHA256SignatureHeader, sign(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "issue_created", resp.Results[0].Kind)
	assert.False(t, resp.Results[0].Synced)
	assert.Contains(t, resp.Results[0].Message, "echo suppressed")
}

func TestGitHubUntrackedEventIgnored(t *testing.T) {
	srv, st := newTestServer(t)
	seedSync(t, st)

	body := []byte(`{"ref":"refs/heads/main","repository":{"id":99,"full_name":"acme/widgets"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(gh.EventTypeHeader, "push")
	req.Header.Set(gh.SHA256SignatureHeader, sign(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Results)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/webhooks/linear", "/webhooks/github"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}
