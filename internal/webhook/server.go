// Package webhook exposes the HTTP surface that receives Linear and GitHub
// deliveries, authenticates them, and hands normalized events to the engine.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"

	"github.com/syncfork/ticketbridge/internal/engine"
	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/telemetry"
	"github.com/syncfork/ticketbridge/internal/types"
)

const maxBodyBytes = 1 << 20 // 1MB limit

// SecretSource resolves the webhook secret for a sync. Each sync carries its
// own secret reference; the vault-backed implementation lives in config.
type SecretSource interface {
	WebhookSecret(ctx context.Context, s *store.Sync) ([]byte, error)
}

// Server handles HTTP requests for inbound webhook deliveries.
type Server struct {
	store      store.Storage
	engine     *engine.Engine
	secrets    SecretSource
	linearIPs  []string
	metrics    *telemetry.Counters
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Store   store.Storage
	Engine  *engine.Engine
	Secrets SecretSource

	// LinearAllowedIPs restricts the Linear route to known source addresses.
	// Defaults to linear.DefaultWebhookIPs. An entry may be a plain address
	// or a CIDR prefix.
	LinearAllowedIPs []string

	// Metrics is optional; nil disables webhook counters.
	Metrics *telemetry.Counters
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	ips := cfg.LinearAllowedIPs
	if len(ips) == 0 {
		ips = linear.DefaultWebhookIPs
	}

	s := &Server{
		store:     cfg.Store,
		engine:    cfg.Engine,
		secrets:   cfg.Secrets,
		linearIPs: ips,
		metrics:   cfg.Metrics,
		mux:       http.NewServeMux(),
	}

	// Register routes
	s.mux.HandleFunc("/webhooks/linear", s.handleLinear)
	s.mux.HandleFunc("/webhooks/github", s.handleGitHub)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// EventResult reports what one normalized event produced.
type EventResult struct {
	Kind    string `json:"kind"`
	Synced  bool   `json:"synced"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeliveryResponse is the JSON response body for webhook routes.
type DeliveryResponse struct {
	Success bool          `json:"success"`
	Results []EventResult `json:"results,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// handleLinear handles POST /webhooks/linear.
func (s *Server) handleLinear(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, r, "linear", http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	if !linear.IPAllowed(r.RemoteAddr, s.linearIPs) {
		s.writeError(w, r, "linear", http.StatusForbidden, "source address not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, "linear", http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	payload, err := linear.ParsePayload(body)
	if err != nil {
		s.writeError(w, r, "linear", http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	deliveryID := r.Header.Get("Linear-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	events, err := linear.Normalize(payload, deliveryID)
	if err != nil {
		s.writeError(w, r, "linear", http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	s.processEvents(w, r, "linear", deliveryID, events)
}

// handleGitHub handles POST /webhooks/github.
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, r, "github", http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, "github", http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	eventType := r.Header.Get(gh.EventTypeHeader)
	if eventType == "ping" {
		s.record(r.Context(), "github", http.StatusOK)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(DeliveryResponse{Success: true})
		return
	}

	// The repo identity comes out of the unverified body: each sync holds
	// its own webhook secret, and the repo selects which one applies.
	repo, err := github.RepoFromBody(body)
	if err != nil {
		s.writeError(w, r, "github", http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	ctx := r.Context()
	sync, err := s.store.GetSyncByRepo(ctx, repo.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, "github", http.StatusNotFound, fmt.Sprintf("no sync configured for %s", repo.FullName))
		return
	}
	if err != nil {
		s.writeError(w, r, "github", http.StatusInternalServerError, fmt.Sprintf("failed to look up sync: %v", err))
		return
	}

	secret, err := s.secrets.WebhookSecret(ctx, sync)
	if err != nil {
		s.writeError(w, r, "github", http.StatusInternalServerError, fmt.Sprintf("failed to resolve webhook secret: %v", err))
		return
	}

	if err := github.ValidateSignature(r, body, secret); err != nil {
		s.writeError(w, r, "github", http.StatusForbidden, "signature validation failed")
		return
	}

	deliveryID := r.Header.Get(gh.DeliveryIDHeader)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	events, err := github.Normalize(eventType, body, deliveryID)
	if err != nil {
		s.writeError(w, r, "github", http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	s.processEvents(w, r, "github", deliveryID, events)
}

// processEvents runs each normalized event through the engine and writes the
// per-event results. Deliveries that normalize to nothing are acknowledged so
// the sender does not retry them.
func (s *Server) processEvents(w http.ResponseWriter, r *http.Request, source, deliveryID string, events []types.Event) {
	ctx := r.Context()

	results := make([]EventResult, 0, len(events))
	failed := 0
	for _, ev := range events {
		res := EventResult{Kind: string(ev.Meta().Kind)}
		outcome, err := s.engine.HandleEvent(ctx, ev)
		if err != nil {
			failed++
			res.Error = err.Error()
			log.Printf("webhook: %s delivery %s: %s failed: %v", source, deliveryID, ev.Meta().Kind, err)
			s.metrics.Event(ctx, source, "error")
		} else {
			res.Synced = outcome.Synced
			res.Message = outcome.Message
			if outcome.Synced {
				s.metrics.Event(ctx, source, "synced")
			} else {
				s.metrics.Event(ctx, source, "skipped")
			}
		}
		results = append(results, res)
	}

	status := http.StatusOK
	if len(events) > 0 && failed == len(events) {
		// Nothing succeeded; let the sender retry the whole delivery.
		status = http.StatusInternalServerError
	}

	s.record(ctx, source, status)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(DeliveryResponse{
		Success: failed == 0,
		Results: results,
	})
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, source string, status int, message string) {
	s.record(r.Context(), source, status)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(DeliveryResponse{
		Success: false,
		Error:   message,
	})
}

func (s *Server) record(ctx context.Context, source string, status int) {
	s.metrics.Delivery(ctx, source, status)
}
