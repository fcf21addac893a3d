package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/syncfork/ticketbridge/internal/engine"
	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/store"
)

// Credentials resolves the credential references stored on sync rows into
// live API clients. It implements engine.ClientFactory and the webhook
// server's SecretSource.
//
// A reference takes one of three forms:
//
//	env:NAME   the named environment variable
//	file:PATH  the file's contents, trimmed
//	KEY        a config key under "credentials."
type Credentials struct {
	cfg *Config
}

// Credentials returns the resolver bound to this configuration.
func (c *Config) Credentials() *Credentials {
	return &Credentials{cfg: c}
}

// Resolve dereferences one credential reference.
func (c *Credentials) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty credential reference")
	}
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		value := os.Getenv(name)
		if value == "" {
			return "", fmt.Errorf("credential env var %s is not set", name)
		}
		return value, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		data, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
		if err != nil {
			return "", fmt.Errorf("failed to read credential file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		value := c.cfg.v.GetString("credentials." + ref)
		if value == "" {
			return "", fmt.Errorf("credential key %q is not set", ref)
		}
		return value, nil
	}
}

// LinearFor builds a Linear client from the sync's token reference.
func (c *Credentials) LinearFor(ctx context.Context, sync *store.Sync) (engine.LinearClient, error) {
	token, err := c.Resolve(sync.LinearTokenRef)
	if err != nil {
		return nil, fmt.Errorf("linear token for sync %d: %w", sync.ID, err)
	}
	return linear.NewClient(token), nil
}

// GitHubFor builds a GitHub client from the sync's token reference.
func (c *Credentials) GitHubFor(ctx context.Context, sync *store.Sync) (engine.GitHubClient, error) {
	token, err := c.Resolve(sync.GitHubTokenRef)
	if err != nil {
		return nil, fmt.Errorf("github token for sync %d: %w", sync.ID, err)
	}
	return github.NewClient(token), nil
}

// WebhookSecret resolves the sync's webhook signing secret.
func (c *Credentials) WebhookSecret(ctx context.Context, sync *store.Sync) ([]byte, error) {
	secret, err := c.Resolve(sync.WebhookSecretRef)
	if err != nil {
		return nil, fmt.Errorf("webhook secret for sync %d: %w", sync.ID, err)
	}
	return []byte(secret), nil
}
