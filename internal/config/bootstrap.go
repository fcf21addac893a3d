package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapFile declares the syncs the service should run. The `sync
// bootstrap` command applies it to the store, discovering through the APIs
// whatever the file leaves blank (repo id, bot identities, workflow state
// ids, the public marker label id).
type BootstrapFile struct {
	Syncs []SyncSpec `yaml:"syncs"`
}

// SyncSpec is one declared team/repo link.
type SyncSpec struct {
	LinearTeamID  string `yaml:"linear-team-id"`
	LinearTeamKey string `yaml:"linear-team-key"`
	GitHubOwner   string `yaml:"github-owner"`
	GitHubRepo    string `yaml:"github-repo"`

	// Credential references, see Credentials for the reference syntax.
	LinearToken   string `yaml:"linear-token"`
	GitHubToken   string `yaml:"github-token"`
	WebhookSecret string `yaml:"webhook-secret"`

	// PublicLabel is the Linear label whose presence drives the lifecycle.
	PublicLabel string `yaml:"public-label"`

	// Creator is the Linear user recorded as the sync's initiator.
	Creator string `yaml:"creator"`

	// Optional overrides; discovered through the APIs when blank.
	GitHubRepoID    int64  `yaml:"github-repo-id"`
	PublicLabelID   string `yaml:"public-label-id"`
	DoneStateID     string `yaml:"done-state-id"`
	CanceledStateID string `yaml:"canceled-state-id"`
	ToDoStateID     string `yaml:"todo-state-id"`
	LinearBotID     string `yaml:"linear-bot-id"`
	GitHubBotLogin  string `yaml:"github-bot-login"`
}

// LoadBootstrap reads and validates a sync bootstrap file.
func LoadBootstrap(path string) (*BootstrapFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read sync file: %w", err)
	}

	var f BootstrapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sync file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the fields discovery cannot supply.
func (f *BootstrapFile) Validate() error {
	if len(f.Syncs) == 0 {
		return fmt.Errorf("sync file declares no syncs")
	}
	for i, s := range f.Syncs {
		switch {
		case s.LinearTeamID == "":
			return fmt.Errorf("syncs[%d]: linear-team-id is required", i)
		case s.LinearTeamKey == "":
			return fmt.Errorf("syncs[%d]: linear-team-key is required", i)
		case s.GitHubOwner == "" || s.GitHubRepo == "":
			return fmt.Errorf("syncs[%d]: github-owner and github-repo are required", i)
		case s.LinearToken == "" || s.GitHubToken == "":
			return fmt.Errorf("syncs[%d]: linear-token and github-token references are required", i)
		case s.WebhookSecret == "":
			return fmt.Errorf("syncs[%d]: webhook-secret reference is required", i)
		case s.PublicLabel == "":
			return fmt.Errorf("syncs[%d]: public-label is required", i)
		}
	}
	return nil
}
