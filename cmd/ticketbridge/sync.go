package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncfork/ticketbridge/internal/config"
	"github.com/syncfork/ticketbridge/internal/github"
	"github.com/syncfork/ticketbridge/internal/linear"
	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/store/sqlite"
)

var syncFile string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage team/repository syncs",
}

var syncBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Apply a YAML sync file to the store",
	Long: `Reads a YAML sync file and creates the declared syncs. Fields the
file leaves blank are discovered through the APIs: the repository id, both
bot identities, the team's terminal workflow states, and the public marker
label (created on the team when absent).

Already-configured repositories are skipped, so bootstrap is safe to re-run.

Example sync file:

  syncs:
    - linear-team-id: e79fbb53-...
      linear-team-key: ENG
      github-owner: acme
      github-repo: widgets
      linear-token: env:LINEAR_TOKEN_ENG
      github-token: env:GITHUB_TOKEN_WIDGETS
      webhook-secret: env:HOOK_SECRET_WIDGETS
      public-label: Public
      creator: usr-uuid`,
	RunE: runSyncBootstrap,
}

var syncListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() { _ = st.Close() }()

		syncs, err := st.ListSyncs(cmd.Context())
		if err != nil {
			return err
		}
		if len(syncs) == 0 {
			fmt.Println("No syncs configured")
			return nil
		}
		for _, s := range syncs {
			fmt.Printf("  %d: %s (%s) <-> %s/%s  label=%q\n",
				s.ID, s.LinearTeamKey, s.LinearTeamID, s.GitHubOwner, s.GitHubRepo, s.PublicLabelName)
		}
		return nil
	},
}

func runSyncBootstrap(cmd *cobra.Command, args []string) error {
	path := syncFile
	if path == "" {
		path = cfg.SyncFile
	}
	if path == "" {
		return fmt.Errorf("no sync file given (use --file or set sync-file in config)")
	}

	f, err := config.LoadBootstrap(path)
	if err != nil {
		return err
	}

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	creds := cfg.Credentials()
	ctx := cmd.Context()

	var failed int
	for _, spec := range f.Syncs {
		name := fmt.Sprintf("%s <-> %s/%s", spec.LinearTeamKey, spec.GitHubOwner, spec.GitHubRepo)
		created, err := applySyncSpec(ctx, st, creds, spec)
		switch {
		case err != nil:
			failed++
			fmt.Printf("  %s: error: %v\n", name, err)
		case created:
			fmt.Printf("  %s: created\n", name)
		default:
			fmt.Printf("  %s: already configured, skipped\n", name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", failed, len(f.Syncs))
	}
	return nil
}

// applySyncSpec creates one sync row, discovering through the APIs whatever
// the file leaves blank. Returns false when the repo already has a sync.
func applySyncSpec(ctx context.Context, st store.Storage, creds *config.Credentials, spec config.SyncSpec) (bool, error) {
	linearToken, err := creds.Resolve(spec.LinearToken)
	if err != nil {
		return false, err
	}
	githubToken, err := creds.Resolve(spec.GitHubToken)
	if err != nil {
		return false, err
	}
	if _, err := creds.Resolve(spec.WebhookSecret); err != nil {
		return false, err
	}

	ln := linear.NewClient(linearToken)
	gh := github.NewClient(githubToken)

	row := &store.Sync{
		LinearTeamID:        spec.LinearTeamID,
		LinearTeamKey:       spec.LinearTeamKey,
		GitHubRepoID:        spec.GitHubRepoID,
		GitHubOwner:         spec.GitHubOwner,
		GitHubRepo:          spec.GitHubRepo,
		CreatorLinearUserID: spec.Creator,
		LinearTokenRef:      spec.LinearToken,
		GitHubTokenRef:      spec.GitHubToken,
		WebhookSecretRef:    spec.WebhookSecret,
		PublicLabelID:       spec.PublicLabelID,
		PublicLabelName:     spec.PublicLabel,
		DoneStateID:         spec.DoneStateID,
		CanceledStateID:     spec.CanceledStateID,
		ToDoStateID:         spec.ToDoStateID,
		LinearBotID:         spec.LinearBotID,
		GitHubBotLogin:      spec.GitHubBotLogin,
	}

	if row.GitHubRepoID == 0 {
		id, _, err := gh.GetRepository(ctx, spec.GitHubOwner, spec.GitHubRepo)
		if err != nil {
			return false, err
		}
		row.GitHubRepoID = id
	}

	if _, err := st.GetSyncByRepo(ctx, row.GitHubRepoID); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	if row.LinearBotID == "" {
		viewer, err := ln.FetchViewer(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to identify linear bot: %w", err)
		}
		row.LinearBotID = viewer.ID
	}
	if row.GitHubBotLogin == "" {
		me, err := gh.AuthenticatedUser(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to identify github bot: %w", err)
		}
		row.GitHubBotLogin = me.Login
	}

	if row.DoneStateID == "" || row.CanceledStateID == "" || row.ToDoStateID == "" {
		states, err := ln.FetchWorkflowStates(ctx, spec.LinearTeamID)
		if err != nil {
			return false, fmt.Errorf("failed to fetch workflow states: %w", err)
		}
		fillTerminalStates(row, states)
		if row.DoneStateID == "" || row.CanceledStateID == "" || row.ToDoStateID == "" {
			return false, fmt.Errorf("team %s lacks completed/canceled/unstarted workflow states", spec.LinearTeamKey)
		}
	}

	if row.PublicLabelID == "" {
		lbl, err := ln.FindLabel(ctx, spec.LinearTeamID, spec.PublicLabel)
		if err != nil {
			return false, err
		}
		if lbl == nil {
			lbl, err = ln.CreateLabel(ctx, spec.LinearTeamID, spec.PublicLabel)
			if err != nil {
				return false, fmt.Errorf("failed to create public label: %w", err)
			}
		}
		row.PublicLabelID = lbl.ID
	}

	if err := st.CreateSync(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// fillTerminalStates picks the first state of each terminal type. Teams with
// several completed states keep their first one; the engine only needs a
// representative id per bucket.
func fillTerminalStates(row *store.Sync, states []linear.WorkflowState) {
	for _, ws := range states {
		switch ws.Type {
		case "completed":
			if row.DoneStateID == "" {
				row.DoneStateID = ws.ID
			}
		case "canceled", "cancelled":
			if row.CanceledStateID == "" {
				row.CanceledStateID = ws.ID
			}
		case "unstarted", "backlog":
			if row.ToDoStateID == "" {
				row.ToDoStateID = ws.ID
			}
		}
	}
}

func init() {
	syncBootstrapCmd.Flags().StringVar(&syncFile, "file", "", "Sync file (YAML)")
	syncCmd.AddCommand(syncBootstrapCmd)
	syncCmd.AddCommand(syncListCmd)
	rootCmd.AddCommand(syncCmd)
}
