// Package identity maps users, labels, states, priorities, and estimates
// between the two trackers. Mappings that cannot be resolved degrade to a
// zero value rather than failing the surrounding sync step.
package identity

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/syncfork/ticketbridge/internal/store"
	"github.com/syncfork/ticketbridge/internal/types"
)

// LinearDirectory is the slice of the Linear client identity needs.
type LinearDirectory interface {
	FetchUser(ctx context.Context, userID string) (*types.Actor, error)
	FindLabel(ctx context.Context, teamID, name string) (*types.Label, error)
	CreateLabel(ctx context.Context, teamID, name string) (*types.Label, error)
}

// GitHubDirectory is the slice of the GitHub client identity needs.
type GitHubDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*types.Actor, error)
	FindLabel(ctx context.Context, owner, repo, name string) (*types.Label, error)
	CreateLabel(ctx context.Context, owner, repo, name string) (*types.Label, error)
}

// Mapper resolves cross-tracker identities, caching user pairs in the store.
type Mapper struct {
	Store  store.Storage
	Linear LinearDirectory
	GitHub GitHubDirectory
}

func New(st store.Storage, ln LinearDirectory, gh GitHubDirectory) *Mapper {
	return &Mapper{Store: st, Linear: ln, GitHub: gh}
}

// GitHubLoginFor returns the GitHub login mapped to a Linear user, or ""
// when no mapping exists and none can be discovered. A "" result is not an
// error: callers skip the assignment and note it in the mirrored content.
func (m *Mapper) GitHubLoginFor(ctx context.Context, linearUserID string) string {
	if linearUserID == "" {
		return ""
	}
	if id, err := m.Store.GetUserIdentityByLinearID(ctx, linearUserID); err == nil {
		return id.GitHubLogin
	}
	if m.Linear == nil || m.GitHub == nil {
		return ""
	}
	user, err := m.Linear.FetchUser(ctx, linearUserID)
	if err != nil || user == nil || user.Email == "" {
		return ""
	}
	match, err := m.GitHub.FindUserByEmail(ctx, user.Email)
	if err != nil || match == nil || match.Login == "" {
		return ""
	}
	ident := &store.UserIdentity{
		LinearUserID: linearUserID,
		LinearName:   user.Name,
		LinearEmail:  user.Email,
		GitHubLogin:  match.Login,
	}
	if err := m.Store.UpsertUserIdentity(ctx, ident); err != nil {
		log.Printf("identity: caching %s -> %s failed: %v", linearUserID, match.Login, err)
	}
	return match.Login
}

// LinearUserFor returns the Linear user ID mapped to a GitHub login, or "".
func (m *Mapper) LinearUserFor(ctx context.Context, githubLogin string) string {
	if githubLogin == "" {
		return ""
	}
	if id, err := m.Store.GetUserIdentityByGitHubLogin(ctx, githubLogin); err == nil {
		return id.LinearUserID
	}
	return ""
}

// ResolveMention implements content.MentionResolver over the stored pairs.
func (m *Mapper) ResolveMention(ctx context.Context, from types.Side, handle string) (string, bool) {
	switch from {
	case types.SideLinear:
		if id, err := m.Store.GetUserIdentityByLinearID(ctx, handle); err == nil {
			return id.GitHubLogin, true
		}
	case types.SideGitHub:
		if id, err := m.Store.GetUserIdentityByGitHubLogin(ctx, handle); err == nil {
			if id.LinearName != "" {
				return id.LinearName, true
			}
			return id.LinearUserID, true
		}
	}
	return "", false
}

// EnsureGitHubLabel finds a repo label by name, case-insensitively, creating
// it when absent. A concurrent create by the other webhook worker surfaces
// as "already exists" and is treated as success.
func (m *Mapper) EnsureGitHubLabel(ctx context.Context, sync *store.Sync, name string) error {
	if lbl, err := m.GitHub.FindLabel(ctx, sync.GitHubOwner, sync.GitHubRepo, name); err == nil && lbl != nil {
		return nil
	}
	_, err := m.GitHub.CreateLabel(ctx, sync.GitHubOwner, sync.GitHubRepo, name)
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

// EnsureLinearLabel is the team-side counterpart of EnsureGitHubLabel.
// It returns the label ID, which Linear mutations require.
func (m *Mapper) EnsureLinearLabel(ctx context.Context, sync *store.Sync, name string) (string, error) {
	if lbl, err := m.Linear.FindLabel(ctx, sync.LinearTeamID, name); err == nil && lbl != nil {
		return lbl.ID, nil
	}
	lbl, err := m.Linear.CreateLabel(ctx, sync.LinearTeamID, name)
	if err != nil {
		if isAlreadyExists(err) {
			if lbl, ferr := m.Linear.FindLabel(ctx, sync.LinearTeamID, name); ferr == nil && lbl != nil {
				return lbl.ID, nil
			}
		}
		return "", err
	}
	return lbl.ID, nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already_exists")
}

// GitHubStateFor maps a Linear workflow state ID to a GitHub issue state
// and close reason using the sync's recorded terminal states. Unknown
// state IDs mean the issue is in some open column and map to open.
func GitHubStateFor(sync *store.Sync, stateID string) (string, types.CloseReason) {
	switch stateID {
	case sync.DoneStateID:
		return "closed", types.CloseDone
	case sync.CanceledStateID:
		return "closed", types.CloseCanceled
	default:
		return "open", types.CloseNone
	}
}

// LinearStateFor maps a GitHub state transition to a Linear workflow state ID.
func LinearStateFor(sync *store.Sync, state string, reason types.CloseReason) string {
	if state != "closed" {
		return sync.ToDoStateID
	}
	if reason == types.CloseCanceled {
		return sync.CanceledStateID
	}
	return sync.DoneStateID
}

const priorityPrefix = "Priority: "

var priorityNames = map[int]string{
	1: "Urgent",
	2: "High",
	3: "Medium",
	4: "Low",
}

// SetPriorityNames overrides bucket names from configuration. Called once
// at startup, before any webhook traffic; not safe for concurrent use.
func SetPriorityNames(names map[int]string) {
	for bucket, name := range names {
		if _, ok := priorityNames[bucket]; ok && name != "" {
			priorityNames[bucket] = name
		}
	}
}

// PriorityLabel renders a Linear priority bucket as a repo label name.
// Bucket 0 means no priority and has no label.
func PriorityLabel(priority int) string {
	name, ok := priorityNames[priority]
	if !ok {
		return ""
	}
	return priorityPrefix + name
}

// PriorityFromLabel parses a "Priority: X" label back into a bucket.
func PriorityFromLabel(label string) (int, bool) {
	rest, ok := strings.CutPrefix(label, priorityPrefix)
	if !ok {
		return 0, false
	}
	for p, name := range priorityNames {
		if strings.EqualFold(name, rest) {
			return p, true
		}
	}
	return 0, false
}

// IsPriorityLabel reports whether a label belongs to the priority family.
// Members of one family are mutually exclusive on an issue.
func IsPriorityLabel(label string) bool {
	_, ok := PriorityFromLabel(label)
	return ok
}

// EstimateLabel renders a point estimate as a repo label name. Zero means
// no estimate and has no label.
func EstimateLabel(points int) string {
	if points <= 0 {
		return ""
	}
	if points == 1 {
		return "1 point"
	}
	return fmt.Sprintf("%d points", points)
}

// EstimateFromLabel parses an "N points" label back into a point value.
func EstimateFromLabel(label string) (int, bool) {
	rest, found := strings.CutSuffix(label, " points")
	if !found {
		rest, found = strings.CutSuffix(label, " point")
	}
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsEstimateLabel reports whether a label belongs to the estimate family.
func IsEstimateLabel(label string) bool {
	_, ok := EstimateFromLabel(label)
	return ok
}

// MilestoneKindFor routes a milestone to a Linear cycle or project.
// Descriptions carrying a "(Project)" marker land in projects, everything
// else in cycles.
func MilestoneKindFor(description string) store.MilestoneKind {
	if strings.Contains(description, "(Project)") {
		return store.MilestoneProject
	}
	return store.MilestoneCycle
}
