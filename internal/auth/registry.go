// Package auth is the external-collaborator boundary named in spec §1:
// "authentication/team registry storage" is out of scope except for its
// interface. This in-memory implementation exists only so REST calls are
// testable end-to-end in this repo; a production deployment would back
// Registry with a durable store without changing the interface.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/google/uuid"

	"fenrir/internal/common"
)

var ErrUnknownRole = errors.New("unknown role")

// Registry authenticates API keys and registers new teams (spec §6
// POST /game/teams, §1 "read-mostly, guarded but low contention").
type Registry struct {
	mu         sync.RWMutex
	byAPIKey   map[string]common.Team
	byTeamID   map[string]common.Team
}

func NewRegistry() *Registry {
	return &Registry{
		byAPIKey: make(map[string]common.Team),
		byTeamID: make(map[string]common.Team),
	}
}

// Register creates a new team with a freshly generated API key.
func (r *Registry) Register(teamName, roleStr string) (common.Team, error) {
	role, ok := common.ParseRole(roleStr)
	if !ok {
		return common.Team{}, ErrUnknownRole
	}

	team := common.Team{
		TeamID:   uuid.New().String(),
		TeamName: teamName,
		Role:     role,
		APIKey:   generateAPIKey(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPIKey[team.APIKey] = team
	r.byTeamID[team.TeamID] = team
	return team, nil
}

// Authenticate resolves an API key to a team.
func (r *Registry) Authenticate(apiKey string) (common.Team, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.byAPIKey[apiKey]
	return team, ok
}

// Lookup resolves a team by ID (used for counterparty display names, etc).
func (r *Registry) Lookup(teamID string) (common.Team, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.byTeamID[teamID]
	return team, ok
}

// RoleOf is the narrow view of Lookup the validator and publisher need for
// constraint-chain and fee-schedule selection.
func (r *Registry) RoleOf(teamID string) (common.Role, bool) {
	team, ok := r.Lookup(teamID)
	return team.Role, ok
}

func generateAPIKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported platform does not fail; a
		// uuid fallback keeps Register total rather than panicking.
		return uuid.New().String() + uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
