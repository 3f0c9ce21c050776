// Package collab defines the narrow interfaces the assessment core consumes
// from systems outside its scope: the O*NET benchmark lookup, the team
// management saga's TeamProfile, and clerk session identity. Each has an
// in-memory double for tests; production wiring lives in cmd/assessd.
package collab

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/model"
)

// ONetProfileProvider resolves an occupation code to its benchmark profile.
type ONetProfileProvider interface {
	Lookup(ctx context.Context, occupationCode string) (model.ONetProfile, error)
}

// TeamProfileProvider resolves a team id to its current saturation profile.
type TeamProfileProvider interface {
	Lookup(ctx context.Context, teamID uuid.UUID) (model.TeamProfile, error)
}

// ClerkIdentity is the minimal clerk-session verification surface for
// non-anonymous sessions, implemented by internal/auth.JWTManager's
// VerifySession. The session engine does not call it.
type ClerkIdentity interface {
	VerifySession(ctx context.Context, bearerToken string) (clerkUserID string, err error)
}

// StaticONetProvider serves a fixed in-memory map of profiles, used in tests
// and as the simplest production wiring before a real O*NET integration
// exists.
type StaticONetProvider struct {
	Profiles map[string]model.ONetProfile
}

func (p *StaticONetProvider) Lookup(_ context.Context, occupationCode string) (model.ONetProfile, error) {
	prof, ok := p.Profiles[occupationCode]
	if !ok {
		return model.ONetProfile{}, ErrProfileNotFound
	}
	return prof, nil
}

// StaticTeamProvider serves a fixed in-memory map of team profiles.
type StaticTeamProvider struct {
	Profiles map[uuid.UUID]model.TeamProfile
}

func (p *StaticTeamProvider) Lookup(_ context.Context, teamID uuid.UUID) (model.TeamProfile, error) {
	prof, ok := p.Profiles[teamID]
	if !ok {
		return model.TeamProfile{}, ErrProfileNotFound
	}
	return prof, nil
}

// ErrProfileNotFound is returned by both provider doubles when the lookup
// key is unknown. Component-level callers translate this into
// apperr.PreconditionFailed, not apperr.NotFound — a missing collaborator
// profile blocks session start entirely, it isn't a retryable 404.
var ErrProfileNotFound = profileNotFoundError{}

type profileNotFoundError struct{}

func (profileNotFoundError) Error() string { return "collab: profile not found" }
