package store

import (
	"context"
	"errors"

	"takeforge/pkg/model"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrTakeNotFoundForBeat is returned by SelectTake when the named take
// does not belong to the named beat.
var ErrTakeNotFoundForBeat = errors.New("take not found for beat")

// SessionStore handles session persistence. Sessions are created once from
// a parsed script and never deleted programmatically.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	// GetSession reconstructs the full Session -> Beat -> Take tree.
	// Returns ErrSessionNotFound when the id is unknown.
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error
}

// TakeStore handles the append-only take history and the selection
// invariant: at most one selected take per beat.
type TakeStore interface {
	SaveTake(ctx context.Context, t *model.Take) error
	TakesForBeat(ctx context.Context, sessionID, beatID string) ([]model.Take, error)
	CountTakes(ctx context.Context, sessionID, beatID string) (int, error)
	// SelectTake atomically selects the named take and deselects every
	// other take of the beat. Returns ErrTakeNotFoundForBeat on mismatch.
	SelectTake(ctx context.Context, sessionID, beatID, takeID string) error
}

// ProfileStore handles per-character voice profiles, managed
// administratively and independent of any session.
type ProfileStore interface {
	// GetProfile returns nil, nil when no profile exists.
	GetProfile(ctx context.Context, character string) (*model.VoiceProfile, error)
	SaveProfile(ctx context.Context, p *model.VoiceProfile) error
	ListProfiles(ctx context.Context) ([]model.VoiceProfile, error)
}

// Store composes all sub-interfaces for full store access. Consumers
// should depend on the specific sub-interfaces when possible.
type Store interface {
	SessionStore
	TakeStore
	ProfileStore

	// Close closes the store connection.
	Close() error
}
