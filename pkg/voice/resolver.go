package voice

import (
	"context"
	"errors"
	"fmt"

	"takeforge/pkg/model"
)

// ErrProfileNotFound is returned when a character has no persisted voice
// profile. Fatal for that beat's generation, not globally fatal.
var ErrProfileNotFound = errors.New("voice profile not found")

// Provider-mandated parameter bounds. Out-of-range inputs are clamped,
// never rejected: a script should not fail generation because an
// aggressive pace request exceeded provider limits.
const (
	MinSpeed = 0.7
	MaxSpeed = 1.2
)

// paceSpeeds maps script pace names to synthesis speed.
var paceSpeeds = map[string]float64{
	"very_slow": 0.8,
	"slow":      0.9,
	"normal":    1.0,
	"fast":      1.1,
	"very_fast": 1.2,
}

// ProfileStore is the narrow read interface the resolver needs.
type ProfileStore interface {
	// GetProfile returns nil, nil when no profile exists for the character.
	GetProfile(ctx context.Context, character string) (*model.VoiceProfile, error)
}

// Resolver merges persisted character defaults with per-beat overrides.
type Resolver struct {
	store ProfileStore
}

// NewResolver creates a Resolver backed by the given profile store.
func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up the character's profile and applies the beat override
// on top of it. Any field present in the override wins; everything else
// comes from the profile. The result is always within provider bounds.
func (r *Resolver) Resolve(ctx context.Context, character string, override *model.ParamOverride) (model.VoiceParams, *model.VoiceProfile, error) {
	profile, err := r.store.GetProfile(ctx, character)
	if err != nil {
		return model.VoiceParams{}, nil, fmt.Errorf("profile lookup for %q: %w", character, err)
	}
	if profile == nil {
		return model.VoiceParams{}, nil, fmt.Errorf("character %q: %w", character, ErrProfileNotFound)
	}

	params := profile.Params
	if override != nil {
		if override.Stability != nil {
			params.Stability = *override.Stability
		}
		if override.Style != nil {
			params.Style = *override.Style
		}
		if override.Pace != "" {
			if speed, ok := paceSpeeds[override.Pace]; ok {
				params.Speed = speed
			}
		}
	}

	return Clamp(params), profile, nil
}

// SpeedForPace returns the synthesis speed for a script pace name, or the
// profile-neutral 1.0 for unknown names.
func SpeedForPace(pace string) float64 {
	if s, ok := paceSpeeds[pace]; ok {
		return s
	}
	return 1.0
}

// Clamp forces every parameter into its provider-mandated range.
func Clamp(p model.VoiceParams) model.VoiceParams {
	p.Stability = clamp01(p.Stability)
	p.Similarity = clamp01(p.Similarity)
	p.Style = clamp01(p.Style)
	if p.Speed < MinSpeed {
		p.Speed = MinSpeed
	}
	if p.Speed > MaxSpeed {
		p.Speed = MaxSpeed
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
