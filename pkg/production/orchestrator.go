// Package production drives take generation: it resolves voice
// parameters, synthesizes audio, post-processes the artifact, and
// records the take. One writer per session at a time.
package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"takeforge/pkg/audio"
	"takeforge/pkg/model"
	"takeforge/pkg/store"
	"takeforge/pkg/tts"
	"takeforge/pkg/voice"
)

// ErrBeatNotFound is returned when a beat id is not part of the session.
var ErrBeatNotFound = errors.New("beat not found in session")

// RegenerateOptions carries per-take parameter experiments. Nil and
// empty fields leave the beat's stored values in effect; the stored
// beat itself is never mutated.
type RegenerateOptions struct {
	Direction string   `json:"direction,omitempty"`
	Pace      string   `json:"pace,omitempty"`
	Stability *float64 `json:"stability,omitempty"`
	Style     *float64 `json:"style,omitempty"`
}

// BeatResult records the outcome of one beat in a session run.
type BeatResult struct {
	BeatID string `json:"beat_id"`
	TakeID string `json:"take_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunReport summarizes a full session generation run.
type RunReport struct {
	SessionID string       `json:"session_id"`
	Results   []BeatResult `json:"results"`
	Generated int          `json:"generated"`
	Failed    int          `json:"failed"`
}

// Orchestrator coordinates synthesis for sessions and single beats.
type Orchestrator struct {
	store     store.Store
	resolver  *voice.Resolver
	providers []tts.Provider // Primary first, fallbacks after
	tool      audio.Toolchain
	takeDir   string

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewOrchestrator creates an Orchestrator. Providers are tried in
// order; a later provider is only consulted when the previous one
// fails with a FatalError.
func NewOrchestrator(st store.Store, r *voice.Resolver, providers []tts.Provider, tool audio.Toolchain, takeDir string) *Orchestrator {
	return &Orchestrator{
		store:     st,
		resolver:  r,
		providers: providers,
		tool:      tool,
		takeDir:   takeDir,
		sessions:  make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing writes for one session.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, ok := o.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		o.sessions[sessionID] = m
	}
	return m
}

// GenerateSession runs synthesis over every beat of the session in
// script order. A failed beat is recorded in the report and never
// aborts its siblings.
func (o *Orchestrator) GenerateSession(ctx context.Context, sessionID string) (*RunReport, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := o.store.UpdateSessionStatus(ctx, sessionID, model.StatusGenerating); err != nil {
		return nil, err
	}

	report := &RunReport{SessionID: sessionID}
	for i := range session.Beats {
		beat := session.Beats[i]

		if ctx.Err() != nil {
			// Remaining beats are reported, not silently dropped.
			report.Results = append(report.Results, BeatResult{BeatID: beat.ID, Error: ctx.Err().Error()})
			report.Failed++
			continue
		}

		take, err := o.generateTake(ctx, session, &beat, nil)
		if err != nil {
			slog.Error("Beat generation failed", "session", sessionID, "beat", beat.ID, "error", err)
			report.Results = append(report.Results, BeatResult{BeatID: beat.ID, Error: err.Error()})
			report.Failed++
			continue
		}

		slog.Info("Beat generated", "session", sessionID, "beat", beat.ID, "take", take.ID, "duration_ms", take.DurationMs)
		report.Results = append(report.Results, BeatResult{BeatID: beat.ID, TakeID: take.ID})
		report.Generated++
	}

	if err := o.store.UpdateSessionStatus(ctx, sessionID, model.StatusInProgress); err != nil {
		return report, err
	}
	return report, nil
}

// RegenerateBeat produces one more take for a beat, optionally with
// parameter overrides for this take only. It never auto-selects when
// the beat already has takes.
func (o *Orchestrator) RegenerateBeat(ctx context.Context, sessionID, beatID string, opts *RegenerateOptions) (*model.Take, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var beat *model.Beat
	for i := range session.Beats {
		if session.Beats[i].ID == beatID {
			beat = &session.Beats[i]
			break
		}
	}
	if beat == nil {
		return nil, fmt.Errorf("%w: %s", ErrBeatNotFound, beatID)
	}

	take, err := o.generateTake(ctx, session, beat, opts)
	if err != nil {
		return nil, err
	}

	// New material reopens a finished session.
	if session.Status == model.StatusExported || session.Status == model.StatusCompleted {
		if err := o.store.UpdateSessionStatus(ctx, sessionID, model.StatusInProgress); err != nil {
			return take, err
		}
	}
	return take, nil
}

// generateTake is the shared synthesis path. The caller holds the
// session lock.
func (o *Orchestrator) generateTake(ctx context.Context, session *model.Session, beat *model.Beat, opts *RegenerateOptions) (*model.Take, error) {
	override, direction := applyOptions(beat, opts)

	params, profile, err := o.resolver.Resolve(ctx, beat.Character, override)
	if err != nil {
		return nil, err
	}

	takeID := uuid.New().String()
	dir := filepath.Join(o.takeDir, session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create take dir: %w", err)
	}

	req := tts.Request{
		Text:       beat.CombinedScript,
		VoiceID:    profile.VoiceID,
		Params:     params,
		Direction:  direction,
		OutputPath: filepath.Join(dir, takeID),
	}

	result, err := o.synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	if beat.PauseAfterMs > 0 {
		padded, err := o.tool.AppendSilence(ctx, result.Path, beat.PauseAfterMs)
		if err != nil {
			o.discardArtifact(result.Path)
			return nil, err
		}
		result.Path = padded
	}

	durationMs, err := o.tool.DurationMs(ctx, result.Path)
	if err != nil {
		slog.Warn("Duration probe failed", "path", result.Path, "error", err)
		durationMs = 0
	}

	count, err := o.store.CountTakes(ctx, session.ID, beat.ID)
	if err != nil {
		o.discardArtifact(result.Path)
		return nil, err
	}

	take := &model.Take{
		ID:         takeID,
		SessionID:  session.ID,
		BeatID:     beat.ID,
		Path:       result.Path,
		Format:     result.Format,
		DurationMs: durationMs,
		Params:     params,
		Direction:  direction,
		IsSelected: count == 0,
		CreatedAt:  time.Now().UTC(),
	}

	if err := o.store.SaveTake(ctx, take); err != nil {
		o.discardArtifact(result.Path)
		return nil, err
	}
	return take, nil
}

// discardArtifact removes synthesized audio that no take row will ever
// reference.
func (o *Orchestrator) discardArtifact(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove orphaned take audio", "path", path, "error", err)
	}
}

// synthesize tries each provider in order, falling through only on
// FatalError.
func (o *Orchestrator) synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	var lastErr error
	for i, p := range o.providers {
		result, err := p.Synthesize(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !tts.IsFatalError(err) || i == len(o.providers)-1 {
			return tts.Result{}, err
		}
		slog.Warn("Provider failed, falling back", "provider", p.Name(), "error", err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no TTS provider configured")
	}
	return tts.Result{}, lastErr
}

// applyOptions merges regenerate options over the beat's stored values
// without mutating the beat.
func applyOptions(beat *model.Beat, opts *RegenerateOptions) (*model.ParamOverride, string) {
	direction := beat.Direction
	if opts == nil {
		return beat.Override, direction
	}

	if opts.Direction != "" {
		direction = opts.Direction
	}

	merged := &model.ParamOverride{}
	if beat.Override != nil {
		*merged = *beat.Override
	}
	if opts.Stability != nil {
		merged.Stability = opts.Stability
	}
	if opts.Style != nil {
		merged.Style = opts.Style
	}
	if opts.Pace != "" {
		merged.Pace = opts.Pace
	}

	if merged.Stability == nil && merged.Style == nil && merged.Pace == "" {
		return nil, direction
	}
	return merged, direction
}
