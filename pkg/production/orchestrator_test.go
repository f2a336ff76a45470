package production

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"takeforge/pkg/db"
	"takeforge/pkg/model"
	"takeforge/pkg/store"
	"takeforge/pkg/tts"
	"takeforge/pkg/voice"
)

// mockProvider writes a dummy artifact and records every request.
type mockProvider struct {
	name     string
	requests []tts.Request
	// failText triggers an error for requests containing this text.
	failText string
	failWith error
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Synthesize(_ context.Context, req tts.Request) (tts.Result, error) {
	if m.failText != "" && strings.Contains(req.Text, m.failText) {
		return tts.Result{}, m.failWith
	}
	m.requests = append(m.requests, req)
	path := req.OutputPath + ".mp3"
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xAA}, 2048), 0o644); err != nil {
		return tts.Result{}, err
	}
	return tts.Result{Path: path, Format: "mp3"}, nil
}

func (m *mockProvider) Voices(context.Context) ([]tts.Voice, error) {
	return []tts.Voice{{ID: "mock-voice", Name: "Mock"}}, nil
}

// mockToolchain records silence padding and reports a fixed duration.
type mockToolchain struct {
	silenceCalls map[string]int // path -> ms
	silenceErr   error
	concatenated [][]string
}

func newMockToolchain() *mockToolchain {
	return &mockToolchain{silenceCalls: make(map[string]int)}
}

func (m *mockToolchain) DurationMs(context.Context, string) (int, error) {
	return 4200, nil
}

func (m *mockToolchain) AppendSilence(_ context.Context, path string, ms int) (string, error) {
	if m.silenceErr != nil {
		return "", m.silenceErr
	}
	m.silenceCalls[filepath.Base(path)] = ms
	return path, nil
}

func (m *mockToolchain) Concatenate(_ context.Context, paths []string, out string) error {
	m.concatenated = append(m.concatenated, paths)
	return os.WriteFile(out, []byte("combined"), 0o644)
}

type fixture struct {
	store    *store.SQLiteStore
	provider *mockProvider
	tool     *mockToolchain
	orch     *Orchestrator
	takeDir  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	d, err := db.Init(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	st := store.NewSQLiteStore(d)
	ctx := context.Background()

	for _, character := range []string{"narrator", "customer"} {
		require.NoError(t, st.SaveProfile(ctx, &model.VoiceProfile{
			Character: character,
			VoiceID:   "voice-" + character,
			Params:    model.VoiceParams{Stability: 0.5, Similarity: 0.75, Style: 0.2, Speed: 1.0},
		}))
	}

	provider := &mockProvider{name: "mock"}
	tool := newMockToolchain()
	takeDir := filepath.Join(dir, "takes")
	orch := NewOrchestrator(st, voice.NewResolver(st), []tts.Provider{provider}, tool, takeDir)

	return &fixture{store: st, provider: provider, tool: tool, orch: orch, takeDir: takeDir}
}

func seedSession(t *testing.T, f *fixture, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateSession(context.Background(), &model.Session{
		ID:     id,
		Title:  "Launch Video",
		Status: model.StatusDraft,
		Beats: []model.Beat{
			{ID: "01_hook", Seq: 1, Character: "narrator", CombinedScript: "Meet the product.", Direction: "warm", PauseAfterMs: 500},
			{ID: "02_proof", Seq: 2, Character: "customer", CombinedScript: "I was skeptical."},
		},
	}))
}

func TestGenerateSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")

	report, err := f.orch.GenerateSession(ctx, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Generated)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "01_hook", report.Results[0].BeatID)
	assert.NotEmpty(t, report.Results[0].TakeID)

	session, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, session.Status)

	// First take of each beat is auto-selected.
	for _, beat := range session.Beats {
		require.Len(t, beat.Takes, 1, "beat %s", beat.ID)
		assert.True(t, beat.Takes[0].IsSelected)
		assert.Equal(t, 4200, beat.Takes[0].DurationMs)
		assert.FileExists(t, beat.Takes[0].Path)
	}

	// The voice profile drives the synthesis request.
	require.Len(t, f.provider.requests, 2)
	assert.Equal(t, "voice-narrator", f.provider.requests[0].VoiceID)
	assert.Equal(t, "warm", f.provider.requests[0].Direction)
	assert.Equal(t, "voice-customer", f.provider.requests[1].VoiceID)
}

func TestGenerateSession_FailureIsolation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")
	f.provider.failText = "skeptical"
	f.provider.failWith = fmt.Errorf("synthesis blew up")

	report, err := f.orch.GenerateSession(ctx, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[1].Error, "blew up")

	// The healthy sibling is persisted, and the run still completes.
	session, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, session.Status)
	assert.Len(t, session.Beats[0].Takes, 1)
	assert.Empty(t, session.Beats[1].Takes)
}

func TestGenerateSession_AppendsTrailingSilence(t *testing.T) {
	f := setup(t)
	seedSession(t, f, "sess-1")

	_, err := f.orch.GenerateSession(context.Background(), "sess-1")
	require.NoError(t, err)

	// Only the beat with a trailing pause is padded.
	require.Len(t, f.tool.silenceCalls, 1)
	for _, ms := range f.tool.silenceCalls {
		assert.Equal(t, 500, ms)
	}
}

func TestGenerateSession_UnknownSession(t *testing.T) {
	f := setup(t)
	_, err := f.orch.GenerateSession(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestGenerateSession_MissingProfile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateSession(ctx, &model.Session{
		ID:     "sess-1",
		Status: model.StatusDraft,
		Beats: []model.Beat{
			{ID: "01_solo", Seq: 1, Character: "announcer", CombinedScript: "Tonight only."},
		},
	}))

	report, err := f.orch.GenerateSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "announcer")
}

func TestRegenerateBeat_NeverAutoSelects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")

	_, err := f.orch.GenerateSession(ctx, "sess-1")
	require.NoError(t, err)

	take, err := f.orch.RegenerateBeat(ctx, "sess-1", "01_hook", nil)
	require.NoError(t, err)
	assert.False(t, take.IsSelected)

	takes, err := f.store.TakesForBeat(ctx, "sess-1", "01_hook")
	require.NoError(t, err)
	require.Len(t, takes, 2)
	// The original selection is untouched.
	assert.True(t, takes[0].IsSelected)
	assert.False(t, takes[1].IsSelected)
}

func TestRegenerateBeat_OverridesAreEphemeral(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")
	_, err := f.orch.GenerateSession(ctx, "sess-1")
	require.NoError(t, err)

	stability := 0.9
	take, err := f.orch.RegenerateBeat(ctx, "sess-1", "01_hook", &RegenerateOptions{
		Direction: "urgent",
		Pace:      "fast",
		Stability: &stability,
	})
	require.NoError(t, err)

	assert.Equal(t, "urgent", take.Direction)
	assert.InDelta(t, 0.9, take.Params.Stability, 1e-9)
	assert.InDelta(t, 1.1, take.Params.Speed, 1e-9)

	// The stored beat keeps its original direction and no override.
	session, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "warm", session.Beats[0].Direction)
	assert.Nil(t, session.Beats[0].Override)
}

func TestRegenerateBeat_ReopensExportedSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")
	_, err := f.orch.GenerateSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateSessionStatus(ctx, "sess-1", model.StatusExported))

	_, err = f.orch.RegenerateBeat(ctx, "sess-1", "01_hook", nil)
	require.NoError(t, err)

	session, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, session.Status)
}

func TestGenerateTake_RemovesAudioOnPostSynthesisFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")
	f.tool.silenceErr = errors.New("pad failed")

	// 01_hook carries a trailing pause, so padding runs and fails.
	_, err := f.orch.RegenerateBeat(ctx, "sess-1", "01_hook", nil)
	require.ErrorContains(t, err, "pad failed")

	// No take row was written and the synthesized audio is gone.
	takes, err := f.store.TakesForBeat(ctx, "sess-1", "01_hook")
	require.NoError(t, err)
	assert.Empty(t, takes)

	entries, err := os.ReadDir(filepath.Join(f.takeDir, "sess-1"))
	require.NoError(t, err)
	assert.Empty(t, entries, "failed generation must not leave orphaned audio")
}

func TestRegenerateBeat_UnknownBeat(t *testing.T) {
	f := setup(t)
	seedSession(t, f, "sess-1")

	_, err := f.orch.RegenerateBeat(context.Background(), "sess-1", "99_nope", nil)
	assert.ErrorIs(t, err, ErrBeatNotFound)
}

func TestSynthesize_FallbackOnFatalError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")

	primary := &mockProvider{
		name:     "primary",
		failText: "",
	}
	primary.failText = "Meet"
	primary.failWith = tts.NewFatalError(401, "key revoked")
	fallback := &mockProvider{name: "fallback"}
	f.orch.providers = []tts.Provider{primary, fallback}

	take, err := f.orch.RegenerateBeat(ctx, "sess-1", "01_hook", nil)
	require.NoError(t, err)
	assert.NotNil(t, take)
	require.Len(t, fallback.requests, 1)
}

func TestSynthesize_NoFallbackOnPlainError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedSession(t, f, "sess-1")

	primary := &mockProvider{name: "primary", failText: "Meet", failWith: errors.New("transient")}
	fallback := &mockProvider{name: "fallback"}
	f.orch.providers = []tts.Provider{primary, fallback}

	_, err := f.orch.RegenerateBeat(ctx, "sess-1", "01_hook", nil)
	require.Error(t, err)
	assert.Empty(t, fallback.requests)
}

func TestApplyOptions_NilKeepsBeatValues(t *testing.T) {
	stability := 0.3
	beat := &model.Beat{
		Direction: "calm",
		Override:  &model.ParamOverride{Stability: &stability},
	}

	override, direction := applyOptions(beat, nil)
	assert.Equal(t, "calm", direction)
	assert.Same(t, beat.Override, override)
}
