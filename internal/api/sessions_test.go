package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"takeforge/pkg/model"
	"takeforge/pkg/production"
)

func createSession(t *testing.T, env *testEnv) model.Session {
	t.Helper()
	resp := env.post(t, "/api/sessions", scriptRequest{Script: testScript})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Session](t, resp)
}

func TestHandleCreate(t *testing.T) {
	env := setupAPI(t)

	session := createSession(t, env)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "Launch Video", session.Title)
	assert.Equal(t, model.StatusDraft, session.Status)
	require.Len(t, session.Beats, 2)
	assert.Equal(t, "01_hook", session.Beats[0].ID)

	// The session is persisted, not just echoed.
	stored, err := env.store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Title, stored.Title)
}

func TestHandleCreate_InvalidScript(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/sessions", scriptRequest{Script: "[BEAT: a]\nno meta\n[END_BEAT]"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandleGet(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)

	resp := env.get(t, "/api/sessions/"+session.ID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[model.Session](t, resp)
	assert.Equal(t, session.ID, got.ID)
	assert.Len(t, got.Beats, 2)
}

func TestHandleGet_NotFound(t *testing.T) {
	env := setupAPI(t)

	resp := env.get(t, "/api/sessions/missing")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStatus(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)

	resp := env.post(t, "/api/sessions/"+session.ID+"/status", statusRequest{Status: model.StatusCompleted})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := env.store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
}

func TestHandleStatus_Unknown(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)

	resp := env.post(t, "/api/sessions/"+session.ID+"/status", map[string]string{"status": "bogus"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGenerate(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)
	env.producer.report = &production.RunReport{
		SessionID: session.ID,
		Results:   []production.BeatResult{{BeatID: "01_hook", TakeID: "t1"}},
		Generated: 1,
	}

	resp := env.post(t, "/api/sessions/"+session.ID+"/generate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[production.RunReport](t, resp)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, "t1", report.Results[0].TakeID)
}

func TestHandleRegenerate(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)

	stability := 0.8
	resp := env.post(t, "/api/sessions/"+session.ID+"/beats/01_hook/takes",
		production.RegenerateOptions{Direction: "urgent", Stability: &stability})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	take := decode[model.Take](t, resp)
	assert.Equal(t, "01_hook", take.BeatID)

	require.NotNil(t, env.producer.lastOpts)
	assert.Equal(t, "urgent", env.producer.lastOpts.Direction)
	require.NotNil(t, env.producer.lastOpts.Stability)
	assert.InDelta(t, 0.8, *env.producer.lastOpts.Stability, 1e-9)
}

func TestHandleRegenerate_EmptyBody(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)

	resp := env.post(t, "/api/sessions/"+session.ID+"/beats/01_hook/takes", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHandleRegenerate_UnknownBeat(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)
	env.producer.err = production.ErrBeatNotFound

	resp := env.post(t, "/api/sessions/"+session.ID+"/beats/99_nope/takes", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSelect(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)
	ctx := context.Background()

	require.NoError(t, env.store.SaveTake(ctx, &model.Take{
		ID: "take-1", SessionID: session.ID, BeatID: "01_hook", IsSelected: true,
	}))
	require.NoError(t, env.store.SaveTake(ctx, &model.Take{
		ID: "take-2", SessionID: session.ID, BeatID: "01_hook",
	}))

	resp := env.post(t, "/api/sessions/"+session.ID+"/beats/01_hook/takes/take-2/select", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	takes, err := env.store.TakesForBeat(ctx, session.ID, "01_hook")
	require.NoError(t, err)
	assert.False(t, takes[0].IsSelected)
	assert.True(t, takes[1].IsSelected)
}

func TestHandleSelect_WrongBeat(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)

	resp := env.post(t, "/api/sessions/"+session.ID+"/beats/01_hook/takes/ghost/select", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleExport(t *testing.T) {
	env := setupAPI(t)
	session := createSession(t, env)
	env.exporter.files = []string{"/exports/01_hook.mp3"}

	resp := env.post(t, "/api/sessions/"+session.ID+"/export", production.ExportOptions{Combine: true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[exportResponse](t, resp)
	assert.Equal(t, []string{"/exports/01_hook.mp3"}, result.Files)
	assert.True(t, env.exporter.lastOpts.Combine)
}

func TestHealthAndVersion(t *testing.T) {
	env := setupAPI(t)

	resp := env.get(t, "/health")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.get(t, "/api/version")
	body := decode[map[string]string](t, resp)
	assert.NotEmpty(t, body["version"])
}
