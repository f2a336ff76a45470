package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"takeforge/pkg/model"
	"takeforge/pkg/tts"
)

func TestHandlePutAndGetProfile(t *testing.T) {
	env := setupAPI(t)

	req := profileRequest{
		VoiceID:     "voice-abc",
		DisplayName: "The Narrator",
		Params:      model.VoiceParams{Stability: 0.5, Similarity: 0.75, Style: 0.2, Speed: 1.0},
	}
	putResp := env.put(t, "/api/profiles/narrator", req)
	assert.Equal(t, http.StatusOK, putResp.StatusCode)

	profile := decode[model.VoiceProfile](t, putResp)
	assert.Equal(t, "narrator", profile.Character)
	assert.Equal(t, "voice-abc", profile.VoiceID)

	getResp := env.get(t, "/api/profiles/narrator")
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	got := decode[model.VoiceProfile](t, getResp)
	assert.Equal(t, "voice-abc", got.VoiceID)
}

func TestHandlePutProfile_ClampsParams(t *testing.T) {
	env := setupAPI(t)

	req := profileRequest{
		VoiceID: "voice-abc",
		Params:  model.VoiceParams{Stability: 7.0, Similarity: -1, Style: 0.2, Speed: 9.9},
	}
	resp := env.put(t, "/api/profiles/narrator", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	profile := decode[model.VoiceProfile](t, resp)
	assert.Equal(t, 1.0, profile.Params.Stability)
	assert.Equal(t, 0.0, profile.Params.Similarity)
	assert.Equal(t, 1.2, profile.Params.Speed)
}

func TestHandlePutProfile_RequiresVoice(t *testing.T) {
	env := setupAPI(t)

	resp := env.put(t, "/api/profiles/narrator", profileRequest{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetProfile_NotFound(t *testing.T) {
	env := setupAPI(t)

	resp := env.get(t, "/api/profiles/ghost")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleListProfiles(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	for _, c := range []string{"narrator", "customer"} {
		require.NoError(t, env.store.SaveProfile(ctx, &model.VoiceProfile{
			Character: c, VoiceID: "voice-" + c,
		}))
	}

	resp := env.get(t, "/api/profiles")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	profiles := decode[[]model.VoiceProfile](t, resp)
	require.Len(t, profiles, 2)
	// Sorted by character.
	assert.Equal(t, "customer", profiles[0].Character)
}

func TestHandleVoices(t *testing.T) {
	env := setupAPI(t)

	resp := env.get(t, "/api/voices")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	voices := decode[[]tts.Voice](t, resp)
	require.Len(t, voices, 1)
	assert.Equal(t, "v1", voices[0].ID)
}
