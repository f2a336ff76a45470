package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"takeforge/pkg/model"
	"takeforge/pkg/store"
	"takeforge/pkg/tts"
	"takeforge/pkg/voice"
)

// ProfileHandler manages per-character voice profiles and exposes the
// provider's voice catalog for profile assignment.
type ProfileHandler struct {
	store    store.ProfileStore
	provider tts.Provider
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(st store.ProfileStore, provider tts.Provider) *ProfileHandler {
	return &ProfileHandler{store: st, provider: provider}
}

// HandleList handles GET /api/profiles.
func (h *ProfileHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// HandleGet handles GET /api/profiles/{character}.
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	character := r.PathValue("character")
	profile, err := h.store.GetProfile(r.Context(), character)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, errors.New("no profile for character: "+character))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// profileRequest carries the editable profile fields.
type profileRequest struct {
	VoiceID     string            `json:"voice_id"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
	Params      model.VoiceParams `json:"params"`
}

// HandlePut handles PUT /api/profiles/{character}. Parameters outside
// provider bounds are clamped, not rejected.
func (h *ProfileHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, errors.New("voice_id is required"))
		return
	}

	profile := &model.VoiceProfile{
		Character:   r.PathValue("character"),
		VoiceID:     req.VoiceID,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Params:      voice.Clamp(req.Params),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := h.store.SaveProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	slog.Info("Voice profile saved", "character", profile.Character, "voice", profile.VoiceID)
	writeJSON(w, http.StatusOK, profile)
}

// HandleVoices handles GET /api/voices.
func (h *ProfileHandler) HandleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.provider.Voices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, voices)
}
