package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"takeforge/pkg/model"
	"takeforge/pkg/production"
	"takeforge/pkg/script"
	"takeforge/pkg/store"
)

// Producer drives take generation for sessions and single beats.
type Producer interface {
	GenerateSession(ctx context.Context, sessionID string) (*production.RunReport, error)
	RegenerateBeat(ctx context.Context, sessionID, beatID string, opts *production.RegenerateOptions) (*model.Take, error)
}

// ExportRunner assembles selected takes into a delivery directory.
type ExportRunner interface {
	Export(ctx context.Context, sessionID string, opts production.ExportOptions) ([]string, error)
}

// SessionHandler handles the session lifecycle endpoints.
type SessionHandler struct {
	store    store.Store
	producer Producer
	exporter ExportRunner
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(st store.Store, p Producer, e ExportRunner) *SessionHandler {
	return &SessionHandler{store: st, producer: p, exporter: e}
}

// HandleCreate handles POST /api/sessions. The body carries raw markup;
// an invalid script returns 422 with the full validation result.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	parsed, err := script.Parse(req.Script)
	if err != nil {
		var invalid *script.InvalidError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusUnprocessableEntity, invalid.Result)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        uuid.New().String(),
		Title:     parsed.Title,
		Project:   parsed.Project,
		Status:    model.StatusDraft,
		Source:    req.Script,
		CreatedAt: now,
		UpdatedAt: now,
		Beats:     parsed.Beats,
	}

	if err := h.store.CreateSession(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	slog.Info("Session created", "session", session.ID, "title", session.Title, "beats", len(session.Beats))
	writeJSON(w, http.StatusCreated, session)
}

// HandleGet handles GET /api/sessions/{id}.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// statusRequest carries a manual status transition.
type statusRequest struct {
	Status model.SessionStatus `json:"status"`
}

// HandleStatus handles POST /api/sessions/{id}/status.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := r.PathValue("id")
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown status: "+string(req.Status)))
		return
	}

	if err := h.store.UpdateSessionStatus(r.Context(), id, req.Status); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

// HandleGenerate handles POST /api/sessions/{id}/generate. The run is
// synchronous; the response is the full run report.
func (h *SessionHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	report, err := h.producer.GenerateSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleRegenerate handles POST /api/sessions/{id}/beats/{beatID}/takes.
// The optional body carries per-take parameter overrides.
func (h *SessionHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	var opts production.RegenerateOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	take, err := h.producer.RegenerateBeat(r.Context(), r.PathValue("id"), r.PathValue("beatID"), &opts)
	if err != nil {
		if errors.Is(err, production.ErrBeatNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, take)
}

// HandleSelect handles POST /api/sessions/{id}/beats/{beatID}/takes/{takeID}/select.
func (h *SessionHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	beatID := r.PathValue("beatID")
	takeID := r.PathValue("takeID")

	if err := h.store.SelectTake(r.Context(), id, beatID, takeID); err != nil {
		if errors.Is(err, store.ErrTakeNotFoundForBeat) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeStoreError(w, err)
		return
	}

	slog.Info("Take selected", "session", id, "beat", beatID, "take", takeID)
	writeJSON(w, http.StatusOK, map[string]string{"beat_id": beatID, "take_id": takeID})
}

// exportResponse lists the files the export produced.
type exportResponse struct {
	Files []string `json:"files"`
}

// HandleExport handles POST /api/sessions/{id}/export.
func (h *SessionHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var opts production.ExportOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	files, err := h.exporter.Export(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Files: files})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
