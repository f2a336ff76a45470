package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"takeforge/pkg/script"
)

// ScriptHandler exposes stateless validate/parse tooling so a dashboard
// can lint a script while it is being written.
type ScriptHandler struct{}

// NewScriptHandler creates a new ScriptHandler.
func NewScriptHandler() *ScriptHandler {
	return &ScriptHandler{}
}

// scriptRequest carries raw markup.
type scriptRequest struct {
	Script string `json:"script"`
}

// HandleValidate handles POST /api/script/validate.
func (h *ScriptHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, script.Validate(req.Script))
}

// HandleParse handles POST /api/script/parse. Invalid scripts return
// 422 with the full validation result.
func (h *ScriptHandler) HandleParse(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, parsed)
}
