// Package api exposes the production engine over HTTP for the
// operator dashboard and scripting clients.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"takeforge/pkg/version"
)

// NewServer creates and configures the HTTP server.
// It accepts handlers for all API endpoints and a shutdownFunc for graceful shutdown.
func NewServer(addr string, scriptH *ScriptHandler, sessionH *SessionHandler, profileH *ProfileHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Script tooling
	mux.HandleFunc("POST /api/script/validate", scriptH.HandleValidate)
	mux.HandleFunc("POST /api/script/parse", scriptH.HandleParse)

	// 3. Sessions and takes
	mux.HandleFunc("POST /api/sessions", sessionH.HandleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", sessionH.HandleGet)
	mux.HandleFunc("POST /api/sessions/{id}/status", sessionH.HandleStatus)
	mux.HandleFunc("POST /api/sessions/{id}/generate", sessionH.HandleGenerate)
	mux.HandleFunc("POST /api/sessions/{id}/beats/{beatID}/takes", sessionH.HandleRegenerate)
	mux.HandleFunc("POST /api/sessions/{id}/beats/{beatID}/takes/{takeID}/select", sessionH.HandleSelect)
	mux.HandleFunc("POST /api/sessions/{id}/export", sessionH.HandleExport)

	// 4. Voice profiles
	mux.HandleFunc("GET /api/profiles", profileH.HandleList)
	mux.HandleFunc("GET /api/profiles/{character}", profileH.HandleGet)
	mux.HandleFunc("PUT /api/profiles/{character}", profileH.HandlePut)
	mux.HandleFunc("GET /api/voices", profileH.HandleVoices)

	// 5. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Call shutdown in a goroutine to allow response to flush
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // Generation runs synchronously
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

// writeJSON marshals v to the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
