package tts

import (
	"context"

	"takeforge/pkg/model"
)

const (
	// MinAudioSize is the minimum size of a synthesized audio file (1KB).
	// Files smaller than this are likely failed synthesis attempts.
	MinAudioSize = 1024
)

// Request describes one synthesis job. OutputPath is a path without
// extension; providers append the extension of the format they emit.
type Request struct {
	Text       string
	VoiceID    string
	Params     model.VoiceParams
	Direction  string // Delivery note, e.g. "warm, conversational"
	OutputPath string
}

// Result describes a written take artifact.
type Result struct {
	Path   string
	Format string // "mp3" or "wav"
}

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Name returns the provider identifier used in logs and tracking.
	Name() string

	// Synthesize generates audio for the request and writes it to disk.
	Synthesize(ctx context.Context, req Request) (Result, error)

	// Voices returns a list of available voices for the provider.
	Voices(ctx context.Context) ([]Voice, error)
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	IsNeural bool   `json:"is_neural"`
}

// FatalError represents a TTS error that should trigger fallback to another provider.
// Examples: rate limits (429), server errors (5xx), auth failures (401/403).
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return e.Message
}

// NewFatalError creates a new FatalError with the given status code and message.
func NewFatalError(statusCode int, message string) *FatalError {
	return &FatalError{StatusCode: statusCode, Message: message}
}

// IsFatalError checks if an error is a TTS fatal error that should trigger fallback.
func IsFatalError(err error) bool {
	_, ok := err.(*FatalError)
	return ok
}
