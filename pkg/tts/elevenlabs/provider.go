package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"takeforge/pkg/config"
	"takeforge/pkg/request"
	"takeforge/pkg/tts"
)

const defaultBaseURL = "https://api.elevenlabs.io/v1"

// Provider implements tts.Provider for ElevenLabs. It is the primary
// engine and the only one that honors all four voice parameters.
type Provider struct {
	apiKey  string
	modelID string
	voiceID string // Fallback voice when the request carries none
	baseURL string
	client  *request.Client
}

// NewProvider creates a new ElevenLabs TTS provider.
func NewProvider(cfg config.ElevenLabsConfig, c *request.Client) *Provider {
	return &Provider{
		apiKey:  cfg.Key,
		modelID: cfg.Model,
		voiceID: cfg.VoiceID,
		baseURL: defaultBaseURL,
		client:  c,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "elevenlabs"
}

// voiceSettings is the per-request parameter payload.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// requestBody is the JSON payload for the text-to-speech endpoint.
type requestBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize generates speech from text using ElevenLabs.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if p.apiKey == "" {
		return tts.Result{}, tts.NewFatalError(http.StatusUnauthorized, "no ElevenLabs API key configured")
	}

	vid := req.VoiceID
	if vid == "" {
		vid = p.voiceID
	}
	if vid == "" {
		return tts.Result{}, fmt.Errorf("no voice ID configured for ElevenLabs")
	}

	body := requestBody{
		Text:    req.Text,
		ModelID: p.modelID,
		VoiceSettings: voiceSettings{
			Stability:       req.Params.Stability,
			SimilarityBoost: req.Params.Similarity,
			Style:           req.Params.Style,
			Speed:           req.Params.Speed,
			UseSpeakerBoost: true,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/text-to-speech/%s?output_format=mp3_44100_128", p.baseURL, vid)
	headers := map[string]string{
		"xi-api-key":   p.apiKey,
		"Content-Type": "application/json",
		"Accept":       "audio/mpeg",
	}

	audio, err := p.client.PostWithHeaders(ctx, u, jsonData, headers)
	if err != nil {
		tts.Log(p.Name(), req.Text, statusOf(err), err)
		return tts.Result{}, mapError(err)
	}

	if len(audio) < tts.MinAudioSize {
		tts.Log(p.Name(), req.Text, http.StatusOK, fmt.Errorf("audio too small: %d bytes", len(audio)))
		return tts.Result{}, fmt.Errorf("received truncated audio from ElevenLabs (%d bytes)", len(audio))
	}

	filename := req.OutputPath
	if filepath.Ext(filename) != ".mp3" {
		filename += ".mp3"
	}
	if err := os.WriteFile(filename, audio, 0o644); err != nil {
		return tts.Result{}, fmt.Errorf("failed to write audio file: %w", err)
	}

	tts.Log(p.Name(), req.Text, http.StatusOK, nil)
	return tts.Result{Path: filename, Format: "mp3"}, nil
}

// mapError turns provider failures into FatalError so the caller can
// fall back to another provider instead of retrying. Auth and quota
// failures will not recover on their own; rate limiting and server
// errors have already exhausted the client's retries by the time they
// surface here.
func mapError(err error) error {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch {
	case statusErr.Code == http.StatusUnauthorized,
		statusErr.Code == http.StatusForbidden,
		statusErr.Code == http.StatusPaymentRequired:
		return tts.NewFatalError(statusErr.Code, fmt.Sprintf("ElevenLabs auth failed: %s", string(statusErr.Body)))
	case statusErr.Code == http.StatusTooManyRequests, statusErr.Code >= 500:
		return tts.NewFatalError(statusErr.Code, fmt.Sprintf("ElevenLabs unavailable: %s", string(statusErr.Body)))
	}
	return err
}

func statusOf(err error) int {
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// voicesResponse mirrors the GET /v1/voices payload.
type voicesResponse struct {
	Voices []struct {
		VoiceID string            `json:"voice_id"`
		Name    string            `json:"name"`
		Labels  map[string]string `json:"labels"`
	} `json:"voices"`
}

// Voices fetches the voices available to the configured API key.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	body, err := p.client.GetWithHeaders(ctx, p.baseURL+"/voices", map[string]string{
		"xi-api-key": p.apiKey,
	})
	if err != nil {
		return nil, mapError(err)
	}

	var resp voicesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse voices response: %w", err)
	}

	voices := make([]tts.Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Labels["language"],
			IsNeural: true,
		})
	}
	return voices, nil
}
