package gemini

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"takeforge/pkg/config"
	"takeforge/pkg/tracker"
	"takeforge/pkg/tts"
)

// Gemini speech output is raw PCM at 24kHz, 16-bit, mono.
const (
	sampleRate    = 24000
	bitsPerSample = 16
	numChannels   = 1
)

// Provider implements tts.Provider for Gemini speech generation. It
// honors the direction note as a spoken style instruction; the numeric
// voice parameters are not supported by the API.
type Provider struct {
	genaiClient *genai.Client
	modelName   string
	voiceName   string
	tracker     *tracker.Tracker
}

// NewProvider creates a new Gemini TTS provider.
func NewProvider(cfg config.GeminiTTSConfig, t *tracker.Tracker) (*Provider, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("no Gemini API key configured")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash-preview-tts"
	}
	voiceName := cfg.Voice
	if voiceName == "" {
		voiceName = "Kore"
	}

	return &Provider{
		genaiClient: client,
		modelName:   modelName,
		voiceName:   voiceName,
		tracker:     t,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Synthesize generates a .wav file using Gemini speech generation.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	voice := req.VoiceID
	if voice == "" {
		voice = p.voiceName
	}

	prompt := buildPrompt(req.Text, req.Direction)
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := p.genaiClient.Models.GenerateContent(ctx, p.modelName, genai.Text(prompt), cfg)
	if err != nil {
		tts.Log(p.Name(), prompt, 0, err)
		if p.tracker != nil {
			p.tracker.TrackAPIFailure(p.Name())
		}
		return tts.Result{}, fmt.Errorf("gemini speech generation failed: %w", err)
	}

	pcm, err := extractPCM(resp)
	if err != nil {
		tts.Log(p.Name(), prompt, 200, err)
		if p.tracker != nil {
			p.tracker.TrackAPIFailure(p.Name())
		}
		return tts.Result{}, err
	}

	filename := req.OutputPath
	if filepath.Ext(filename) != ".wav" {
		filename += ".wav"
	}
	if err := writeWAV(filename, pcm); err != nil {
		return tts.Result{}, err
	}

	tts.Log(p.Name(), prompt, 200, nil)
	if p.tracker != nil {
		p.tracker.TrackAPISuccess(p.Name())
	}
	return tts.Result{Path: filename, Format: "wav"}, nil
}

// buildPrompt folds the delivery note into a spoken style instruction.
func buildPrompt(text, direction string) string {
	if strings.TrimSpace(direction) == "" {
		return text
	}
	return fmt.Sprintf("Say in a %s voice: %s", direction, text)
}

func extractPCM(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from gemini")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, fmt.Errorf("no audio data in gemini response")
}

// writeWAV wraps raw PCM samples in a RIFF/WAVE header.
func writeWAV(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataLen := uint32(len(pcm))

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], numChannels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataLen)

	if _, err := f.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if _, err := f.Write(pcm); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	return nil
}

// Voices returns the prebuilt Gemini voices we consider usable for
// narration work.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "Kore", Name: "Kore (Firm)", Language: "en-US", IsNeural: true},
		{ID: "Puck", Name: "Puck (Upbeat)", Language: "en-US", IsNeural: true},
		{ID: "Charon", Name: "Charon (Informative)", Language: "en-US", IsNeural: true},
		{ID: "Aoede", Name: "Aoede (Breezy)", Language: "en-US", IsNeural: true},
		{ID: "Enceladus", Name: "Enceladus (Breathy)", Language: "en-US", IsNeural: true},
	}, nil
}
