package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	TTS     TTSConfig     `yaml:"tts"`
	Audio   AudioConfig   `yaml:"audio"`
	Export  ExportConfig  `yaml:"export"`
	Request RequestConfig `yaml:"request"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
	TTS    LogSettings `yaml:"tts"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ElevenLabsConfig holds settings for the ElevenLabs TTS provider.
type ElevenLabsConfig struct {
	Key     string `yaml:"key"`   // API key; falls back to ELEVENLABS_API_KEY
	Model   string `yaml:"model"` // e.g. "eleven_multilingual_v2"
	VoiceID string `yaml:"voice"` // Fallback voice when a profile has none
}

// EdgeTTSConfig holds settings for the Edge TTS fallback provider.
type EdgeTTSConfig struct {
	VoiceID string `yaml:"voice"` // e.g. "en-US-AvaMultilingualNeural"
}

// GeminiTTSConfig holds settings for the Gemini speech provider.
type GeminiTTSConfig struct {
	Key   string `yaml:"key"`   // API key; falls back to GEMINI_API_KEY
	Model string `yaml:"model"` // e.g. "gemini-2.5-flash-preview-tts"
	Voice string `yaml:"voice"` // Prebuilt voice name, e.g. "Kore"
}

// TTSConfig holds Text-To-Speech settings.
type TTSConfig struct {
	Engine     string           `yaml:"engine"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	EdgeTTS    EdgeTTSConfig    `yaml:"edge_tts"`
	Gemini     GeminiTTSConfig  `yaml:"gemini"`
}

// AudioConfig holds settings for the external audio toolchain and the
// take artifact directory.
type AudioConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"` // "ffmpeg" resolves via PATH
	TakeDir    string `yaml:"take_dir"`
}

// ExportConfig holds settings for the export assembler.
type ExportConfig struct {
	Dir string `yaml:"dir"` // Default destination root; session id is appended
}

// RequestConfig holds HTTP egress settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:2110",
		},
		Log: LogConfig{
			Server: LogSettings{Path: "./logs/server.log", Level: "INFO"},
			TTS:    LogSettings{Path: "./logs/tts.log", Level: "INFO"},
		},
		DB: DBConfig{
			Path: "./data/takeforge.db",
		},
		TTS: TTSConfig{
			Engine: "elevenlabs",
			ElevenLabs: ElevenLabsConfig{
				Model: "eleven_multilingual_v2",
			},
			EdgeTTS: EdgeTTSConfig{
				VoiceID: "en-US-AvaMultilingualNeural",
			},
			Gemini: GeminiTTSConfig{
				Model: "gemini-2.5-flash-preview-tts",
				Voice: "Kore",
			},
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			TakeDir:    "./data/takes",
		},
		Export: ExportConfig{
			Dir: "./data/exports",
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(120 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
	}
}

// Load loads the configuration from the given path. If the file does not
// exist it is created with defaults. An existing file is merged over
// defaults but never saved back, preserving user formatting and comments.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		applyEnvFallbacks(cfg)
		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnvFallbacks(cfg)
	return cfg, nil
}

// applyEnvFallbacks fills API keys from the environment when the config
// file leaves them empty. Keys are never written back to disk.
func applyEnvFallbacks(cfg *Config) {
	if cfg.TTS.ElevenLabs.Key == "" {
		if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
			cfg.TTS.ElevenLabs.Key = key
		}
	}
	if cfg.TTS.Gemini.Key == "" {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.TTS.Gemini.Key = key
		}
	}
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Takeforge Configuration
# ----------------------
# Durations accept ns, us, ms, s, m, h.

`)
	data = append(header, data...)

	// Inject an options comment above the engine key.
	reEngine := regexp.MustCompile(`(?m)^(\s+)engine:`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: elevenlabs, edge-tts, gemini\n${1}engine:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
