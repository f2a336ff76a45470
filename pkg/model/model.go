package model

import (
	"time"
)

// SessionStatus tracks a production session through its lifecycle.
type SessionStatus string

const (
	StatusDraft      SessionStatus = "draft"
	StatusGenerating SessionStatus = "generating"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusExported   SessionStatus = "exported"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusGenerating, StatusInProgress, StatusCompleted, StatusExported:
		return true
	}
	return false
}

// Session represents one end-to-end production run over a parsed script.
// The beat list is fixed at creation; edits require parsing a new script
// into a new session.
type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Project   string        `json:"project"`
	Status    SessionStatus `json:"status"`
	Source    string        `json:"source"` // Immutable snapshot of the raw script text
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Beats     []Beat        `json:"beats"`
}

// Beat is one narrated unit of the script, mapped to one audio segment.
// Beats are immutable once parsed.
type Beat struct {
	ID        string `json:"id"`  // Stable token from the script, e.g. "01_hook"
	Seq       int    `json:"seq"` // Parse order, starting at 1
	Name      string `json:"name"`
	Character string `json:"character"`
	Lines     []Line `json:"lines"`

	// CombinedScript is the markup-free spoken text sent to synthesis.
	CombinedScript string `json:"combined_script"`

	// First non-empty direction/pace found among the lines; defaults for
	// generation.
	Direction string `json:"direction,omitempty"`
	Pace      string `json:"pace,omitempty"`

	Override     *ParamOverride `json:"override,omitempty"`
	PauseAfterMs int            `json:"pause_after_ms"`

	Takes []Take `json:"takes,omitempty"`
}

// Line is one spoken fragment inside a beat.
type Line struct {
	Text         string         `json:"text"`
	Direction    string         `json:"direction,omitempty"` // Informational only, never synthesized
	Pace         string         `json:"pace,omitempty"`
	PauseAfterMs int            `json:"pause_after_ms"`
	Override     *ParamOverride `json:"override,omitempty"`
	Emphasis     []string       `json:"emphasis,omitempty"`        // *word* markup, stripped
	StrongEmph   []string       `json:"strong_emphasis,omitempty"` // **word** markup, rewritten upper-case
}

// ParamOverride carries optional per-beat or per-line synthesis overrides.
// Nil fields inherit from the character's voice profile.
type ParamOverride struct {
	Stability *float64 `json:"stability,omitempty"`
	Style     *float64 `json:"style,omitempty"`
	Pace      string   `json:"pace,omitempty"`
}

// VoiceParams is a fully resolved synthesis parameter set. All values are
// within provider bounds after resolution.
type VoiceParams struct {
	Stability  float64 `json:"stability"`  // 0.0 - 1.0
	Similarity float64 `json:"similarity"` // 0.0 - 1.0
	Style      float64 `json:"style"`      // 0.0 - 1.0
	Speed      float64 `json:"speed"`      // 0.7 - 1.2
}

// VoiceProfile holds a character's persisted default synthesis parameters.
type VoiceProfile struct {
	Character   string      `json:"character"` // Unique key
	VoiceID     string      `json:"voice_id"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description,omitempty"`
	Params      VoiceParams `json:"params"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Take is one generated audio rendition of a beat. Takes are append-only:
// regeneration creates a new take and never touches prior ones.
type Take struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	BeatID     string      `json:"beat_id"`
	Path       string      `json:"path"`
	Format     string      `json:"format"`
	DurationMs int         `json:"duration_ms"`
	Params     VoiceParams `json:"params"`    // Exact parameter set used
	Direction  string      `json:"direction,omitempty"`
	IsSelected bool        `json:"is_selected"`
	CreatedAt  time.Time   `json:"created_at"`
}
