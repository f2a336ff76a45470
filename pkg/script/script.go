package script

import (
	"regexp"
	"strconv"
	"strings"
)

// Grammar limits and defaults.
const (
	// MaxLineLength is the cap on a single spoken line (markup stripped).
	MaxLineLength = 500

	// DefaultLinePauseMs is the inter-line pause applied when a spoken
	// line carries no explicit pause directive.
	DefaultLinePauseMs = 300

	// LargeScriptBeats is the advisory threshold for the beat-count warning.
	LargeScriptBeats = 40
)

// Named pause values, in milliseconds.
var namedPauses = map[string]int{
	"short":    250,
	"medium":   500,
	"long":     1000,
	"dramatic": 2000,
}

// KnownCharacters is the fixed set of characters a script may reference.
var KnownCharacters = []string{"narrator", "founder", "customer", "announcer"}

// KnownPaces is the fixed set of pace names a script may reference.
var KnownPaces = []string{"very_slow", "slow", "normal", "fast", "very_fast"}

// Directive tags.
const (
	tagMeta      = "META"
	tagBeat      = "BEAT"
	tagEndBeat   = "END_BEAT"
	tagCharacter = "CHARACTER"
	tagDirection = "DIRECTION"
	tagPace      = "PACE"
	tagStability = "STABILITY"
	tagStyle     = "STYLE"
	tagPause     = "PAUSE"
)

var (
	directiveRe   = regexp.MustCompile(`\[([A-Z_]+)\s*(?::\s*([^\]]*))?\]`)
	inlinePauseRe = regexp.MustCompile(`\s*\[PAUSE:\s*([^\]]+)\]\s*$`)
	strongEmphRe  = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	emphRe        = regexp.MustCompile(`\*([^*]+)\*`)
	leadingNumRe  = regexp.MustCompile(`^(\d+)`)
)

// directive is a single [TAG: value] token.
type directive struct {
	tag   string
	value string
}

// splitDirectives parses a line consisting solely of directive tokens.
// It returns ok=false when the line contains any non-directive text, in
// which case the line is spoken.
func splitDirectives(line string) ([]directive, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}

	locs := directiveRe.FindAllStringSubmatchIndex(trimmed, -1)
	if len(locs) == 0 {
		return nil, false
	}

	// Everything outside the matches must be whitespace.
	last := 0
	var out []directive
	for _, loc := range locs {
		if strings.TrimSpace(trimmed[last:loc[0]]) != "" {
			return nil, false
		}
		tag := trimmed[loc[2]:loc[3]]
		value := ""
		if loc[4] >= 0 {
			value = strings.TrimSpace(trimmed[loc[4]:loc[5]])
		}
		out = append(out, directive{tag: tag, value: value})
		last = loc[1]
	}
	if strings.TrimSpace(trimmed[last:]) != "" {
		return nil, false
	}
	return out, true
}

// parsePause converts a pause directive value to milliseconds. Named values
// map to the fixed scale, numeric values (with or without an "ms" suffix)
// parse as literal milliseconds, and anything unparseable falls back to the
// default rather than erroring.
func parsePause(value string) int {
	v := strings.ToLower(strings.TrimSpace(value))
	if ms, ok := namedPauses[v]; ok {
		return ms
	}
	v = strings.TrimSuffix(v, "ms")
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		return n
	}
	return DefaultLinePauseMs
}

// stripMarkup removes directive tokens and emphasis markers, returning the
// plain spoken text. Used for line-length checks and character tallies.
func stripMarkup(line string) string {
	s := inlinePauseRe.ReplaceAllString(line, "")
	s = strongEmphRe.ReplaceAllString(s, "$1")
	s = emphRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func isKnown(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// beatNumber extracts the leading numeric token of a beat id ("01_hook" -> 1).
// Returns 0 when the id has no leading digits.
func beatNumber(id string) int {
	m := leadingNumRe.FindString(id)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
