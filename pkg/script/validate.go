package script

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// IssueCode classifies a validation finding.
type IssueCode string

const (
	CodeMissingMeta      IssueCode = "missing_metadata"
	CodeStructural       IssueCode = "structural"
	CodeUnknownCharacter IssueCode = "unknown_character"
	CodeUnknownPace      IssueCode = "unknown_pace"
	CodeLineTooLong      IssueCode = "line_too_long"
	CodeMissingField     IssueCode = "missing_field"
	CodeLargeScript      IssueCode = "large_script"
)

// Issue is a single validation error or warning.
type Issue struct {
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
	Beat    string    `json:"beat,omitempty"`
	Line    int       `json:"line,omitempty"` // 1-based line number in the document
}

// Result is the outcome of validating a raw script.
type Result struct {
	Valid           bool           `json:"valid"`
	Errors          []Issue        `json:"errors"`
	Warnings        []Issue        `json:"warnings"`
	BeatCount       int            `json:"beat_count"`
	CharacterCounts map[string]int `json:"character_counts"`
}

// Validate lints a raw script. It is pure and never fails on malformed
// input; every problem is collected and reported in one pass.
func Validate(raw string) Result {
	res := Result{CharacterCounts: make(map[string]int)}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	// The metadata header must be the first content in the document.
	hasMeta := false
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		hasMeta = t == "["+tagMeta+"]"
		break
	}
	if !hasMeta {
		res.Errors = append(res.Errors, Issue{
			Code:    CodeMissingMeta,
			Message: "script must start with a [META] header block",
		})
	}

	// Walk the document with the same current-character cursor the parser
	// uses, so tallies match what generation will actually see.
	var (
		opens, closes int
		currentBeat   string
		currentChar   string
		inMeta        bool
		inBeatHeader  bool
		meta          = map[string]string{}
	)

	for i, l := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}

		if dirs, ok := splitDirectives(trimmed); ok {
			for _, d := range dirs {
				switch d.tag {
				case tagMeta:
					inMeta = true
				case tagBeat:
					inMeta = false
					inBeatHeader = true
					opens++
					currentBeat = d.value
				case tagEndBeat:
					closes++
				case tagCharacter:
					name := strings.ToLower(d.value)
					if !isKnown(KnownCharacters, name) {
						res.Errors = append(res.Errors, Issue{
							Code: CodeUnknownCharacter,
							Message: fmt.Sprintf("unknown character %q, valid characters: %s",
								d.value, strings.Join(KnownCharacters, ", ")),
							Beat: currentBeat,
							Line: lineNo,
						})
					}
					currentChar = name
				case tagPace:
					pace := strings.ToLower(d.value)
					if !isKnown(KnownPaces, pace) {
						res.Errors = append(res.Errors, Issue{
							Code: CodeUnknownPace,
							Message: fmt.Sprintf("unknown pace %q, valid paces: %s",
								d.value, strings.Join(KnownPaces, ", ")),
							Beat: currentBeat,
							Line: lineNo,
						})
					}
				}
			}
			continue
		}

		// Metadata and beat-header key/value lines are not spoken.
		if inMeta || inBeatHeader {
			if key, val, ok := splitKeyValue(trimmed); ok {
				if inMeta {
					meta[key] = val
					if key == "default_character" {
						currentChar = strings.ToLower(val)
					}
				}
				continue
			}
		}
		if trimmed == "---" {
			inBeatHeader = false
			continue
		}
		inBeatHeader = false

		// Spoken line.
		spoken := stripMarkup(trimmed)
		if spoken == "" {
			continue
		}
		if utf8.RuneCountInString(spoken) > MaxLineLength {
			res.Errors = append(res.Errors, Issue{
				Code: CodeLineTooLong,
				Message: fmt.Sprintf("line exceeds %d characters in beat %q (line %d)",
					MaxLineLength, currentBeat, lineNo),
				Beat: currentBeat,
				Line: lineNo,
			})
		}
		if currentChar != "" {
			res.CharacterCounts[currentChar]++
		}
	}

	if opens != closes {
		res.Errors = append(res.Errors, Issue{
			Code: CodeStructural,
			Message: fmt.Sprintf("unbalanced beat blocks: %d [BEAT:] opens but %d [END_BEAT] closes",
				opens, closes),
		})
	}
	res.BeatCount = opens

	// Advisory warnings; these never block execution.
	for _, field := range []string{"title", "project"} {
		if meta[field] == "" {
			res.Warnings = append(res.Warnings, Issue{
				Code:    CodeMissingField,
				Message: fmt.Sprintf("recommended metadata field %q is missing", field),
			})
		}
	}
	if opens > LargeScriptBeats {
		res.Warnings = append(res.Warnings, Issue{
			Code:    CodeLargeScript,
			Message: fmt.Sprintf("script has %d beats; consider splitting above %d", opens, LargeScriptBeats),
		})
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// splitKeyValue parses "key: value" metadata lines. Lines whose key part
// contains spaces are treated as spoken text, not metadata.
func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if strings.ContainsAny(key, " \t*[") {
		return "", "", false
	}
	return strings.ToLower(key), strings.TrimSpace(line[idx+1:]), true
}
