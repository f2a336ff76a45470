package script

import (
	"fmt"
	"strconv"
	"strings"

	"takeforge/pkg/model"
)

// Script is the compiled form of a raw markup document.
type Script struct {
	Title            string       `json:"title"`
	Project          string       `json:"project"`
	DefaultCharacter string       `json:"default_character,omitempty"`
	DefaultPace      string       `json:"default_pace,omitempty"`
	Beats            []model.Beat `json:"beats"`
}

// InvalidError is returned by Parse when validation fails. It carries the
// full validation result so callers can surface every problem at once.
type InvalidError struct {
	Result Result
}

func (e *InvalidError) Error() string {
	if len(e.Result.Errors) == 1 {
		return fmt.Sprintf("script invalid: %s", e.Result.Errors[0].Message)
	}
	return fmt.Sprintf("script invalid: %d errors, first: %s",
		len(e.Result.Errors), e.Result.Errors[0].Message)
}

// parseCtx is the sticky directive state threaded through the scan. It is
// an immutable value: applying a directive yields a new context and leaves
// the old one untouched, which keeps per-line behavior testable.
type parseCtx struct {
	character string
	direction string
	pace      string
	stability *float64
	style     *float64
}

// apply returns the context after one directive. Unknown tags and pause
// directives leave the context unchanged.
func (c parseCtx) apply(d directive) parseCtx {
	switch d.tag {
	case tagCharacter:
		c.character = strings.ToLower(d.value)
	case tagDirection:
		c.direction = d.value
	case tagPace:
		c.pace = strings.ToLower(d.value)
	case tagStability:
		if v, err := strconv.ParseFloat(d.value, 64); err == nil {
			c.stability = &v
		}
	case tagStyle:
		if v, err := strconv.ParseFloat(d.value, 64); err == nil {
			c.style = &v
		}
	}
	return c
}

// pendingLine tracks per-line state the model does not carry: the active
// character when the line was spoken, and whether its pause was explicit
// (which decides the beat's trailing pause at finalization).
type pendingLine struct {
	line          model.Line
	character     string
	explicitPause bool
}

// Parse compiles a raw script into an ordered beat list. It validates
// first and fails all-or-nothing: partial beat structures are not
// meaningful. Callers wanting the full issue list should call Validate.
func Parse(raw string) (*Script, error) {
	if res := Validate(raw); !res.Valid {
		return nil, &InvalidError{Result: res}
	}

	out := &Script{}
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var (
		ctx          parseCtx
		inMeta       bool
		inBeatHeader bool
		beatID       string
		beatName     string
		pending      []pendingLine
	)

	flushBeat := func() {
		if beatID == "" {
			return
		}
		if b, ok := buildBeat(beatID, beatName, pending, out.DefaultPace, len(out.Beats)+1); ok {
			out.Beats = append(out.Beats, b)
		}
		beatID, beatName, pending = "", "", nil
	}

	for _, l := range lines {
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
					flushBeat()
					beatID = d.value
				case tagEndBeat:
					flushBeat()
				case tagPause:
					// Standalone pause: applies to the previous spoken
					// line instead of creating a new one.
					if len(pending) > 0 {
						pending[len(pending)-1].line.PauseAfterMs = parsePause(d.value)
						pending[len(pending)-1].explicitPause = true
					}
				default:
					ctx = ctx.apply(d)
				}
			}
			continue
		}

		if inMeta || inBeatHeader {
			if key, val, ok := splitKeyValue(trimmed); ok {
				if inMeta {
					switch key {
					case "title":
						out.Title = val
					case "project":
						out.Project = val
					case "default_character":
						out.DefaultCharacter = strings.ToLower(val)
						ctx.character = out.DefaultCharacter
					case "default_pace":
						out.DefaultPace = strings.ToLower(val)
						ctx.pace = out.DefaultPace
					}
				} else if key == "name" {
					beatName = val
				}
				continue
			}
		}
		if trimmed == "---" {
			inBeatHeader = false
			continue
		}
		inBeatHeader = false

		if beatID == "" {
			// Spoken text outside any beat block is discarded.
			continue
		}
		pending = append(pending, parseSpokenLine(trimmed, ctx))
	}
	flushBeat()

	return out, nil
}

// parseSpokenLine turns one raw spoken line into a Line under the given
// context: trailing pause extraction, emphasis unwrapping, and strong
// emphasis rewritten upper-case directly into the spoken text.
func parseSpokenLine(raw string, ctx parseCtx) pendingLine {
	pauseMs := DefaultLinePauseMs
	explicit := false
	if m := inlinePauseRe.FindStringSubmatch(raw); m != nil {
		pauseMs = parsePause(m[1])
		explicit = true
		raw = inlinePauseRe.ReplaceAllString(raw, "")
	}

	var strong, emph []string
	text := strongEmphRe.ReplaceAllStringFunc(raw, func(s string) string {
		word := strongEmphRe.FindStringSubmatch(s)[1]
		strong = append(strong, word)
		return strings.ToUpper(word)
	})
	text = emphRe.ReplaceAllStringFunc(text, func(s string) string {
		word := emphRe.FindStringSubmatch(s)[1]
		emph = append(emph, word)
		return word
	})

	line := model.Line{
		Text:         strings.TrimSpace(text),
		Direction:    ctx.direction,
		Pace:         ctx.pace,
		PauseAfterMs: pauseMs,
		Emphasis:     emph,
		StrongEmph:   strong,
	}
	if ctx.stability != nil || ctx.style != nil {
		line.Override = &model.ParamOverride{Stability: ctx.stability, Style: ctx.style}
	}
	return pendingLine{line: line, character: ctx.character, explicitPause: explicit}
}

// buildBeat finalizes a beat block. Beats with no parseable spoken content
// are dropped, never emitted empty.
func buildBeat(id, name string, pending []pendingLine, defaultPace string, position int) (model.Beat, bool) {
	var spoken []pendingLine
	for _, p := range pending {
		if p.line.Text != "" {
			spoken = append(spoken, p)
		}
	}
	if len(spoken) == 0 {
		return model.Beat{}, false
	}

	texts := make([]string, len(spoken))
	lines := make([]model.Line, len(spoken))
	for i, p := range spoken {
		texts[i] = p.line.Text
		lines[i] = p.line
	}

	b := model.Beat{
		ID:             id,
		Name:           name,
		Character:      spoken[0].character,
		Lines:          lines,
		CombinedScript: strings.Join(texts, " "),
	}

	if n := beatNumber(id); n > 0 {
		b.Seq = n
	} else {
		b.Seq = position
	}

	// Primary direction/pace: first non-null values among the lines.
	for _, l := range lines {
		if b.Direction == "" && l.Direction != "" {
			b.Direction = l.Direction
		}
		if b.Pace == "" && l.Pace != "" {
			b.Pace = l.Pace
		}
	}

	// A parameter override exists only when a line supplied a stability or
	// style override, or a pace differing from the script default.
	// Otherwise the beat inherits the character profile untouched. The
	// baseline pace is the script default when declared, "normal" when not;
	// an explicit [PACE: normal] under a slower default is a real override.
	basePace := defaultPace
	if basePace == "" {
		basePace = "normal"
	}
	var override *model.ParamOverride
	for _, l := range lines {
		if l.Override != nil {
			if override == nil {
				override = &model.ParamOverride{}
			}
			if override.Stability == nil {
				override.Stability = l.Override.Stability
			}
			if override.Style == nil {
				override.Style = l.Override.Style
			}
		}
		if l.Pace != "" && l.Pace != basePace {
			if override == nil {
				override = &model.ParamOverride{}
			}
			if override.Pace == "" {
				override.Pace = l.Pace
			}
		}
	}
	b.Override = override

	// Trailing pause: only an explicit pause on the final spoken line
	// produces appended silence.
	if last := spoken[len(spoken)-1]; last.explicitPause {
		b.PauseAfterMs = last.line.PauseAfterMs
	}

	return b, true
}
