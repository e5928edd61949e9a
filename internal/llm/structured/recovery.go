// Package structured recovers machine-parseable JSON from free-form model
// text. Models wrap structured answers in reasoning tags, front matter and
// markdown fences, and sometimes truncate mid-object; the recovery
// pipeline peels those layers off deterministically before parsing and
// validating against the caller's schema.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const (
	thinkingCloseTag  = "</thinking>"
	frontMatterMarker = "---"
	fenceMarker       = "```"
)

// Recovered is a successfully extracted and validated object.
type Recovered struct {
	// Object is the parsed JSON object.
	Object map[string]any
	// Canonical is the re-serialized form of Object.
	Canonical string
}

// RecoveryError reports a failed recovery. CleanedText carries the
// best-effort cleaned input so callers can fall back to surfacing the raw
// response instead of a validated object.
type RecoveryError struct {
	Stage       string
	CleanedText string
	Err         error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("structured output recovery failed at %s: %v", e.Stage, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// Recover extracts a JSON object from raw model text and validates it
// against schema (a JSON-Schema object). Each cleanup step is conditional
// and idempotent; the whole pipeline never panics on malformed input.
func Recover(raw string, schema map[string]any) (*Recovered, error) {
	text := Clean(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, &RecoveryError{Stage: "parse", CleanedText: text, Err: err}
	}

	if schema != nil {
		result, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(schema),
			gojsonschema.NewGoLoader(obj),
		)
		if err != nil {
			return nil, &RecoveryError{Stage: "schema", CleanedText: text, Err: err}
		}
		if !result.Valid() {
			return nil, &RecoveryError{
				Stage:       "validate",
				CleanedText: text,
				Err:         fmt.Errorf("schema violations: %s", formatViolations(result)),
			}
		}
	}

	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, &RecoveryError{Stage: "serialize", CleanedText: text, Err: err}
	}

	return &Recovered{Object: obj, Canonical: string(canonical)}, nil
}

// Clean applies the cleanup pipeline without parsing: trim, cut through a
// reasoning-tag close marker, strip front matter, strip markdown fences,
// repair a missing object wrapper, and repair a single-brace truncation.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	text = stripThinking(text)
	text = stripFrontMatter(text)
	text = stripFences(text)
	text = repairWrapper(text)
	text = repairTruncation(text)
	return text
}

// stripThinking discards everything up to and including the last
// reasoning-tag close marker, keeping only what follows.
func stripThinking(text string) string {
	idx := strings.LastIndex(text, thinkingCloseTag)
	if idx < 0 {
		return text
	}
	return strings.TrimSpace(text[idx+len(thinkingCloseTag):])
}

// stripFrontMatter removes a leading front-matter section delimited by
// `---` lines.
func stripFrontMatter(text string) string {
	if !strings.HasPrefix(text, frontMatterMarker) {
		return text
	}
	rest := text[len(frontMatterMarker):]
	end := strings.Index(rest, frontMatterMarker)
	if end < 0 {
		return text
	}
	return strings.TrimSpace(rest[end+len(frontMatterMarker):])
}

// stripFences removes a leading fenced-code-block opener (language-tagged
// or bare) and a trailing fence closer.
func stripFences(text string) string {
	if strings.HasPrefix(text, fenceMarker) {
		if nl := strings.Index(text, "\n"); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, fenceMarker)
		}
	}
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, fenceMarker) {
		text = strings.TrimSpace(strings.TrimSuffix(text, fenceMarker))
	}
	return text
}

// repairWrapper prepends an opening brace when the text starts with a
// quote character: some models emit the object's first key without the
// surrounding wrapper.
func repairWrapper(text string) string {
	if strings.HasPrefix(text, `"`) {
		return "{" + text
	}
	return text
}

// repairTruncation appends a single closing brace when output was cut off
// mid-object. This is deliberately a best-effort heuristic, not a
// balanced-bracket parser: only the single-brace-deficit case is fixed.
func repairTruncation(text string) string {
	if !strings.HasPrefix(text, "{") || strings.HasSuffix(text, "}") {
		return text
	}
	if strings.Count(text, "{")-strings.Count(text, "}") == 1 {
		return text + "}"
	}
	return text
}

func formatViolations(result *gojsonschema.Result) string {
	parts := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
