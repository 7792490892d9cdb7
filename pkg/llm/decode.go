package llm

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrNoJSON means the response held no parseable JSON object.
	ErrNoJSON = errors.New("llm response: no JSON object")
	// ErrSchema means the JSON object did not match the expected shape.
	ErrSchema = errors.New("llm response: schema mismatch")
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

const (
	selectionSchema = "selection.schema.json"
	pickSchema      = "selection_pick.schema.json"
	narrativeSchema = "narrative.schema.json"
	patternSchema   = "narrative_pattern.schema.json"
)

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

func loadSchema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		schemas := make(map[string]*jsonschema.Schema)
		for _, n := range []string{selectionSchema, pickSchema, narrativeSchema, patternSchema} {
			raw, err := schemaFS.ReadFile("schema/" + n)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", n, err)
				return
			}
			if err := compiler.AddResource(n, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", n, err)
				return
			}
			s, err := compiler.Compile(n)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", n, err)
				return
			}
			schemas[n] = s
		}
		compiledSchemas = schemas
	})

	if compileErr != nil {
		return nil, compileErr
	}
	s, ok := compiledSchemas[name]
	if !ok {
		return nil, fmt.Errorf("schema %s not initialized", name)
	}
	return s, nil
}

// ExtractJSONObject returns the first balanced {...} object in text. Braces
// inside JSON strings are ignored, so markdown fences and surrounding prose
// are tolerated.
func ExtractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > 0 {
			return text[start : end+1], nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Pick is one item chosen by the model. ItemNumber is 1-based and not yet
// checked against the candidate list. RelevanceScore is nil when omitted.
type Pick struct {
	ItemNumber     int
	Summary        string
	Urgency        string
	RelevanceScore *float64
	Entities       []string
	Tags           []string
}

// Selection is a decoded selection response. Invalid holds one error per
// selected item that failed validation and was dropped.
type Selection struct {
	Picks      []Pick
	Invalid    []error
	AgentNotes string
}

// PatternSuggestion is a narrative pattern proposed by the model.
type PatternSuggestion struct {
	Title       string
	Description string
	Sources     []string
	Strength    float64
}

// DecodeSelection parses a selection response. Only the envelope can fail
// the whole response; a bad item is dropped and reported in Invalid.
func DecodeSelection(text string) (Selection, error) {
	obj, err := decodeObject(text, selectionSchema)
	if err != nil {
		return Selection{}, err
	}

	sel := Selection{AgentNotes: firstNonEmpty(asString(obj["agent_notes"]), asString(obj["notes"]))}
	raw, _ := obj["selected_items"].([]any)
	records, invalid, err := validRecords(raw, pickSchema, "selected_items")
	if err != nil {
		return Selection{}, err
	}
	sel.Invalid = invalid
	for _, m := range records {
		idx, ok := asIndex(m["item_number"])
		if !ok {
			sel.Invalid = append(sel.Invalid, fmt.Errorf("%w: selected_items: item_number %v", ErrSchema, m["item_number"]))
			continue
		}
		sel.Picks = append(sel.Picks, Pick{
			ItemNumber:     idx,
			Summary:        strings.TrimSpace(asString(m["summary"])),
			Urgency:        asString(m["urgency"]),
			RelevanceScore: asFloat(m["relevance_score"]),
			Entities:       asStrings(m["entities"]),
			Tags:           asStrings(m["tags"]),
		})
	}
	return sel, nil
}

// DecodePatterns parses a narrative response. Patterns that fail validation
// are skipped. Missing strength reads as 0.5 and every strength is clamped to
// [0, 1].
func DecodePatterns(text string) ([]PatternSuggestion, error) {
	obj, err := decodeObject(text, narrativeSchema)
	if err != nil {
		return nil, err
	}

	raw, _ := obj["patterns"].([]any)
	records, _, err := validRecords(raw, patternSchema, "patterns")
	if err != nil {
		return nil, err
	}
	out := make([]PatternSuggestion, 0, len(records))
	for _, m := range records {
		strength := 0.5
		if f := asFloat(m["strength"]); f != nil {
			strength = max(0, min(*f, 1))
		}
		out = append(out, PatternSuggestion{
			Title:       strings.TrimSpace(asString(m["title"])),
			Description: strings.TrimSpace(asString(m["description"])),
			Sources:     asStrings(m["sources"]),
			Strength:    strength,
		})
	}
	return out, nil
}

func decodeObject(text, schemaName string) (map[string]any, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing content", ErrNoJSON)
	}

	schema, err := loadSchema(schemaName)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not an object", ErrSchema)
	}
	return obj, nil
}

// validRecords checks every element of list against the named schema on its
// own. Elements that fail are reported in invalid and left out of records.
func validRecords(list []any, schemaName, field string) (records []map[string]any, invalid []error, err error) {
	schema, err := loadSchema(schemaName)
	if err != nil {
		return nil, nil, fmt.Errorf("load schema: %w", err)
	}
	for i, entry := range list {
		if verr := schema.Validate(entry); verr != nil {
			invalid = append(invalid, fmt.Errorf("%w: %s[%d]: %v", ErrSchema, field, i, verr))
			continue
		}
		m, ok := entry.(map[string]any)
		if !ok {
			invalid = append(invalid, fmt.Errorf("%w: %s[%d]: not an object", ErrSchema, field, i))
			continue
		}
		records = append(records, m)
	}
	return records, invalid, nil
}

// asIndex accepts an integer, a numeric string, "[3]", or a non-empty list of
// those, in which case the first element wins.
func asIndex(v any) (int, bool) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return 0, false
		}
		return asIndex(t[0])
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		s := strings.Trim(strings.TrimSpace(t), "[] ")
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func asFloat(v any) *float64 {
	var f float64
	var err error
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
