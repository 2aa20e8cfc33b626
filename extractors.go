package jobprogress

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// IntExtractor derives an integer field (value or max) from a response body.
// The boolean result reports whether the field was present.
type IntExtractor func(body []byte) (int, bool)

// StringExtractor derives a text field (status) from a response body.
// The boolean result reports whether the field was present.
type StringExtractor func(body []byte) (string, bool)

// BoolExtractor derives a flag (stopped or errored) from a response body.
type BoolExtractor func(body []byte) bool

// Extractors groups the five accessors a [Tracker] applies to each response.
//
// The tracker never parses responses itself; everything it learns from the
// endpoint comes through these functions. Extractors are called within a
// panic recovery boundary: a panicking extractor is logged with a correlation
// ID and treated as reporting nothing.
type Extractors struct {
	Value   IntExtractor
	Max     IntExtractor
	Status  StringExtractor
	Stopped BoolExtractor
	Errored BoolExtractor
}

// DefaultExtractors returns the extractors used when none are configured.
//
// They read the top-level fields "value", "max", "status", "stopped" and
// "errorOccurred":
//
//	{"value": 3, "max": 10, "status": "Rendering pages", "stopped": false, "errorOccurred": false}
func DefaultExtractors() Extractors {
	return Extractors{
		Value:   JSONInt("value"),
		Max:     JSONInt("max"),
		Status:  JSONString("status"),
		Stopped: JSONBool("stopped"),
		Errored: JSONBool("errorOccurred"),
	}
}

// merge fills nil fields of e from fallback.
func (e Extractors) merge(fallback Extractors) Extractors {
	if e.Value == nil {
		e.Value = fallback.Value
	}
	if e.Max == nil {
		e.Max = fallback.Max
	}
	if e.Status == nil {
		e.Status = fallback.Status
	}
	if e.Stopped == nil {
		e.Stopped = fallback.Stopped
	}
	if e.Errored == nil {
		e.Errored = fallback.Errored
	}
	return e
}

// JSONInt returns an [IntExtractor] that reads a JSON field using dot
// notation to navigate nested objects.
//
// Numbers are truncated toward zero. Strings are parsed the way a lenient
// integer parser would: leading whitespace and sign are accepted and parsing
// stops at the first non-digit, so "42 items" yields 42. Anything else,
// including a missing field, is reported as absent.
//
// Example:
//
//	// For response: {"progress": {"done": 7}}
//	extractor := jobprogress.JSONInt("progress.done")
func JSONInt(path string) IntExtractor {
	parts := splitPath(path)
	return func(body []byte) (int, bool) {
		v, ok := lookupJSON(body, parts)
		if !ok {
			return 0, false
		}
		return toInt(v)
	}
}

// JSONString returns a [StringExtractor] that reads a JSON field using dot
// notation. Numbers and booleans are converted to their text form. Empty
// strings, null and missing fields are reported as absent.
func JSONString(path string) StringExtractor {
	parts := splitPath(path)
	return func(body []byte) (string, bool) {
		v, ok := lookupJSON(body, parts)
		if !ok {
			return "", false
		}
		return toString(v)
	}
}

// JSONBool returns a [BoolExtractor] that reads a JSON field using dot
// notation. Only a JSON boolean true counts; "true" as a string, 1 and any
// other value yield false.
func JSONBool(path string) BoolExtractor {
	parts := splitPath(path)
	return func(body []byte) bool {
		v, ok := lookupJSON(body, parts)
		if !ok {
			return false
		}
		return toBool(v)
	}
}

// JQInt returns an [IntExtractor] that evaluates a jq expression against the
// decoded response and converts its first result like [JSONInt].
//
// Returns an error if the query does not parse or compile.
//
// Example:
//
//	// total steps is the length of a list
//	extractor, err := jobprogress.JQInt(".pages | length")
func JQInt(query string) (IntExtractor, error) {
	code, err := compileJQ(query)
	if err != nil {
		return nil, err
	}
	return func(body []byte) (int, bool) {
		v, ok := runJQ(code, body)
		if !ok {
			return 0, false
		}
		return toInt(v)
	}, nil
}

// JQString returns a [StringExtractor] backed by a jq expression.
func JQString(query string) (StringExtractor, error) {
	code, err := compileJQ(query)
	if err != nil {
		return nil, err
	}
	return func(body []byte) (string, bool) {
		v, ok := runJQ(code, body)
		if !ok {
			return "", false
		}
		return toString(v)
	}, nil
}

// JQBool returns a [BoolExtractor] backed by a jq expression. The first
// result must be the boolean true.
//
// Example:
//
//	extractor, err := jobprogress.JQBool(`.state == "cancelled"`)
func JQBool(query string) (BoolExtractor, error) {
	code, err := compileJQ(query)
	if err != nil {
		return nil, err
	}
	return func(body []byte) bool {
		v, ok := runJQ(code, body)
		if !ok {
			return false
		}
		return toBool(v)
	}, nil
}

// MustJQInt is like [JQInt] but panics if the query is invalid.
func MustJQInt(query string) IntExtractor {
	e, err := JQInt(query)
	if err != nil {
		panic("jobprogress: invalid jq query: " + err.Error())
	}
	return e
}

// MustJQString is like [JQString] but panics if the query is invalid.
func MustJQString(query string) StringExtractor {
	e, err := JQString(query)
	if err != nil {
		panic("jobprogress: invalid jq query: " + err.Error())
	}
	return e
}

// MustJQBool is like [JQBool] but panics if the query is invalid.
func MustJQBool(query string) BoolExtractor {
	e, err := JQBool(query)
	if err != nil {
		panic("jobprogress: invalid jq query: " + err.Error())
	}
	return e
}

func compileJQ(query string) (*gojq.Code, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse jq query %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile jq query %q: %w", query, err)
	}
	return code, nil
}

// runJQ returns the first non-error result of code applied to body.
func runJQ(code *gojq.Code, body []byte) (any, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}

	iter := code.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, true
}

func splitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookupJSON decodes body and walks it using dot notation parts.
func lookupJSON(body []byte, parts []string) (any, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}

	current := data
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, current != nil
}

// maxExactInt bounds float conversions to values a float64 represents exactly.
const maxExactInt = 1 << 53

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) > maxExactInt {
			return 0, false
		}
		return int(math.Trunc(n)), true
	case int:
		return n, true
	case string:
		return parseLeadingInt(n)
	default:
		return 0, false
	}
}

// parseLeadingInt parses an optional sign followed by decimal digits, ignoring
// leading whitespace and anything after the digits.
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

func toBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
