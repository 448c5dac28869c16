// internal/jsonx/extract.go
//
// Pulls the first well-formed JSON object out of free text returned by a
// text-generation model. Models wrap JSON in ```json fences, prepend chatter
// or append explanations; callers only want the object.
//
// Extract is the single place this happens: it returns the raw object or an
// error, and never panics. Callers decide what the fallback is.

package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrEmpty is returned for blank input.
	ErrEmpty = errors.New("jsonx: empty text")
	// ErrNoJSON is returned when no complete, valid JSON object is present.
	ErrNoJSON = errors.New("jsonx: no json object found")
)

// Extract returns the first well-formed JSON object in text.
// Code fences are stripped first; if the fenced body holds no object the
// whole text is scanned.
func Extract(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmpty
	}
	if body, ok := fenced(trimmed); ok {
		if obj, ok := firstObject(body); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(trimmed); ok {
		return obj, nil
	}
	return nil, ErrNoJSON
}

// Decode extracts the first object in text and unmarshals it into v.
func Decode(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// fenced returns the body of the first ``` block, dropping the info string
// (e.g. "json") on the opening line.
func fenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	rest := s[start+3:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	body := rest[:end]
	if nl := strings.Index(body, "\n"); nl != -1 {
		head := strings.TrimSpace(body[:nl])
		if head == "" || !strings.ContainsAny(head, "{[") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body), true
}

// maxCandidates bounds how many opening braces firstObject tries, so text
// full of unbalanced braces costs linear time rather than quadratic.
const maxCandidates = 64

// firstObject scans for a balanced {...} span that also parses as JSON.
// Braces inside string literals are ignored. A candidate that is balanced
// but invalid is skipped and scanning continues after its opening brace.
func firstObject(s string) (json.RawMessage, bool) {
	for from, tries := 0, 0; from < len(s) && tries < maxCandidates; tries++ {
		open := strings.IndexByte(s[from:], '{')
		if open == -1 {
			return nil, false
		}
		open += from
		if end, ok := matchBrace(s, open); ok {
			candidate := s[open : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		from = open + 1
	}
	return nil, false
}

func matchBrace(s string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
