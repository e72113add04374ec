// Package mapper resolves task parameter templates against workflow state.
//
// Resolution runs in two passes. The interpolation pass walks the template,
// passing non-string leaves through, replacing the timestamp sentinel with the
// current UTC time and substituting every {{ dotted.path }} expression with
// the value found in the scope. Interpolated strings reading exactly "true" or
// "false" become booleans. The re-parse pass then decodes every top-level
// interpolated value that is valid JSON; anything else is kept as text.
package mapper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampSentinel is replaced with the current UTC time in RFC 3339 form.
const TimestampSentinel = "$SERVER_TIMESTAMP"

var expression = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// UnresolvedPathError is returned when a template references a path that does
// not exist in the scope.
type UnresolvedPathError struct {
	Path string
}

func (e *UnresolvedPathError) Error() string {
	return fmt.Sprintf("unresolved template path: %s", e.Path)
}

// Mapper resolves templates. The zero value is not usable; call New.
type Mapper struct {
	now func() time.Time
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock overrides the time source used for the timestamp sentinel.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		m.now = now
	}
}

// New creates a Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var defaultMapper = New()

// Map resolves template against scope using the package default Mapper.
func Map(template any, scope map[string]any) (any, error) {
	return defaultMapper.Map(template, scope)
}

// Map resolves template against scope. A nil template resolves to nil. Any
// unresolved path fails the whole mapping and no partial result is returned.
func (m *Mapper) Map(template any, scope map[string]any) (any, error) {
	resolved, interpolated, err := m.interpolate(template, scope)
	if err != nil {
		return nil, err
	}

	switch v := resolved.(type) {
	case map[string]any:
		tmpl, _ := template.(map[string]any)
		for key, value := range v {
			if s, ok := value.(string); ok && isInterpolated(tmpl[key]) {
				v[key] = reparse(s)
			}
		}
		return v, nil
	case string:
		if interpolated {
			return reparse(v), nil
		}
		return v, nil
	default:
		return resolved, nil
	}
}

// MapObject resolves template and requires the result to be an object. A nil
// template yields an empty object.
func (m *Mapper) MapObject(template any, scope map[string]any) (map[string]any, error) {
	if template == nil {
		return map[string]any{}, nil
	}
	resolved, err := m.Map(template, scope)
	if err != nil {
		return nil, err
	}
	obj, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("template resolved to %T, expected an object", resolved)
	}
	return obj, nil
}

// interpolate performs the first pass. The boolean result reports whether a
// string was produced by substitution.
func (m *Mapper) interpolate(node any, scope map[string]any) (any, bool, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			resolved, _, err := m.interpolate(child, scope)
			if err != nil {
				return nil, false, err
			}
			out[key] = resolved
		}
		return out, false, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, _, err := m.interpolate(child, scope)
			if err != nil {
				return nil, false, err
			}
			out[i] = resolved
		}
		return out, false, nil
	case string:
		return m.interpolateString(v, scope)
	default:
		return node, false, nil
	}
}

func (m *Mapper) interpolateString(s string, scope map[string]any) (any, bool, error) {
	if s == TimestampSentinel {
		return m.now().UTC().Format(time.RFC3339Nano), true, nil
	}

	matches := expression.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, false, nil
	}

	var sb strings.Builder
	last := 0
	for _, match := range matches {
		sb.WriteString(s[last:match[0]])
		path := s[match[2]:match[3]]
		value, err := Lookup(scope, path)
		if err != nil {
			return nil, false, err
		}
		text, err := render(value)
		if err != nil {
			return nil, false, err
		}
		sb.WriteString(text)
		last = match[1]
	}
	sb.WriteString(s[last:])

	out := sb.String()
	switch out {
	case "true":
		return true, true, nil
	case "false":
		return false, true, nil
	}
	return out, true, nil
}

// Lookup navigates a dotted path through nested objects and arrays. Numeric
// segments index into arrays. A key holding null resolves to nil; a key that
// is absent is an UnresolvedPathError.
func Lookup(scope map[string]any, path string) (any, error) {
	if path == "" {
		return nil, &UnresolvedPathError{Path: path}
	}

	var current any = scope
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, &UnresolvedPathError{Path: path}
			}
			current = value
		case map[string]string:
			value, ok := node[segment]
			if !ok {
				return nil, &UnresolvedPathError{Path: path}
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, &UnresolvedPathError{Path: path}
			}
			current = node[idx]
		default:
			return nil, &UnresolvedPathError{Path: path}
		}
	}
	return current, nil
}

func render(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to render template value: %w", err)
		}
		return string(data), nil
	}
}

func reparse(s string) any {
	if !json.Valid([]byte(s)) {
		return s
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}

// isInterpolated reports whether a template leaf is a string that the first
// pass would rewrite.
func isInterpolated(leaf any) bool {
	s, ok := leaf.(string)
	if !ok {
		return false
	}
	return s == TimestampSentinel || expression.MatchString(s)
}
