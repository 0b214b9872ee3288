package trail

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind selects how a Predicate compares a field against its pattern.
type MatchKind string

const (
	// MatchRegex keeps a record when the pattern matches anywhere in the field.
	MatchRegex MatchKind = "regex"
	// MatchExact keeps a record when the field equals the pattern.
	MatchExact MatchKind = "exact"
	// MatchPrefix keeps a record when the field starts with the pattern.
	MatchPrefix MatchKind = "prefix"
)

// ParseMatchKind maps a config string to a MatchKind. Empty means regex.
func ParseMatchKind(s string) (MatchKind, error) {
	switch MatchKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchRegex:
		return MatchRegex, nil
	case MatchExact:
		return MatchExact, nil
	case MatchPrefix:
		return MatchPrefix, nil
	default:
		return "", fmt.Errorf("unknown match kind %q", s)
	}
}

// Predicate is one filter stage: a field path, a match kind, and a pattern.
// Build one with NewPredicate; the zero value matches nothing and reports an
// error.
type Predicate struct {
	field   string
	kind    MatchKind
	pattern string
	re      *regexp.Regexp
}

// NewPredicate validates a predicate and compiles its regex once.
func NewPredicate(field string, kind MatchKind, pattern string) (Predicate, error) {
	if field == "" {
		return Predicate{}, fmt.Errorf("predicate field is empty")
	}
	p := Predicate{field: field, kind: kind, pattern: pattern}
	switch kind {
	case MatchRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Predicate{}, fmt.Errorf("predicate on %s: %w", field, err)
		}
		p.re = re
	case MatchExact, MatchPrefix:
	default:
		return Predicate{}, fmt.Errorf("predicate on %s: unknown match kind %q", field, kind)
	}
	return p, nil
}

// RegexPredicate is shorthand for NewPredicate(field, MatchRegex, pattern).
func RegexPredicate(field, pattern string) (Predicate, error) {
	return NewPredicate(field, MatchRegex, pattern)
}

// Field is the dotted record path the predicate inspects.
func (p Predicate) Field() string { return p.field }

// Kind is the comparison applied to the field.
func (p Predicate) Kind() MatchKind { return p.kind }

// Pattern is the configured pattern text.
func (p Predicate) Pattern() string { return p.pattern }

// Match reports whether r satisfies the predicate. A record missing the
// field is an error, not a non-match.
func (p Predicate) Match(r LogRecord) (bool, error) {
	if p.field == "" {
		return false, fmt.Errorf("predicate not initialized")
	}
	v, err := r.Field(p.field)
	if err != nil {
		return false, err
	}
	switch p.kind {
	case MatchExact:
		return v == p.pattern, nil
	case MatchPrefix:
		return strings.HasPrefix(v, p.pattern), nil
	default:
		return p.re.MatchString(v), nil
	}
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %q", p.field, p.kind, p.pattern)
}
