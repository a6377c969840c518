package subject

import "strings"

const (
	separator = "."
	anyToken  = "*"
	tailToken = ">"
)

// Tokens splits a subject into its dot-separated tokens
func Tokens(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, separator)
}

// Valid reports whether s is a well-formed subject or pattern
func Valid(s string) bool {
	toks := Tokens(s)
	if len(toks) == 0 {
		return false
	}
	for i, t := range toks {
		if t == "" {
			return false
		}
		if t == tailToken && i != len(toks)-1 {
			return false
		}
	}
	return true
}

// IsPattern reports whether s contains wildcard tokens
func IsPattern(s string) bool {
	for _, t := range Tokens(s) {
		if t == anyToken || t == tailToken {
			return true
		}
	}
	return false
}

// Match reports whether subject matches pattern
func Match(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := Tokens(pattern)
	st := Tokens(subject)
	for i, p := range pt {
		if p == tailToken {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != anyToken && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// SplitScope splits the trailing scope token from a subject.
// "round.created.v1.guild-1" yields ("round.created.v1", "guild-1", true).
func SplitScope(s string) (base, scope string, ok bool) {
	idx := strings.LastIndex(s, separator)
	if idx <= 0 || idx == len(s)-1 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

// WithScope appends a scope token to a subject
func WithScope(s, scope string) string {
	if scope == "" {
		return s
	}
	return s + separator + scope
}
