package subject

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMatch tests wildcard and literal matching
func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		want    bool
	}{
		{"literal", "round.created.v1", "round.created.v1", true},
		{"literal mismatch", "round.created.v1", "round.deleted.v1", false},
		{"single wildcard", "round.*.v1", "round.updated.v1", true},
		{"single wildcard too short", "round.*.v1", "round.updated", false},
		{"tail wildcard", "round.>", "round.created.v1.guild-1", true},
		{"tail needs a token", "round.>", "round", false},
		{"longer subject", "round.created.v1", "round.created.v1.guild-1", false},
		{"longer pattern", "round.created.v1.*", "round.created.v1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.subject))
		})
	}
}

// TestSplitScope tests trailing scope extraction
func TestSplitScope(t *testing.T) {
	base, scope, ok := SplitScope("round.created.v1.guild-1")
	assert.True(t, ok)
	assert.Equal(t, "round.created.v1", base)
	assert.Equal(t, "guild-1", scope)

	_, _, ok = SplitScope("single")
	assert.False(t, ok)

	assert.Equal(t, "a.b.c", WithScope("a.b", "c"))
	assert.Equal(t, "a.b", WithScope("a.b", ""))
}

// TestValid tests subject syntax checks
func TestValid(t *testing.T) {
	assert.True(t, Valid("leaderboard.updated.v1"))
	assert.True(t, Valid("leaderboard.>"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("a..b"))
	assert.False(t, Valid("a.>.b"))
	assert.True(t, IsPattern("a.*"))
	assert.False(t, IsPattern("a.b"))
}
