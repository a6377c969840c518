package mirror

import (
	"fmt"

	"github.com/cuemby/eventsync/pkg/subject"
	"github.com/cuemby/eventsync/pkg/types"
)

// Stream names, also used as cache buckets and status paths
const (
	StreamLeaderboard = "leaderboard"
	StreamRounds      = "rounds"
	StreamProfiles    = "profiles"
)

// DefaultScope keys the leaderboard when no scope is present
const DefaultScope = "default"

// baseSubjectTokens is the token count of an unscoped subject such as
// "leaderboard.updated.v1"
const baseSubjectTokens = 3

// LeaderboardKey keys leaderboards by scope: the payload's scope field,
// else a scoped subject suffix, else DefaultScope
func LeaderboardKey(subj string, doc map[string]any) (string, error) {
	if scope, ok := doc["scope"].(string); ok && scope != "" {
		return scope, nil
	}
	if toks := subject.Tokens(subj); len(toks) > baseSubjectTokens {
		return toks[len(toks)-1], nil
	}
	return DefaultScope, nil
}

// FieldKey keys entries by a string field of the payload
func FieldKey(field string) KeyFunc {
	return func(subj string, doc map[string]any) (string, error) {
		v, ok := doc[field].(string)
		if !ok || v == "" {
			return "", fmt.Errorf("payload has no %q field", field)
		}
		return v, nil
	}
}

// NewLeaderboardStream creates the leaderboard stream and its mirror
func NewLeaderboardStream(opts ...Option) *Stream[types.Leaderboard] {
	return NewStream(New[types.Leaderboard](StreamLeaderboard), LeaderboardKey, opts...)
}

// NewRoundStream creates the round stream keyed by round id
func NewRoundStream(opts ...Option) *Stream[types.Round] {
	return NewStream(New[types.Round](StreamRounds), FieldKey("id"), opts...)
}

// NewProfileStream creates the profile stream keyed by user id
func NewProfileStream(opts ...Option) *Stream[types.UserProfile] {
	return NewStream(New[types.UserProfile](StreamProfiles), FieldKey("userId"), opts...)
}
