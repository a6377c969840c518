package app

import (
	"github.com/cuemby/eventsync/pkg/mirror"
	"github.com/cuemby/eventsync/pkg/subject"
	"github.com/cuemby/eventsync/pkg/types"
)

// Subjects the app subscribes to
const (
	SubjectLeaderboardUpdated  = "leaderboard.updated.v1"
	SubjectLeaderboardSnapshot = "leaderboard.snapshot.v1"
	SubjectRoundCreated        = "round.created.v1"
	SubjectRoundUpdated        = "round.updated.v1"
	SubjectRoundSnapshot       = "round.snapshot.v1"
	SubjectRoundDeleted        = "round.deleted.v1"
	SubjectProfiles            = "user.profile.*.v1"
	SubjectProfileSnapshot     = "user.profile.snapshot.v1"
)

type handleFunc func(msg *types.Message) (mirror.Result, error)

// route binds one subject to a stream operation
type route struct {
	subject string
	scoped  bool
	handle  handleFunc
}

// binding ties a stream to the subject its loaded snapshots are validated under
type binding struct {
	stream          string
	snapshotSubject string
	scoped          bool
	handle          handleFunc
}

func (a *App) routes() []route {
	return []route{
		{SubjectLeaderboardUpdated, true, a.leaderboard.Handle},
		{SubjectLeaderboardSnapshot, true, a.leaderboard.Handle},
		{SubjectRoundCreated, true, a.rounds.Handle},
		{SubjectRoundUpdated, true, a.rounds.Handle},
		{SubjectRoundSnapshot, true, a.rounds.Handle},
		{SubjectRoundDeleted, true, a.rounds.Remove},
		{SubjectProfiles, false, a.profiles.Handle},
	}
}

func (a *App) bindings() []binding {
	return []binding{
		{mirror.StreamLeaderboard, SubjectLeaderboardSnapshot, true, a.leaderboard.Handle},
		{mirror.StreamRounds, SubjectRoundSnapshot, true, a.rounds.Handle},
		{mirror.StreamProfiles, SubjectProfileSnapshot, false, a.profiles.Handle},
	}
}

// scopedSubject appends the session scope to subjects that support it
func scopedSubject(subj string, scoped bool, scope string) string {
	if !scoped {
		return subj
	}
	return subject.WithScope(subj, scope)
}
