package domain

const (
	EventNameRoundFinished      = "round.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventRoundFinished is published for every correctly answered round, win or
// loss. Handlers record history best-effort.
type EventRoundFinished struct {
	Entry HistoryEntry
}

func (EventRoundFinished) Name() string { return EventNameRoundFinished }

type EventLeaderboardUpdated struct {
	Seed    string
	Entries []LeaderboardEntry
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
