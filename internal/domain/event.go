package domain

const (
	EventNameGameStarted        = "game.started"
	EventNameAnswerRecorded     = "answer.recorded"
	EventNameGameFinished       = "game.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventGameStarted struct {
	GameID   string
	Players  [2]string
	Category string
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventAnswerRecorded struct {
	GameID   string
	Initials string
	Answer   AnswerRecord
}

func (EventAnswerRecorded) Name() string { return EventNameAnswerRecorded }

// EventGameFinished is published once per game, after both players' stats were updated.
type EventGameFinished struct {
	Game GameSummary
}

func (EventGameFinished) Name() string { return EventNameGameFinished }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
