package domain

import (
	"time"
)

// LeaderboardEntry is one player's result in one finished game.
type LeaderboardEntry struct {
	EntryID    string    `json:"entry_id"`
	GameID     string    `json:"game_id"`
	PlayerName string    `json:"player_name"`
	Score      int       `json:"score"`
	MaxStreak  int       `json:"max_streak"`
	Category   string    `json:"category"`
	Result     Outcome   `json:"result"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Leaderboard lists entries by score in descending order. An empty Category is the overall board.
type Leaderboard struct {
	Category string
	Entries  []LeaderboardEntry
}

// EntriesFromSummary builds the two leaderboard entries of a finished game.
func EntriesFromSummary(s GameSummary) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(s.Players))
	for _, p := range s.Players {
		entries = append(entries, LeaderboardEntry{
			EntryID:    s.GameID + ":" + p.Initials,
			GameID:     s.GameID,
			PlayerName: p.Initials,
			Score:      p.TotalScore,
			MaxStreak:  p.MaxStreak,
			Category:   s.Category,
			Result:     p.Outcome,
			RecordedAt: s.FinishedAt,
		})
	}

	return entries
}
