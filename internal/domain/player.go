package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/trivia/internal/errors"
)

const initialsLen = 3

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeTie  Outcome = "tie"
)

// Player is a leaderboard identity keyed by three-letter initials and its lifetime stats.
type Player struct {
	Initials       string    `json:"initials"`
	TotalScore     int64     `json:"total_score"`
	GamesPlayed    int64     `json:"games_played"`
	Wins           int64     `json:"wins"`
	Losses         int64     `json:"losses"`
	Ties           int64     `json:"ties"`
	CorrectAnswers int64     `json:"correct_answers"`
	HighestScore   int64     `json:"highest_score"`
	BestStreak     int64     `json:"best_streak"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NormalizeInitials upper-cases and validates player initials: exactly three letters A-Z.
func NormalizeInitials(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != initialsLen {
		return "", errors.InvalidArgument("initials must be %d letters, got %q", initialsLen, s)
	}

	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", errors.InvalidArgument("initials must be letters A-Z, got %q", s)
		}
	}

	return s, nil
}

// NewPlayer returns a player with zeroed stats.
func NewPlayer(initials string, now time.Time) (*Player, error) {
	in, err := NormalizeInitials(initials)
	if err != nil {
		return nil, err
	}

	return &Player{
		Initials:  in,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GameStats is what one finished game contributes to a player's lifetime stats.
type GameStats struct {
	Score     int
	Correct   int
	MaxStreak int
}

// UpdateStats folds one finished game into the lifetime stats. Counters only ever grow.
// It is not idempotent: every call counts as one more game played.
func (p *Player) UpdateStats(gs GameStats, outcome Outcome, now time.Time) error {
	if gs.Score < 0 || gs.Correct < 0 || gs.MaxStreak < 0 {
		return errors.InvalidArgument("player %s: negative stats delta %+v", p.Initials, gs)
	}

	switch outcome {
	case OutcomeWin:
		p.Wins++
	case OutcomeLoss:
		p.Losses++
	case OutcomeTie:
		p.Ties++
	default:
		return errors.InvalidArgument("player %s: unknown outcome %q", p.Initials, outcome)
	}

	p.GamesPlayed++
	p.TotalScore += int64(gs.Score)
	p.CorrectAnswers += int64(gs.Correct)
	p.HighestScore = max(p.HighestScore, int64(gs.Score))
	p.BestStreak = max(p.BestStreak, int64(gs.MaxStreak))
	p.UpdatedAt = now

	return nil
}

// WinRate is wins over games played, zero before the first game.
func (p *Player) WinRate() decimal.Decimal {
	if p.GamesPlayed == 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(p.Wins).DivRound(decimal.NewFromInt(p.GamesPlayed), 4)
}
