package game

import (
	"slices"
	"time"

	"github.com/victornm/trivia/internal/domain"
)

// Snapshot is a read-only view of a game as shown to players. It never reveals the correct option of an
// unanswered question.
type Snapshot struct {
	GameID     string        `json:"game_id"`
	Category   string        `json:"category"`
	State      string        `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Players    [2]PlayerView `json:"players"`
	Winner     string        `json:"winner,omitempty"`
	IsTie      bool          `json:"is_tie"`
}

type PlayerView struct {
	Slot          int                `json:"slot"`
	Initials      string             `json:"initials"`
	TotalScore    int                `json:"total_score"`
	Score         domain.PlayerScore `json:"score"`
	Answered      int                `json:"answered"`
	QuestionCount int                `json:"question_count"`
	NextQuestion  *QuestionView      `json:"next_question,omitempty"`
}

type QuestionView struct {
	ID         string            `json:"id"`
	Number     int               `json:"number"`
	Text       string            `json:"text"`
	Options    []string          `json:"options"`
	Category   string            `json:"category"`
	Difficulty domain.Difficulty `json:"difficulty"`
}

func newSnapshot(s *domain.GameSession, finishedAt time.Time) Snapshot {
	snap := Snapshot{
		GameID:    s.GameID,
		Category:  s.Category,
		State:     s.State().String(),
		StartedAt: s.StartedAt,
		IsTie:     s.IsTie(),
	}

	if !finishedAt.IsZero() {
		snap.FinishedAt = &finishedAt
	}

	if w, ok := s.Winner(); ok {
		snap.Winner = w
	}

	for i, slot := range []domain.Slot{domain.Slot1, domain.Slot2} {
		ps := s.Score(slot)
		v := PlayerView{
			Slot:          int(slot),
			Initials:      s.Initials(slot),
			TotalScore:    ps.TotalScore(),
			Score:         ps,
			Answered:      s.Answered(slot),
			QuestionCount: len(s.Questions(slot)),
		}

		if q, ok := s.NextQuestion(slot); ok {
			v.NextQuestion = &QuestionView{
				ID:         q.QuestionID,
				Number:     v.Answered + 1,
				Text:       q.Text,
				Options:    slices.Clone(q.Options),
				Category:   q.Category,
				Difficulty: q.Difficulty,
			}
		}

		snap.Players[i] = v
	}

	return snap
}
