package domain

import (
	"strings"

	"github.com/victornm/trivia/internal/errors"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty accepts any casing of easy, medium or hard. Unknown values are returned as-is and
// score like easy questions.
func ParseDifficulty(s string) Difficulty {
	return Difficulty(strings.ToLower(strings.TrimSpace(s)))
}

// BasePoints is the score of a correct answer at this difficulty.
func (d Difficulty) BasePoints() int {
	switch d {
	case DifficultyMedium:
		return 2
	case DifficultyHard:
		return 3
	default:
		return 1
	}
}

// Question is one multiple choice question. It is immutable once handed out by a question provider.
type Question struct {
	QuestionID         string     `json:"id" yaml:"id"`
	Text               string     `json:"text" yaml:"text"`
	Options            []string   `json:"options" yaml:"options"`
	CorrectOptionIndex int        `json:"correct_option_index" yaml:"correct"`
	Category           string     `json:"category" yaml:"category"`
	Difficulty         Difficulty `json:"difficulty" yaml:"difficulty"`
}

func (q Question) Validate() error {
	if len(q.Options) < 2 {
		return errors.InvalidArgument("question %q: need at least 2 options, got %d", q.QuestionID, len(q.Options))
	}

	if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
		return errors.InvalidArgument("question %q: correct option index %d out of range [0, %d)",
			q.QuestionID, q.CorrectOptionIndex, len(q.Options))
	}

	return nil
}

// CorrectAnswer returns the text of the correct option, or "" for an invalid question.
func (q Question) CorrectAnswer() string {
	if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
		return ""
	}

	return q.Options[q.CorrectOptionIndex]
}

func (q Question) BasePoints() int {
	return q.Difficulty.BasePoints()
}

// IsCorrect reports whether option is the correct option index.
func (q Question) IsCorrect(option int) bool {
	return option == q.CorrectOptionIndex
}
