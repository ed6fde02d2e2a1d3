package domain

import (
	"slices"
	"time"

	"github.com/victornm/trivia/internal/errors"
)

// Slot identifies one of the two seats of a game.
type Slot int

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

func (s Slot) Valid() bool { return s == Slot1 || s == Slot2 }

func (s Slot) Other() Slot {
	if s == Slot1 {
		return Slot2
	}
	return Slot1
}

func (s Slot) index() int { return int(s) - 1 }

type SessionState int

const (
	StateInProgress SessionState = iota
	StateComplete
	StateScored
)

func (s SessionState) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateComplete:
		return "complete"
	case StateScored:
		return "scored"
	default:
		return "unknown"
	}
}

// AnswerRecord is what one answer contributed to a player's score.
type AnswerRecord struct {
	QuestionID   string        `json:"question_id"`
	Correct      bool          `json:"correct"`
	ResponseTime time.Duration `json:"response_time"`
	Streak       int           `json:"streak"`
	BasePoints   int           `json:"base_points"`
	StreakBonus  int           `json:"streak_bonus"`
	SpeedBonus   int           `json:"speed_bonus"`
	TimeBonus    int           `json:"time_bonus"`
}

func (a AnswerRecord) Points() int {
	return a.BasePoints + a.StreakBonus + a.SpeedBonus + a.TimeBonus
}

// PlayerScore holds the running score components of one slot.
type PlayerScore struct {
	BaseScore     int            `json:"base_score"`
	StreakBonus   int            `json:"streak_bonus"`
	SpeedBonus    int            `json:"speed_bonus"`
	TimeBonus     int            `json:"time_bonus"`
	CurrentStreak int            `json:"current_streak"`
	MaxStreak     int            `json:"max_streak"`
	CorrectCount  int            `json:"correct_count"`
	Elapsed       time.Duration  `json:"elapsed"`
	Answers       []AnswerRecord `json:"answers"`
}

// TotalScore is always the sum of the components; it is never stored.
func (ps PlayerScore) TotalScore() int {
	return ps.BaseScore + ps.StreakBonus + ps.SpeedBonus + ps.TimeBonus
}

func (ps PlayerScore) clone() PlayerScore {
	ps.Answers = slices.Clone(ps.Answers)
	return ps
}

// GameResult is the verdict of a scored game. Exactly one field is true.
type GameResult struct {
	IsTie      bool `json:"is_tie"`
	Player1Won bool `json:"player1_won"`
	Player2Won bool `json:"player2_won"`
}

// Winner returns the winning slot, false on a tie.
func (r GameResult) Winner() (Slot, bool) {
	switch {
	case r.Player1Won:
		return Slot1, true
	case r.Player2Won:
		return Slot2, true
	default:
		return 0, false
	}
}

func (r GameResult) Outcome(s Slot) Outcome {
	if r.IsTie {
		return OutcomeTie
	}

	if w, _ := r.Winner(); w == s {
		return OutcomeWin
	}

	return OutcomeLoss
}

type SessionConfig struct {
	GameID           string
	Player1          string
	Player2          string
	Player1Questions []Question
	Player2Questions []Question
	Category         string
	Rules            Rules
	StartedAt        time.Time
}

// GameSession accumulates the answers of one two-player game. It is not safe for concurrent use;
// callers serialise access per session.
type GameSession struct {
	GameID    string
	Category  string
	StartedAt time.Time

	rules        Rules
	initials     [2]string
	questions    [2][]Question
	scores       [2]PlayerScore
	state        SessionState
	result       GameResult
	statsApplied [2]bool
}

func NewGameSession(c SessionConfig) (*GameSession, error) {
	if c.GameID == "" {
		return nil, errors.InvalidArgument("game session: empty game ID")
	}

	p1, err := NormalizeInitials(c.Player1)
	if err != nil {
		return nil, err
	}

	p2, err := NormalizeInitials(c.Player2)
	if err != nil {
		return nil, err
	}

	if p1 == p2 {
		return nil, errors.InvalidArgument("game session: both players have initials %s", p1)
	}

	if err := c.Rules.Validate(); err != nil {
		return nil, err
	}

	for i, qs := range [][]Question{c.Player1Questions, c.Player2Questions} {
		if len(qs) == 0 {
			return nil, errors.InvalidArgument("game session: player %d has no questions", i+1)
		}

		for _, q := range qs {
			if err := q.Validate(); err != nil {
				return nil, err
			}
		}
	}

	return &GameSession{
		GameID:    c.GameID,
		Category:  c.Category,
		StartedAt: c.StartedAt,
		rules:     c.Rules,
		initials:  [2]string{p1, p2},
		questions: [2][]Question{slices.Clone(c.Player1Questions), slices.Clone(c.Player2Questions)},
		state:     StateInProgress,
	}, nil
}

func (s *GameSession) Player1Initials() string { return s.initials[0] }

func (s *GameSession) Player2Initials() string { return s.initials[1] }

func (s *GameSession) Initials(slot Slot) string {
	if !slot.Valid() {
		return ""
	}
	return s.initials[slot.index()]
}

// SlotOf finds the slot seated by initials.
func (s *GameSession) SlotOf(initials string) (Slot, bool) {
	for i, in := range s.initials {
		if in == initials {
			return Slot(i + 1), true
		}
	}
	return 0, false
}

func (s *GameSession) Rules() Rules { return s.rules }

func (s *GameSession) State() SessionState { return s.state }

func (s *GameSession) IsComplete() bool { return s.state != StateInProgress }

func (s *GameSession) IsScored() bool { return s.state == StateScored }

// Result returns the verdict once the session is scored.
func (s *GameSession) Result() (GameResult, bool) {
	return s.result, s.state == StateScored
}

// Winner returns the winner's initials once scored; false on a tie or before scoring.
func (s *GameSession) Winner() (string, bool) {
	r, ok := s.Result()
	if !ok {
		return "", false
	}

	w, ok := r.Winner()
	if !ok {
		return "", false
	}

	return s.Initials(w), true
}

func (s *GameSession) IsTie() bool {
	r, ok := s.Result()
	return ok && r.IsTie
}

// Score returns a copy of the slot's score components.
func (s *GameSession) Score(slot Slot) PlayerScore {
	if !slot.Valid() {
		return PlayerScore{}
	}
	return s.scores[slot.index()].clone()
}

func (s *GameSession) TotalScore(slot Slot) int {
	return s.Score(slot).TotalScore()
}

func (s *GameSession) Questions(slot Slot) []Question {
	if !slot.Valid() {
		return nil
	}
	return slices.Clone(s.questions[slot.index()])
}

// Answered reports how many questions the slot has answered.
func (s *GameSession) Answered(slot Slot) int {
	if !slot.Valid() {
		return 0
	}
	return len(s.scores[slot.index()].Answers)
}

// NextQuestion returns the slot's first unanswered question.
func (s *GameSession) NextQuestion(slot Slot) (Question, bool) {
	if !slot.Valid() {
		return Question{}, false
	}

	qs := s.questions[slot.index()]
	n := len(s.scores[slot.index()].Answers)
	if n >= len(qs) {
		return Question{}, false
	}

	return qs[n], true
}

// RecordAnswer scores the slot's next unanswered question. Either the whole answer is applied or,
// on error, nothing changes.
func (s *GameSession) RecordAnswer(slot Slot, correct bool, responseTime time.Duration) (AnswerRecord, error) {
	if !slot.Valid() {
		return AnswerRecord{}, errors.InvalidArgument("game %s: invalid player slot %d", s.GameID, slot)
	}

	if responseTime < 0 {
		return AnswerRecord{}, errors.InvalidArgument("game %s: negative response time %s", s.GameID, responseTime)
	}

	if s.IsComplete() {
		return AnswerRecord{}, errors.InvalidOperation("game %s is %s, no more answers accepted", s.GameID, s.state)
	}

	q, ok := s.NextQuestion(slot)
	if !ok {
		return AnswerRecord{}, errors.InvalidOperation("game %s: player %d has answered all questions", s.GameID, slot)
	}

	i := slot.index()
	ps := s.scores[i].clone()
	rec := AnswerRecord{
		QuestionID:   q.QuestionID,
		Correct:      correct,
		ResponseTime: responseTime,
	}

	if correct {
		ps.CurrentStreak++
		ps.MaxStreak = max(ps.MaxStreak, ps.CurrentStreak)
		ps.CorrectCount++

		rec.BasePoints = q.BasePoints()
		rec.StreakBonus = s.rules.StreakBonusFor(ps.CurrentStreak)
		rec.SpeedBonus = s.rules.SpeedBonus(responseTime)
	} else {
		ps.CurrentStreak = 0
	}
	rec.Streak = ps.CurrentStreak

	ps.Elapsed += responseTime
	if len(ps.Answers)+1 == len(s.questions[i]) && ps.CorrectCount > 0 {
		rec.TimeBonus = s.rules.TimeBonusFor(ps.Elapsed)
	}

	ps.BaseScore += rec.BasePoints
	ps.StreakBonus += rec.StreakBonus
	ps.SpeedBonus += rec.SpeedBonus
	ps.TimeBonus += rec.TimeBonus
	ps.Answers = append(ps.Answers, rec)

	s.scores[i] = ps
	if s.Answered(Slot1) == len(s.questions[0]) && s.Answered(Slot2) == len(s.questions[1]) {
		s.state = StateComplete
	}

	return rec, nil
}

// RecordResult moves a complete session to scored. Only the scoring service calls it.
func (s *GameSession) RecordResult(r GameResult) error {
	if s.state != StateComplete {
		return errors.InvalidOperation("game %s is %s, cannot record a result", s.GameID, s.state)
	}

	n := 0
	for _, b := range []bool{r.IsTie, r.Player1Won, r.Player2Won} {
		if b {
			n++
		}
	}
	if n != 1 {
		return errors.InvalidArgument("game %s: result must have exactly one outcome: %+v", s.GameID, r)
	}

	s.result = r
	s.state = StateScored

	return nil
}

// MarkStatsApplied records that the slot's player stats were updated for this game.
func (s *GameSession) MarkStatsApplied(slot Slot) error {
	if !slot.Valid() {
		return errors.InvalidArgument("game %s: invalid player slot %d", s.GameID, slot)
	}

	if s.statsApplied[slot.index()] {
		return errors.InvalidOperation("game %s: stats of player %s already applied", s.GameID, s.Initials(slot))
	}

	s.statsApplied[slot.index()] = true

	return nil
}

// StatsApplied reports whether MarkStatsApplied was called for the slot.
func (s *GameSession) StatsApplied(slot Slot) bool {
	return slot.Valid() && s.statsApplied[slot.index()]
}

// Clone returns a deep copy that shares nothing mutable with s.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.questions = [2][]Question{slices.Clone(s.questions[0]), slices.Clone(s.questions[1])}
	c.scores = [2]PlayerScore{s.scores[0].clone(), s.scores[1].clone()}
	return &c
}

// GameSummary is the immutable record of a finished game handed to persistence.
type GameSummary struct {
	GameID     string           `json:"game_id"`
	Category   string           `json:"category"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	IsTie      bool             `json:"is_tie"`
	Players    [2]PlayerSummary `json:"players"`
}

type PlayerSummary struct {
	Initials      string  `json:"initials"`
	TotalScore    int     `json:"total_score"`
	BaseScore     int     `json:"base_score"`
	StreakBonus   int     `json:"streak_bonus"`
	SpeedBonus    int     `json:"speed_bonus"`
	TimeBonus     int     `json:"time_bonus"`
	MaxStreak     int     `json:"max_streak"`
	CorrectCount  int     `json:"correct_count"`
	QuestionCount int     `json:"question_count"`
	Outcome       Outcome `json:"outcome"`
}

// Summary flattens the session. Outcomes are empty until the session is scored.
func (s *GameSession) Summary(finishedAt time.Time) GameSummary {
	sum := GameSummary{
		GameID:     s.GameID,
		Category:   s.Category,
		StartedAt:  s.StartedAt,
		FinishedAt: finishedAt,
		IsTie:      s.IsTie(),
	}

	r, scored := s.Result()
	for _, slot := range []Slot{Slot1, Slot2} {
		ps := s.scores[slot.index()]
		p := PlayerSummary{
			Initials:      s.Initials(slot),
			TotalScore:    ps.TotalScore(),
			BaseScore:     ps.BaseScore,
			StreakBonus:   ps.StreakBonus,
			SpeedBonus:    ps.SpeedBonus,
			TimeBonus:     ps.TimeBonus,
			MaxStreak:     ps.MaxStreak,
			CorrectCount:  ps.CorrectCount,
			QuestionCount: len(s.questions[slot.index()]),
		}
		if scored {
			p.Outcome = r.Outcome(slot)
		}
		sum.Players[slot.index()] = p
	}

	return sum
}
