package score

import (
	"time"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

type Config struct {
	// Now is the clock stamped on updated players. Defaults to time.Now.
	Now func() time.Time
}

// Service decides finished games and folds them into player stats. It performs no I/O and keeps no
// state of its own; callers serialise access to a session.
type Service struct {
	now func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		now: c.Now,
	}
}

// DetermineGameResult compares the total scores of a complete session and records the verdict on it.
// On an already scored session it returns the recorded verdict unchanged.
func (s *Service) DetermineGameResult(session *domain.GameSession) (domain.GameResult, error) {
	if session == nil {
		return domain.GameResult{}, errors.InvalidArgument("determine result: nil session")
	}

	if r, ok := session.Result(); ok {
		return r, nil
	}

	if !session.IsComplete() {
		return domain.GameResult{}, errors.InvalidOperation("determine result: game %s is still in progress", session.GameID)
	}

	p1, p2 := session.TotalScore(domain.Slot1), session.TotalScore(domain.Slot2)

	var r domain.GameResult
	switch {
	case p1 == p2:
		r.IsTie = true
	case p1 > p2:
		r.Player1Won = true
	default:
		r.Player2Won = true
	}

	if err := session.RecordResult(r); err != nil {
		return domain.GameResult{}, err
	}

	return r, nil
}

// UpdatePlayerStats applies one scored game to the lifetime stats of one of its participants. Each
// participant can be updated once per session; the player is left untouched on error.
func (s *Service) UpdatePlayerStats(player *domain.Player, isWinner bool, session *domain.GameSession) error {
	updated, slot, err := s.fold(player, isWinner, session)
	if err != nil {
		return err
	}

	if err := session.MarkStatsApplied(slot); err != nil {
		return err
	}

	*player = updated

	return nil
}

// FoldGame applies a scored game to player like UpdatePlayerStats but does not mark the session. It is
// for callers whose store already guarantees a game is applied to a player once.
func (s *Service) FoldGame(player *domain.Player, isWinner bool, session *domain.GameSession) error {
	updated, _, err := s.fold(player, isWinner, session)
	if err != nil {
		return err
	}

	*player = updated

	return nil
}

func (s *Service) fold(player *domain.Player, isWinner bool, session *domain.GameSession) (domain.Player, domain.Slot, error) {
	if player == nil || session == nil {
		return domain.Player{}, 0, errors.InvalidArgument("update player stats: nil player or session")
	}

	r, ok := session.Result()
	if !ok {
		return domain.Player{}, 0, errors.InvalidOperation("update player stats: game %s is not scored yet", session.GameID)
	}

	in, err := domain.NormalizeInitials(player.Initials)
	if err != nil {
		return domain.Player{}, 0, err
	}

	slot, ok := session.SlotOf(in)
	if !ok {
		return domain.Player{}, 0, errors.InvalidArgument("update player stats: %s did not play game %s", in, session.GameID)
	}

	outcome := r.Outcome(slot)
	if isWinner != (outcome == domain.OutcomeWin) {
		return domain.Player{}, 0, errors.InvalidArgument("update player stats: %s has outcome %s in game %s, isWinner=%t",
			in, outcome, session.GameID, isWinner)
	}

	ps := session.Score(slot)
	updated := *player
	updated.Initials = in
	if err := updated.UpdateStats(domain.GameStats{
		Score:     ps.TotalScore(),
		Correct:   ps.CorrectCount,
		MaxStreak: ps.MaxStreak,
	}, outcome, s.now()); err != nil {
		return domain.Player{}, 0, err
	}

	return updated, slot, nil
}
