package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/trivia/internal/errors"
)

// Rules are the tunable parameters of the bonus curves. All bonuses they produce are non-negative and
// depend only on the inputs of an answer, never on the wall clock.
type Rules struct {
	// StreakThreshold is the streak length from which every correct answer earns StreakBonus.
	StreakThreshold int `mapstructure:"streak_threshold"`
	StreakBonus     int `mapstructure:"streak_bonus"`

	// SpeedBonusMax is awarded for an instant correct answer and decreases linearly to zero at SpeedWindow.
	SpeedBonusMax int           `mapstructure:"speed_bonus_max"`
	SpeedWindow   time.Duration `mapstructure:"speed_window"`

	// A player who finishes all questions within TimeLimit earns one point per full TimeBonusUnit left,
	// at most TimeBonusMax. A zero TimeLimit disables the time bonus.
	TimeLimit     time.Duration `mapstructure:"time_limit"`
	TimeBonusUnit time.Duration `mapstructure:"time_bonus_unit"`
	TimeBonusMax  int           `mapstructure:"time_bonus_max"`
}

func DefaultRules() Rules {
	return Rules{
		StreakThreshold: 3,
		StreakBonus:     1,
		SpeedBonusMax:   3,
		SpeedWindow:     10 * time.Second,
		TimeLimit:       2 * time.Minute,
		TimeBonusUnit:   10 * time.Second,
		TimeBonusMax:    5,
	}
}

func (r Rules) Validate() error {
	if r.StreakThreshold < 1 || r.StreakBonus < 0 || r.SpeedBonusMax < 0 || r.TimeBonusMax < 0 {
		return errors.InvalidArgument("rules: negative bonus or streak threshold below 1: %+v", r)
	}

	if r.SpeedWindow < 0 || r.TimeLimit < 0 {
		return errors.InvalidArgument("rules: negative duration: %+v", r)
	}

	if r.TimeLimit > 0 && r.TimeBonusUnit <= 0 {
		return errors.InvalidArgument("rules: time bonus unit must be positive when a time limit is set")
	}

	return nil
}

// SpeedBonus is floor(SpeedBonusMax * (SpeedWindow - t) / SpeedWindow) for t inside the window, else 0.
func (r Rules) SpeedBonus(t time.Duration) int {
	if r.SpeedWindow <= 0 || t < 0 || t >= r.SpeedWindow {
		return 0
	}

	left := decimal.NewFromInt(int64(r.SpeedWindow - t))
	bonus := decimal.NewFromInt(int64(r.SpeedBonusMax)).
		Mul(left).
		Div(decimal.NewFromInt(int64(r.SpeedWindow))).
		Floor()

	return int(bonus.IntPart())
}

// StreakBonusFor returns the bonus earned by a correct answer that brought the streak to streak.
func (r Rules) StreakBonusFor(streak int) int {
	if streak < r.StreakThreshold {
		return 0
	}

	return r.StreakBonus
}

// TimeBonusFor returns the bonus for finishing after elapsed total response time.
func (r Rules) TimeBonusFor(elapsed time.Duration) int {
	if r.TimeLimit <= 0 || r.TimeBonusUnit <= 0 || elapsed >= r.TimeLimit {
		return 0
	}

	units := int((r.TimeLimit - elapsed) / r.TimeBonusUnit)

	return min(units, r.TimeBonusMax)
}
