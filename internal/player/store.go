package player

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

const maxApplyAttempts = 16

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store keeps players in Redis: one hash per player plus a sorted set ranking players by total score.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewStore(c Config) *Store {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}
}

type record struct {
	TotalScore     int64 `redis:"total_score"`
	GamesPlayed    int64 `redis:"games_played"`
	Wins           int64 `redis:"wins"`
	Losses         int64 `redis:"losses"`
	Ties           int64 `redis:"ties"`
	CorrectAnswers int64 `redis:"correct_answers"`
	HighestScore   int64 `redis:"highest_score"`
	BestStreak     int64 `redis:"best_streak"`
	CreatedAt      int64 `redis:"created_at"`
	UpdatedAt      int64 `redis:"updated_at"`
}

func (r record) toPlayer(initials string) *domain.Player {
	return &domain.Player{
		Initials:       initials,
		TotalScore:     r.TotalScore,
		GamesPlayed:    r.GamesPlayed,
		Wins:           r.Wins,
		Losses:         r.Losses,
		Ties:           r.Ties,
		CorrectAnswers: r.CorrectAnswers,
		HighestScore:   r.HighestScore,
		BestStreak:     r.BestStreak,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

func fromPlayer(p *domain.Player) record {
	return record{
		TotalScore:     p.TotalScore,
		GamesPlayed:    p.GamesPlayed,
		Wins:           p.Wins,
		Losses:         p.Losses,
		Ties:           p.Ties,
		CorrectAnswers: p.CorrectAnswers,
		HighestScore:   p.HighestScore,
		BestStreak:     p.BestStreak,
		CreatedAt:      p.CreatedAt.UnixMilli(),
		UpdatedAt:      p.UpdatedAt.UnixMilli(),
	}
}

// GetOrCreate returns the player with the given initials, registering it with zero stats on first use.
// Concurrent calls for the same initials create the player once.
func (s *Store) GetOrCreate(ctx context.Context, initials string) (*domain.Player, error) {
	in, err := domain.NormalizeInitials(initials)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	key := s.playerKey(in)

	var all *redis.MapStringStringCmd
	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "created_at", now)
		pipe.HSetNX(ctx, key, "updated_at", now)
		pipe.ZAddNX(ctx, s.rankKey(), redis.Z{Score: 0, Member: in})
		all = pipe.HGetAll(ctx, key)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("get or create player %s: %w", in, err)
	}

	var r record
	if err := all.Scan(&r); err != nil {
		return nil, fmt.Errorf("scan player %s: %w", in, err)
	}

	return r.toPlayer(in), nil
}

// Get returns a registered player.
func (s *Store) Get(ctx context.Context, initials string) (*domain.Player, error) {
	in, err := domain.NormalizeInitials(initials)
	if err != nil {
		return nil, err
	}

	res := s.redis.HGetAll(ctx, s.playerKey(in))
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("get player %s: %w", in, err)
	}

	if len(res.Val()) == 0 {
		return nil, errors.NotFound("player not found: initials=%s", in)
	}

	var r record
	if err := res.Scan(&r); err != nil {
		return nil, fmt.Errorf("scan player %s: %w", in, err)
	}

	return r.toPlayer(in), nil
}

// ApplyGame folds one game into a registered player's stats with apply and returns the stored player.
// The player hash, its rank and the set of applied games change in one transaction watched against
// concurrent writers, so updates from simultaneous games are never lost. A game already applied to the
// player is not applied again.
func (s *Store) ApplyGame(ctx context.Context, initials, gameID string, apply func(p *domain.Player) error) (*domain.Player, error) {
	in, err := domain.NormalizeInitials(initials)
	if err != nil {
		return nil, err
	}

	if gameID == "" || apply == nil {
		return nil, errors.InvalidArgument("apply game to %s: empty game ID or nil apply", in)
	}

	key, gamesKey := s.playerKey(in), s.gamesKey(in)

	var out *domain.Player
	txf := func(tx *redis.Tx) error {
		applied, err := tx.SIsMember(ctx, gamesKey, gameID).Result()
		if err != nil {
			return err
		}

		res := tx.HGetAll(ctx, key)
		if err := res.Err(); err != nil {
			return err
		}

		if len(res.Val()) == 0 {
			return errors.NotFound("player not found: initials=%s", in)
		}

		var r record
		if err := res.Scan(&r); err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		p := r.toPlayer(in)
		if applied {
			out = p
			return nil
		}

		if err := apply(p); err != nil {
			return err
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fromPlayer(p))
			pipe.ZAdd(ctx, s.rankKey(), redis.Z{Score: float64(p.TotalScore), Member: in})
			pipe.SAdd(ctx, gamesKey, gameID)
			return nil
		}); err != nil {
			return err
		}

		out = p
		return nil
	}

	for i := 0; i < maxApplyAttempts; i++ {
		err := s.redis.Watch(ctx, txf, key, gamesKey)
		if err == nil {
			return out, nil
		}

		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}

		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, err
		}

		return nil, fmt.Errorf("apply game %s to player %s: %w", gameID, in, err)
	}

	return nil, fmt.Errorf("apply game %s to player %s: gave up after %d conflicting writes", gameID, in, maxApplyAttempts)
}

// Top returns up to n players ordered by total score, highest first.
func (s *Store) Top(ctx context.Context, n int) ([]*domain.Player, error) {
	if n < 1 {
		return nil, errors.InvalidArgument("top players: n must be positive, got %d", n)
	}

	ids, err := s.redis.ZRevRange(ctx, s.rankKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.playerKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}

	players := make([]*domain.Player, 0, len(ids))
	for i, cmd := range cmds {
		var r record
		if err := cmd.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan player %s: %w", ids[i], err)
		}
		players = append(players, r.toPlayer(ids[i]))
	}

	return players, nil
}

func (s *Store) playerKey(initials string) string {
	return fmt.Sprintf("%s:player:%s", s.prefix, initials)
}

func (s *Store) gamesKey(initials string) string {
	return fmt.Sprintf("%s:player:%s:games", s.prefix, initials)
}

func (s *Store) rankKey() string {
	return fmt.Sprintf("%s:players:by_score", s.prefix)
}
