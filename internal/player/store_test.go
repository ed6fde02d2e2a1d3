package player_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/player"
)

var now = time.Date(2024, 11, 22, 9, 30, 0, 0, time.UTC)

func TestStore_GetOrCreate(t *testing.T) {
	s, _ := makeStore(t)
	ctx := context.Background()

	p, err := s.GetOrCreate(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, &domain.Player{Initials: "ABC", CreatedAt: now, UpdatedAt: now}, p)

	p, err = s.ApplyGame(ctx, "ABC", "game-1", func(p *domain.Player) error {
		p.TotalScore, p.GamesPlayed, p.Wins = 12, 1, 1
		p.UpdatedAt = now.Add(time.Minute)
		return nil
	})
	require.NoError(t, err)

	again, err := s.GetOrCreate(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, p, again, "an existing player must not be reset")
}

func TestStore_GetOrCreate_Concurrent(t *testing.T) {
	s, _ := makeStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrCreate(context.Background(), "XYZ")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	top, err := s.Top(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "XYZ", top[0].Initials)
}

func TestStore_Errors(t *testing.T) {
	s, _ := makeStore(t)
	ctx := context.Background()

	tests := map[string]struct {
		call     func() error
		wantCode errors.Code
	}{
		"get unknown player": {
			call: func() error {
				_, err := s.Get(ctx, "QQQ")
				return err
			},
			wantCode: errors.CodeNotFound,
		},
		"get with invalid initials": {
			call: func() error {
				_, err := s.Get(ctx, "Q")
				return err
			},
			wantCode: errors.CodeInvalidArgument,
		},
		"create with invalid initials": {
			call: func() error {
				_, err := s.GetOrCreate(ctx, "1234")
				return err
			},
			wantCode: errors.CodeInvalidArgument,
		},
		"apply to unregistered player": {
			call: func() error {
				_, err := s.ApplyGame(ctx, "QQQ", "game-1", func(*domain.Player) error { return nil })
				return err
			},
			wantCode: errors.CodeNotFound,
		},
		"apply without game ID": {
			call: func() error {
				_, err := s.ApplyGame(ctx, "ABC", "", func(*domain.Player) error { return nil })
				return err
			},
			wantCode: errors.CodeInvalidArgument,
		},
		"apply error is returned as is": {
			call: func() error {
				if _, err := s.GetOrCreate(ctx, "ERR"); err != nil {
					return err
				}
				_, err := s.ApplyGame(ctx, "ERR", "game-1", func(*domain.Player) error {
					return errors.InvalidOperation("rejected")
				})
				return err
			},
			wantCode: errors.CodeInvalidOperation,
		},
		"top of zero": {
			call: func() error {
				_, err := s.Top(ctx, 0)
				return err
			},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			err := tt.call()
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code, "got %v", err)
		})
	}
}

func TestStore_Top(t *testing.T) {
	s, _ := makeStore(t)
	ctx := context.Background()

	for in, score := range map[string]int64{"AAA": 5, "BBB": 30, "CCC": 12, "DDD": 0} {
		_, err := s.GetOrCreate(ctx, in)
		require.NoError(t, err)

		_, err = s.ApplyGame(ctx, in, "game-1", func(p *domain.Player) error {
			p.TotalScore = score
			return nil
		})
		require.NoError(t, err)
	}

	top, err := s.Top(ctx, 3)
	require.NoError(t, err)

	got := make([]string, 0, len(top))
	for _, p := range top {
		got = append(got, p.Initials)
	}
	assert.Equal(t, []string{"BBB", "CCC", "AAA"}, got)
	assert.Equal(t, int64(30), top[0].TotalScore)

	p, err := s.Get(ctx, "ccc")
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.TotalScore)
}

func TestStore_ApplyGame_Once(t *testing.T) {
	s, _ := makeStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreate(ctx, "ABC")
	require.NoError(t, err)

	calls := 0
	win := func(p *domain.Player) error {
		calls++
		return p.UpdateStats(domain.GameStats{Score: 7, Correct: 3, MaxStreak: 2}, domain.OutcomeWin, now)
	}

	for i := 0; i < 3; i++ {
		p, err := s.ApplyGame(ctx, "abc", "game-1", win)
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.GamesPlayed)
		assert.Equal(t, int64(7), p.TotalScore)
	}
	assert.Equal(t, 1, calls, "a game is applied to a player once")

	p, err := s.ApplyGame(ctx, "ABC", "game-2", win)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.GamesPlayed)
	assert.Equal(t, int64(14), p.TotalScore)
	assert.Equal(t, int64(7), p.HighestScore)
}

func TestStore_ApplyGame_ConcurrentGames(t *testing.T) {
	s, _ := makeStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreate(ctx, "AAA")
	require.NoError(t, err)

	const games = 2

	// Both writers read the player before either of them writes.
	var read sync.WaitGroup
	read.Add(games)

	var wg sync.WaitGroup
	for i := 0; i < games; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var first sync.Once
			_, err := s.ApplyGame(ctx, "AAA", fmt.Sprintf("game-%d", i), func(p *domain.Player) error {
				first.Do(func() {
					read.Done()
					read.Wait()
				})
				return p.UpdateStats(domain.GameStats{Score: 9, Correct: 3, MaxStreak: 3}, domain.OutcomeWin, now)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.Get(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, int64(games), p.GamesPlayed, "no game is lost")
	assert.Equal(t, int64(games), p.Wins)
	assert.Equal(t, int64(18), p.TotalScore)

	top, err := s.Top(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(18), top[0].TotalScore, "rank follows the stats")
}

func TestStore_UsesPrefix(t *testing.T) {
	s, mr := makeStore(t)

	_, err := s.GetOrCreate(context.Background(), "ABC")
	require.NoError(t, err)

	assert.True(t, mr.Exists("trivia:player:ABC"))
	assert.True(t, mr.Exists("trivia:players:by_score"))
}

func makeStore(t *testing.T) (*player.Store, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return player.NewStore(player.Config{
		Redis:  rc,
		Prefix: "trivia",
		Now:    func() time.Time { return now },
	}), mr
}
