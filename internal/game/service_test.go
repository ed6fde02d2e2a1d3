package game_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/game"
	"github.com/victornm/trivia/internal/player"
	"github.com/victornm/trivia/internal/question"
)

const (
	right = 0
	wrong = 1
)

func TestService_PlayFullGame(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		finished []domain.EventGameFinished
	)
	f.eb.Subscribe(domain.EventNameGameFinished, func(_ context.Context, e event.Event) error {
		mu.Lock()
		finished = append(finished, e.(domain.EventGameFinished))
		mu.Unlock()
		return nil
	})

	g, err := f.svc.StartGame(ctx, game.StartGameRequest{Player1: "aaa", Player2: "bbb", Category: "Science", QuestionCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "in_progress", g.State)
	assert.Equal(t, "science", g.Category)
	assert.Equal(t, "AAA", g.Players[0].Initials)
	require.NotNil(t, g.Players[0].NextQuestion)
	assert.Equal(t, 1, g.Players[0].NextQuestion.Number)

	for _, opt := range []int{right, right, right} {
		resp, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA", OptionIndex: opt})
		require.NoError(t, err)
		assert.True(t, resp.Correct)
		assert.Equal(t, "yes", resp.CorrectAnswer)
	}

	resp, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "BBB", OptionIndex: wrong})
	require.NoError(t, err)
	assert.False(t, resp.Correct)
	assert.Equal(t, "in_progress", resp.Game.State)

	for i := 0; i < 2; i++ {
		resp, err = f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "BBB", OptionIndex: right})
		require.NoError(t, err)
	}

	assert.Equal(t, "scored", resp.Game.State)
	assert.Equal(t, "AAA", resp.Game.Winner)
	assert.False(t, resp.Game.IsTie)
	require.NotNil(t, resp.Game.FinishedAt)
	assert.Equal(t, 3, resp.Game.Players[0].TotalScore, "three easy questions, no bonuses")
	assert.Equal(t, 2, resp.Game.Players[1].TotalScore)
	assert.Nil(t, resp.Game.Players[0].NextQuestion)

	f.eb.Stop()
	require.Len(t, finished, 1, "a game finishes once")
	assert.Equal(t, domain.OutcomeWin, finished[0].Game.Players[0].Outcome)
	assert.Equal(t, domain.OutcomeLoss, finished[0].Game.Players[1].Outcome)

	aaa, err := f.players.Get(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), aaa.GamesPlayed)
	assert.Equal(t, int64(1), aaa.Wins)
	assert.Equal(t, int64(3), aaa.TotalScore)
	assert.Equal(t, int64(3), aaa.BestStreak)

	bbb, err := f.players.Get(ctx, "BBB")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bbb.Losses)
	assert.Equal(t, int64(2), bbb.CorrectAnswers)

	_, err = f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA", OptionIndex: right})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidOperation), "answer after the game ended: %v", err)
}

func TestService_StartGame_Errors(t *testing.T) {
	f := makeService(t)

	tests := map[string]struct {
		req      game.StartGameRequest
		wantCode errors.Code
	}{
		"same initials": {
			req:      game.StartGameRequest{Player1: "abc", Player2: "ABC"},
			wantCode: errors.CodeInvalidArgument,
		},
		"invalid initials": {
			req:      game.StartGameRequest{Player1: "A", Player2: "ABC"},
			wantCode: errors.CodeInvalidArgument,
		},
		"negative question count": {
			req:      game.StartGameRequest{Player1: "AAA", Player2: "BBB", QuestionCount: -1},
			wantCode: errors.CodeInvalidArgument,
		},
		"not enough questions": {
			req:      game.StartGameRequest{Player1: "AAA", Player2: "BBB", QuestionCount: 40},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := f.svc.StartGame(context.Background(), tt.req)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code, "got %v", err)
		})
	}
}

func TestService_SubmitAnswer_Errors(t *testing.T) {
	f := makeService(t)
	g := f.start(t, 1)

	tests := map[string]struct {
		req      game.SubmitAnswerRequest
		wantCode errors.Code
	}{
		"unknown game": {
			req:      game.SubmitAnswerRequest{GameID: "nope", Player: "AAA"},
			wantCode: errors.CodeNotFound,
		},
		"player not in game": {
			req:      game.SubmitAnswerRequest{GameID: g.GameID, Player: "CCC"},
			wantCode: errors.CodeInvalidArgument,
		},
		"option out of range": {
			req:      game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA", OptionIndex: 5},
			wantCode: errors.CodeInvalidArgument,
		},
		"negative response time": {
			req:      game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA", ResponseTime: -time.Second},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SubmitAnswer(context.Background(), tt.req)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code, "got %v", err)
		})
	}

	snap, err := f.svc.GetGame(context.Background(), g.GameID)
	require.NoError(t, err)
	assert.Zero(t, snap.Players[0].Answered, "rejected answers must not be recorded")

	_, err = f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA"})
	require.NoError(t, err)
	_, err = f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidOperation), "no questions left: %v", err)
}

func TestService_SubmitAnswer_Concurrent(t *testing.T) {
	f := makeService(t)
	g := f.start(t, 10)

	var wg sync.WaitGroup
	for _, p := range []string{"AAA", "BBB"} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{GameID: g.GameID, Player: p, OptionIndex: right})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	snap, err := f.svc.GetGame(context.Background(), g.GameID)
	require.NoError(t, err)
	assert.Equal(t, "scored", snap.State)
	assert.True(t, snap.IsTie)
	assert.Equal(t, 10, snap.Players[0].Score.MaxStreak)

	for _, in := range []string{"AAA", "BBB"} {
		p, err := f.players.Get(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.GamesPlayed, "stats of %s applied once", in)
		assert.Equal(t, int64(1), p.Ties)
	}
}

func TestService_Subscribe(t *testing.T) {
	f := makeService(t)
	g := f.start(t, 20)

	ch, cancel, err := f.svc.Subscribe(context.Background(), g.GameID)
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, 0, first.Players[0].Answered)

	// more answers than the subscriber buffer holds
	for i := 0; i < 20; i++ {
		_, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA", OptionIndex: right})
		require.NoError(t, err)
	}

	var last game.Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, 20, last.Players[0].Answered, "the latest snapshot is never dropped")

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")

	_, _, err = f.svc.Subscribe(context.Background(), "nope")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestService_EvictExpired(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	idle := f.start(t, 1)
	done := f.start(t, 1)
	for _, p := range []string{"AAA", "BBB"} {
		_, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: done.GameID, Player: p})
		require.NoError(t, err)
	}
	fresh := f.start(t, 1)

	ch, _, err := f.svc.Subscribe(ctx, idle.GameID)
	require.NoError(t, err)
	<-ch

	f.advance(time.Minute)
	_, err = f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: fresh.GameID, Player: "AAA"})
	require.NoError(t, err)

	assert.Zero(t, f.svc.EvictExpired(ctx), "nothing has expired yet")

	// idle timeout is 10m, retention 2m
	f.advance(2*time.Minute + time.Second)
	assert.Equal(t, 1, f.svc.EvictExpired(ctx), "finished game past retention")

	f.advance(7*time.Minute + 30*time.Second)
	assert.Equal(t, 1, f.svc.EvictExpired(ctx), "idle game past the idle timeout")

	_, err = f.svc.GetGame(ctx, idle.GameID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = f.svc.GetGame(ctx, done.GameID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = f.svc.GetGame(ctx, fresh.GameID)
	assert.NoError(t, err, "active within the idle timeout")

	_, ok := <-ch
	assert.False(t, ok, "subscribers of an evicted game are closed")
}

func TestService_FinishRetriedAfterStoreFailure(t *testing.T) {
	store := &flakyStore{failFor: map[string]bool{"BBB": true}}
	f := makeServiceWithStore(t, func(s *player.Store) game.PlayerStore {
		store.Store = s
		return store
	})
	ctx := context.Background()

	var finished atomic.Int32
	f.eb.Subscribe(domain.EventNameGameFinished, func(context.Context, event.Event) error {
		finished.Add(1)
		return nil
	})

	g := f.start(t, 1)
	_, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "AAA", OptionIndex: right})
	require.NoError(t, err)

	resp, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "BBB", OptionIndex: wrong})
	require.NoError(t, err, "the answer was recorded even though finishing failed")
	assert.Equal(t, 1, resp.Game.Players[1].Answered)
	assert.Equal(t, "scored", resp.Game.State)
	assert.Nil(t, resp.Game.FinishedAt)

	assert.Equal(t, int64(1), f.gamesPlayed(t, "AAA"), "AAA was applied before BBB failed")
	assert.Zero(t, f.gamesPlayed(t, "BBB"))

	f.advance(time.Hour)
	assert.Zero(t, f.svc.EvictExpired(ctx), "a game waiting to finish is kept")
	assert.Zero(t, f.svc.FinishPending(ctx), "the store still fails")

	store.heal()

	// retrying the last answer finishes the game, the answer itself is still rejected
	_, err = f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: "BBB", OptionIndex: wrong})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidOperation), "got %v", err)

	snap, err := f.svc.GetGame(ctx, g.GameID)
	require.NoError(t, err)
	assert.NotNil(t, snap.FinishedAt)
	assert.Zero(t, f.svc.FinishPending(ctx), "nothing left to finish")

	f.eb.Stop()
	assert.Equal(t, int32(1), finished.Load(), "a game finishes once")
	assert.Equal(t, int64(1), f.gamesPlayed(t, "AAA"), "stats are applied once")
	assert.Equal(t, int64(1), f.gamesPlayed(t, "BBB"))
}

func TestService_FinishPending(t *testing.T) {
	store := &flakyStore{failFor: map[string]bool{"AAA": true, "BBB": true}}
	f := makeServiceWithStore(t, func(s *player.Store) game.PlayerStore {
		store.Store = s
		return store
	})
	ctx := context.Background()

	g := f.start(t, 1)
	ch, cancel, err := f.svc.Subscribe(ctx, g.GameID)
	require.NoError(t, err)
	defer cancel()

	for _, p := range []string{"AAA", "BBB"} {
		_, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: g.GameID, Player: p, OptionIndex: right})
		require.NoError(t, err)
	}

	store.heal()
	assert.Equal(t, 1, f.svc.FinishPending(ctx))

	var last game.Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	assert.NotNil(t, last.FinishedAt, "subscribers see the finished game")
	assert.True(t, last.IsTie)

	for _, in := range []string{"AAA", "BBB"} {
		assert.Equal(t, int64(1), f.gamesPlayed(t, in))
	}
}

func TestService_ConcurrentGamesShareAPlayer(t *testing.T) {
	f := makeService(t)
	ctx := context.Background()

	opponents := []string{"BBB", "CCC", "DDD", "EEE"}
	games := len(opponents)

	ids := make([]string, games)
	for i, opp := range opponents {
		g, err := f.svc.StartGame(ctx, game.StartGameRequest{Player1: "AAA", Player2: opp, QuestionCount: 2})
		require.NoError(t, err)
		ids[i] = g.GameID

		for _, a := range []game.SubmitAnswerRequest{
			{GameID: g.GameID, Player: "AAA", OptionIndex: right},
			{GameID: g.GameID, Player: "AAA", OptionIndex: right},
			{GameID: g.GameID, Player: opp, OptionIndex: wrong},
		} {
			_, err = f.svc.SubmitAnswer(ctx, a)
			require.NoError(t, err)
		}
	}

	// the last answer of every game lands at the same time
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitAnswer(ctx, game.SubmitAnswerRequest{GameID: id, Player: opponents[i], OptionIndex: wrong})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	aaa, err := f.players.Get(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, int64(games), aaa.GamesPlayed, "every game counts")
	assert.Equal(t, int64(games), aaa.Wins)
	assert.Equal(t, int64(2*games), aaa.TotalScore)
}

// flakyStore fails ApplyGame for the listed initials until healed.
type flakyStore struct {
	*player.Store

	mu      sync.Mutex
	failFor map[string]bool
}

func (s *flakyStore) ApplyGame(ctx context.Context, initials, gameID string, apply func(*domain.Player) error) (*domain.Player, error) {
	s.mu.Lock()
	fail := s.failFor[initials]
	s.mu.Unlock()

	if fail {
		return nil, stderrors.New("redis: transient")
	}

	return s.Store.ApplyGame(ctx, initials, gameID, apply)
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	s.failFor = nil
	s.mu.Unlock()
}

type fixture struct {
	svc     *game.Service
	eb      *event.Bus
	players *player.Store

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) gamesPlayed(t *testing.T, initials string) int64 {
	t.Helper()

	p, err := f.players.Get(context.Background(), initials)
	require.NoError(t, err)

	return p.GamesPlayed
}

func (f *fixture) start(t *testing.T, n int) *game.Snapshot {
	t.Helper()

	g, err := f.svc.StartGame(context.Background(), game.StartGameRequest{Player1: "AAA", Player2: "BBB", QuestionCount: n})
	require.NoError(t, err)

	return g
}

func makeService(t *testing.T) *fixture {
	return makeServiceWithStore(t, func(s *player.Store) game.PlayerStore { return s })
}

func makeServiceWithStore(t *testing.T, wrap func(*player.Store) game.PlayerStore) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	qs := make([]domain.Question, 0, 30)
	for i := 0; i < 30; i++ {
		qs = append(qs, domain.Question{
			QuestionID:         fmt.Sprintf("q%02d", i),
			Text:               fmt.Sprintf("Question %d?", i),
			Options:            []string{"yes", "no"},
			CorrectOptionIndex: 0,
			Category:           "science",
			Difficulty:         domain.DifficultyEasy,
		})
	}
	bank, err := question.NewBankFromQuestions(qs, 1)
	require.NoError(t, err)

	f := &fixture{
		eb:  event.NewBus(),
		now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC),
	}
	f.players = player.NewStore(player.Config{Redis: rc, Prefix: "trivia", Now: f.clock})
	f.svc = game.NewService(game.Config{
		Settings: game.Settings{
			IdleTimeout: 10 * time.Minute,
			Retention:   2 * time.Minute,
			Rules:       domain.Rules{StreakThreshold: 1000},
		},
		EventBus:  f.eb,
		Questions: bank,
		Players:   wrap(f.players),
		Now:       f.clock,
	})

	return f
}
