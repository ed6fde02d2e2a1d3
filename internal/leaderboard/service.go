package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultLimit    = 10
	maxLimit        = 100
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		return s.RecordGame(ctx, e.(domain.EventGameFinished))
	})

	return s
}

// Record stores an entry and ranks it on the overall board and on its category board.
// Recording the same entry twice leaves a single entry.
func (s *Service) Record(ctx context.Context, e domain.LeaderboardEntry) error {
	if e.EntryID == "" || e.PlayerName == "" {
		return errors.InvalidArgument("leaderboard entry needs an ID and a player name: %+v", e)
	}

	if e.Score < 0 || e.MaxStreak < 0 {
		return errors.InvalidArgument("leaderboard entry %s: negative score or streak", e.EntryID)
	}

	e.Category = normalizeCategory(e.Category)
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.getEntriesKey(), e.EntryID, b)
		z := redis.Z{Score: float64(e.Score), Member: e.EntryID}
		pipe.ZAdd(ctx, s.getLeaderboardKey(""), z)
		if e.Category != "" {
			pipe.ZAdd(ctx, s.getLeaderboardKey(e.Category), z)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("record leaderboard entry: %w", err)
	}

	return nil
}

// RecordGame records one entry per player of a finished game and schedules the affected boards
// for publishing.
func (s *Service) RecordGame(ctx context.Context, e domain.EventGameFinished) error {
	entries := domain.EntriesFromSummary(e.Game)
	for _, entry := range entries {
		if err := s.Record(ctx, entry); err != nil {
			return err
		}
	}

	boards := []string{""}
	if c := normalizeCategory(e.Game.Category); c != "" {
		boards = append(boards, c)
	}

	for _, b := range boards {
		if err := s.schedulePublishLeaderboard(ctx, b, e.Game.FinishedAt); err != nil {
			return err
		}
	}

	return nil
}

type GetLeaderboardRequest struct {
	// Category selects a category board. Empty means the overall board.
	Category string
	// Limit defaults to 10 and is capped at 100.
	Limit int
}

// GetLeaderboard returns the best entries of a board, highest score first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	category := normalizeCategory(req.Category)
	limit := req.Limit
	switch {
	case limit < 0:
		return nil, errors.InvalidArgument("leaderboard limit must not be negative, got %d", limit)
	case limit == 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}

	ids, err := s.redis.ZRevRange(ctx, s.getLeaderboardKey(category), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(ids) == 0 {
		return nil, errors.NotFound("leaderboard not found: category=%q", category)
	}

	raw, err := s.redis.HMGet(ctx, s.getEntriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard entries: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(raw))
	for i, r := range raw {
		str, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("leaderboard entry %s is missing", ids[i])
		}

		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("unmarshal leaderboard entry %s: %w", ids[i], err)
		}
		entries = append(entries, e)
	}

	return &domain.Leaderboard{
		Category: category,
		Entries:  entries,
	}, nil
}

// schedulePublishLeaderboard publishes a board at most once per publishInterval.
// Many games can finish in a short time, the throttle keeps the number of published events low.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, category string, at time.Time) error {
	// Also keeps multiple instances of the service from publishing the same board.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(category), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, category)
}

func (s *Service) publishLeaderboard(ctx context.Context, category string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		Category: category,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: category=%q: %w", category, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getEntriesKey() string {
	return fmt.Sprintf("%s:leaderboard:entries", s.prefix)
}

func (s *Service) getLeaderboardKey(category string) string {
	if category == "" {
		return fmt.Sprintf("%s:leaderboard", s.prefix)
	}
	return fmt.Sprintf("%s:leaderboard:category:%s", s.prefix, category)
}

func (s *Service) getLeaderboardTimeKey(category string) string {
	return fmt.Sprintf("%s:leaderboard:time:%s", s.prefix, category)
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
