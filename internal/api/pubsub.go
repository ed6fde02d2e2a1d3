package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/trivia/internal/domain"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishLeaderboardUpdated notifies every player on the board, once per player.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		Category: l.Category,
		Entries:  l.Entries,
	}

	seen := make(map[string]struct{}, len(l.Entries))
	players := make([]string, 0, len(l.Entries))
	for _, entry := range l.Entries {
		if _, ok := seen[entry.PlayerName]; ok {
			continue
		}
		seen[entry.PlayerName] = struct{}{}
		players = append(players, entry.PlayerName)
	}

	return a.publishAll(ctx, players, e.Name(), data)
}

// PublishGameFinished notifies both players of the final result.
func (a *API) PublishGameFinished(ctx context.Context, e domain.EventGameFinished) error {
	g := e.Game
	return a.publishAll(ctx, []string{g.Players[0].Initials, g.Players[1].Initials}, e.Name(), g)
}

func (a *API) publishAll(ctx context.Context, players []string, event string, data any) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, p := range players {
		eg.Go(func() error {
			return a.publishNotification(ctx, p, event, data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, initials, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, PlayerChannel(a.prefix, initials), b).Err()
}

// PlayerChannel is the pub/sub channel carrying notifications for one player.
func PlayerChannel(prefix, initials string) string {
	return fmt.Sprintf("%s:player:%s", prefix, initials)
}
