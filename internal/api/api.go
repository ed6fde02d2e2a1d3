package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/game"
	"github.com/victornm/trivia/internal/history"
	"github.com/victornm/trivia/internal/leaderboard"
)

const defaultTopPlayers = 10

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Game         *game.Service
	Leaderboard  *leaderboard.Service
	Players      Players
	History      History
	Questions    Categories
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Players interface {
	Get(ctx context.Context, initials string) (*domain.Player, error)
	Top(ctx context.Context, n int) ([]*domain.Player, error)
}

type History interface {
	GetGame(ctx context.Context, gameID string) (*domain.GameSummary, error)
	ListByPlayer(ctx context.Context, req history.ListByPlayerRequest) ([]domain.GameSummary, error)
}

type Categories interface {
	Categories() []string
}

type API struct {
	gs      *game.Service
	ls      *leaderboard.Service
	players Players
	history History
	qs      Categories

	upgrader websocket.Upgrader

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		gs:      c.Game,
		ls:      c.Leaderboard,
		players: c.Players,
		history: c.History,
		qs:      c.Questions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	v1 := c.Engine.Group("/api/v1")
	v1.POST("/games", a.StartGame)
	v1.GET("/games/:id", a.GetGame)
	v1.POST("/games/:id/answers", a.SubmitAnswer)
	v1.GET("/games/:id/live", a.LiveGame)
	v1.GET("/leaderboard", a.GetLeaderboard)
	v1.GET("/players/top", a.TopPlayers)
	v1.GET("/players/:initials", a.GetPlayer)
	v1.GET("/players/:initials/games", a.ListPlayerGames)
	v1.GET("/categories", a.ListCategories)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		return a.PublishGameFinished(ctx, e.(domain.EventGameFinished))
	})

	return a
}

type StartGameRequest struct {
	Player1       string `json:"player1"`
	Player2       string `json:"player2"`
	Category      string `json:"category"`
	QuestionCount int    `json:"question_count"`
}

func (a *API) StartGame(c *gin.Context) {
	var req StartGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidArgument("start game: malformed body: %v", err))
		return
	}

	g, err := a.gs.StartGame(c.Request.Context(), game.StartGameRequest{
		Player1:       req.Player1,
		Player2:       req.Player2,
		Category:      req.Category,
		QuestionCount: req.QuestionCount,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GameResponse{Game: g})
}

// GameResponse carries either a live game or, once it left memory, its archived summary.
type GameResponse struct {
	Game    *game.Snapshot      `json:"game,omitempty"`
	Summary *domain.GameSummary `json:"summary,omitempty"`
}

func (a *API) GetGame(c *gin.Context) {
	id := c.Param("id")

	g, err := a.gs.GetGame(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, GameResponse{Game: g})
		return
	}

	if !errors.HasCode(err, errors.CodeNotFound) || a.history == nil {
		writeError(c, err)
		return
	}

	sum, err := a.history.GetGame(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GameResponse{Summary: sum})
}

type SubmitAnswerRequest struct {
	Player         string `json:"player"`
	OptionIndex    *int   `json:"option_index"`
	ResponseTimeMS int64  `json:"response_time_ms"`
}

// maxResponseTimeMS is the largest response time that still fits a time.Duration.
const maxResponseTimeMS = math.MaxInt64 / int64(time.Millisecond)

func (r SubmitAnswerRequest) toGame(gameID string) (game.SubmitAnswerRequest, error) {
	if r.OptionIndex == nil {
		return game.SubmitAnswerRequest{}, errors.InvalidArgument("submit answer: option_index is required")
	}

	if r.ResponseTimeMS > maxResponseTimeMS {
		return game.SubmitAnswerRequest{}, errors.InvalidArgument("submit answer: response_time_ms %d exceeds %d",
			r.ResponseTimeMS, maxResponseTimeMS)
	}

	return game.SubmitAnswerRequest{
		GameID:       gameID,
		Player:       r.Player,
		OptionIndex:  *r.OptionIndex,
		ResponseTime: time.Duration(r.ResponseTimeMS) * time.Millisecond,
	}, nil
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidArgument("submit answer: malformed body: %v", err))
		return
	}

	gr, err := req.toGame(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := a.gs.SubmitAnswer(c.Request.Context(), gr)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type (
	Leaderboard struct {
		Category string                    `json:"category,omitempty"`
		Entries  []domain.LeaderboardEntry `json:"entries"`
	}

	PlayerResponse struct {
		*domain.Player
		WinRate string `json:"win_rate"`
	}
)

func (a *API) GetLeaderboard(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeError(c, err)
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		Category: c.Query("category"),
		Limit:    limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Leaderboard{
		Category: l.Category,
		Entries:  l.Entries,
	})
}

func (a *API) TopPlayers(c *gin.Context) {
	n, err := queryInt(c, "n", defaultTopPlayers)
	if err != nil {
		writeError(c, err)
		return
	}

	ps, err := a.players.Top(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]PlayerResponse, 0, len(ps))
	for _, p := range ps {
		resp = append(resp, newPlayerResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{"players": resp})
}

func (a *API) GetPlayer(c *gin.Context) {
	p, err := a.players.Get(c.Request.Context(), c.Param("initials"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPlayerResponse(p))
}

func (a *API) ListPlayerGames(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeError(c, err)
		return
	}

	games, err := a.history.ListByPlayer(c.Request.Context(), history.ListByPlayerRequest{
		Initials: c.Param("initials"),
		Limit:    limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (a *API) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": a.qs.Categories()})
}

func newPlayerResponse(p *domain.Player) PlayerResponse {
	return PlayerResponse{
		Player:  p,
		WinRate: p.WinRate().StringFixed(4),
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s, ok := c.GetQuery(key)
	if !ok || s == "" {
		return def, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.InvalidArgument("query %s: not an integer: %q", key, s)
	}

	return n, nil
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
