package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/question"
	"github.com/victornm/trivia/internal/score"
	"github.com/victornm/trivia/internal/telemetry"
)

const (
	defaultQuestionCount = 5
	maxQuestionCount     = 50
	defaultIdleTimeout   = 10 * time.Minute
	defaultRetention     = 5 * time.Minute
	subscriberBuffer     = 8
)

// PlayerStore persists players between games. ApplyGame must apply a game to a player at most once and
// must not lose updates made concurrently by other games.
type PlayerStore interface {
	GetOrCreate(ctx context.Context, initials string) (*domain.Player, error)
	ApplyGame(ctx context.Context, initials, gameID string, apply func(p *domain.Player) error) (*domain.Player, error)
}

// Settings are the tunables of the game service, loaded from the "game" config section.
type Settings struct {
	QuestionCount int           `mapstructure:"question_count"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	Rules         domain.Rules  `mapstructure:"rules"`
}

type Config struct {
	Settings

	EventBus  *event.Bus
	Questions question.Provider
	Players   PlayerStore
	Scoring   *score.Service
	// Metrics defaults to collectors on a private registry.
	Metrics *telemetry.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service owns the games in progress. Every game is guarded by its own mutex, so answers to one game are
// applied one at a time while different games proceed in parallel.
type Service struct {
	eb        *event.Bus
	questions question.Provider
	players   PlayerStore
	scoring   *score.Service
	metrics   *telemetry.Metrics
	now       func() time.Time
	settings  Settings

	mu    sync.RWMutex
	games map[string]*entry
}

type entry struct {
	mu         sync.Mutex
	session    *domain.GameSession
	lastActive time.Time
	finishedAt time.Time
	evicted    bool

	nextSubID int
	subs      map[int]chan Snapshot
}

func NewService(c Config) *Service {
	if c.QuestionCount <= 0 {
		c.QuestionCount = defaultQuestionCount
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.Rules == (domain.Rules{}) {
		c.Rules = domain.DefaultRules()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Scoring == nil {
		c.Scoring = score.NewService(score.Config{Now: c.Now})
	}

	return &Service{
		eb:        c.EventBus,
		questions: c.Questions,
		players:   c.Players,
		scoring:   c.Scoring,
		metrics:   c.Metrics,
		now:       c.Now,
		settings:  c.Settings,
		games:     make(map[string]*entry),
	}
}

type StartGameRequest struct {
	Player1  string
	Player2  string
	Category string
	// QuestionCount per player; zero means the configured default.
	QuestionCount int
}

// StartGame registers both players if needed, draws a question list for each and opens the game.
func (s *Service) StartGame(ctx context.Context, req StartGameRequest) (*Snapshot, error) {
	p1, err := domain.NormalizeInitials(req.Player1)
	if err != nil {
		return nil, err
	}

	p2, err := domain.NormalizeInitials(req.Player2)
	if err != nil {
		return nil, err
	}

	if p1 == p2 {
		return nil, errors.InvalidArgument("start game: both players have initials %s", p1)
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	count := req.QuestionCount
	switch {
	case count < 0 || count > maxQuestionCount:
		return nil, errors.InvalidArgument("start game: question count must be between 1 and %d, got %d", maxQuestionCount, count)
	case count == 0:
		count = s.settings.QuestionCount
	}

	var questions [2][]domain.Question
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range questions {
		eg.Go(func() error {
			qs, err := s.questions.Generate(egCtx, count, category)
			if err != nil {
				return fmt.Errorf("generate questions: %w", err)
			}
			questions[i] = qs
			return nil
		})
	}
	for _, in := range []string{p1, p2} {
		eg.Go(func() error {
			if _, err := s.players.GetOrCreate(egCtx, in); err != nil {
				return fmt.Errorf("register player %s: %w", in, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate game ID: %w", err)
	}

	now := s.now()
	gs, err := domain.NewGameSession(domain.SessionConfig{
		GameID:           id.String(),
		Player1:          p1,
		Player2:          p2,
		Player1Questions: questions[0],
		Player2Questions: questions[1],
		Category:         category,
		Rules:            s.settings.Rules,
		StartedAt:        now,
	})
	if err != nil {
		return nil, err
	}

	e := &entry{
		session:    gs,
		lastActive: now,
		subs:       make(map[int]chan Snapshot),
	}

	s.mu.Lock()
	s.games[gs.GameID] = e
	s.mu.Unlock()

	s.metrics.GameStarted()
	s.eb.Publish(ctx, domain.EventGameStarted{
		GameID:   gs.GameID,
		Players:  [2]string{p1, p2},
		Category: gs.Category,
	})

	slog.InfoContext(ctx, "game: started", "game_id", gs.GameID, "player1", p1, "player2", p2, "category", gs.Category)

	snap := newSnapshot(gs, time.Time{})
	return &snap, nil
}

type SubmitAnswerRequest struct {
	GameID string
	// Player is the initials of the answering player.
	Player       string
	OptionIndex  int
	ResponseTime time.Duration
}

type SubmitAnswerResponse struct {
	Correct       bool                `json:"correct"`
	CorrectAnswer string              `json:"correct_answer"`
	Answer        domain.AnswerRecord `json:"answer"`
	Game          Snapshot            `json:"game"`
}

// SubmitAnswer answers the player's next question. The answer that completes the game also scores it and
// updates both players. A failure to finish the game does not fail the answer; finishing is retried.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	in, err := domain.NormalizeInitials(req.Player)
	if err != nil {
		return nil, err
	}

	e, err := s.lookup(req.GameID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, errors.NotFound("game not found: game=%s", req.GameID)
	}

	gs := e.session
	if s.settle(ctx, e) {
		e.broadcast(newSnapshot(gs, e.finishedAt))
	}

	slot, ok := gs.SlotOf(in)
	if !ok {
		return nil, errors.InvalidArgument("player %s is not in game %s", in, gs.GameID)
	}

	q, hasNext := gs.NextQuestion(slot)
	if hasNext && (req.OptionIndex < 0 || req.OptionIndex >= len(q.Options)) {
		return nil, errors.InvalidArgument("option %d out of range [0, %d)", req.OptionIndex, len(q.Options))
	}

	correct := hasNext && q.IsCorrect(req.OptionIndex)
	rec, err := gs.RecordAnswer(slot, correct, req.ResponseTime)
	if err != nil {
		return nil, err
	}

	e.lastActive = s.now()
	s.metrics.AnswerRecorded(correct)
	s.eb.Publish(ctx, domain.EventAnswerRecorded{
		GameID:   gs.GameID,
		Initials: in,
		Answer:   rec,
	})

	s.settle(ctx, e)

	snap := newSnapshot(gs, e.finishedAt)
	e.broadcast(snap)

	return &SubmitAnswerResponse{
		Correct:       correct,
		CorrectAnswer: q.CorrectAnswer(),
		Answer:        rec,
		Game:          snap,
	}, nil
}

// settle finishes a complete game that is not finished yet and reports whether it did. A failure is
// logged and the game stays pending until a later attempt succeeds. e.mu must be held.
func (s *Service) settle(ctx context.Context, e *entry) bool {
	if !e.pending() {
		return false
	}

	if err := s.finish(ctx, e); err != nil {
		slog.ErrorContext(ctx, "game: finish failed", "game_id", e.session.GameID, "error", err)
		return false
	}

	return true
}

// finish scores a complete game, folds it into both players' stats and announces it. It can be called
// again after a failure: the verdict is kept and a player whose stats were applied is skipped.
// e.mu must be held.
func (s *Service) finish(ctx context.Context, e *entry) error {
	gs := e.session

	r, err := s.scoring.DetermineGameResult(gs)
	if err != nil {
		return fmt.Errorf("determine result of game %s: %w", gs.GameID, err)
	}

	winner, _ := r.Winner()
	slots := [2]domain.Slot{domain.Slot1, domain.Slot2}

	// One player's failure does not cancel the other's update.
	var (
		applied [2]bool
		eg      errgroup.Group
	)
	for i, slot := range slots {
		if gs.StatsApplied(slot) {
			continue
		}

		isWinner := !r.IsTie && winner == slot
		eg.Go(func() error {
			_, err := s.players.ApplyGame(ctx, gs.Initials(slot), gs.GameID, func(p *domain.Player) error {
				return s.scoring.FoldGame(p, isWinner, gs)
			})
			if err != nil {
				return fmt.Errorf("apply game to %s: %w", gs.Initials(slot), err)
			}
			applied[i] = true
			return nil
		})
	}
	err = eg.Wait()

	for i, slot := range slots {
		if applied[i] {
			if err := gs.MarkStatsApplied(slot); err != nil {
				return err
			}
		}
	}

	if err != nil {
		return fmt.Errorf("finish game %s: %w", gs.GameID, err)
	}

	e.finishedAt = s.now()
	s.metrics.GameFinished(r.IsTie)
	s.eb.Publish(ctx, domain.EventGameFinished{
		Game: gs.Summary(e.finishedAt),
	})

	slog.InfoContext(ctx, "game: finished", "game_id", gs.GameID,
		"score1", gs.TotalScore(domain.Slot1), "score2", gs.TotalScore(domain.Slot2), "tie", r.IsTie)

	return nil
}

// FinishPending retries finishing the complete games whose earlier finish failed. It returns the number
// of games it finished.
func (s *Service) FinishPending(ctx context.Context) int {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.games))
	for _, e := range s.games {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && s.settle(ctx, e) {
			e.broadcast(newSnapshot(e.session, e.finishedAt))
			n++
		}
		e.mu.Unlock()
	}

	if n > 0 {
		slog.InfoContext(ctx, "game: finished pending games", "count", n)
	}

	return n
}

// GetGame returns the current view of a game held in memory.
func (s *Service) GetGame(_ context.Context, gameID string) (*Snapshot, error) {
	e, err := s.lookup(gameID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, errors.NotFound("game not found: game=%s", gameID)
	}

	snap := newSnapshot(e.session, e.finishedAt)
	return &snap, nil
}

// Subscribe streams snapshots of a game, starting with the current one. A slow subscriber loses its oldest
// pending snapshots, never the latest. The channel is closed by cancel or when the game is evicted.
func (s *Service) Subscribe(_ context.Context, gameID string) (<-chan Snapshot, func(), error) {
	e, err := s.lookup(gameID)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, nil, errors.NotFound("game not found: game=%s", gameID)
	}

	ch := make(chan Snapshot, subscriberBuffer)
	ch <- newSnapshot(e.session, e.finishedAt)

	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}

	return ch, cancel, nil
}

// EvictExpired drops games idle for longer than the idle timeout and finished games older than the
// retention. A complete game waiting to be finished is kept. It returns the number of dropped games.
func (s *Service) EvictExpired(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.games {
		e.mu.Lock()
		expired := (e.finishedAt.IsZero() && !e.pending() && now.Sub(e.lastActive) > s.settings.IdleTimeout) ||
			(!e.finishedAt.IsZero() && now.Sub(e.finishedAt) > s.settings.Retention)
		if expired {
			e.evicted = true
			for sid, c := range e.subs {
				delete(e.subs, sid)
				close(c)
			}
			delete(s.games, id)
			n++
			s.metrics.GameEvicted()
		}
		e.mu.Unlock()
	}

	if n > 0 {
		slog.InfoContext(ctx, "game: evicted expired games", "count", n)
	}

	return n
}

func (s *Service) lookup(gameID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.games[gameID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("game not found: game=%s", gameID)
	}

	return e, nil
}

// pending reports whether the game is complete but not finished. e.mu must be held.
func (e *entry) pending() bool {
	return e.session.IsComplete() && e.finishedAt.IsZero()
}

// broadcast sends snap to every subscriber, dropping a subscriber's oldest snapshot when its buffer is
// full. e.mu must be held.
func (e *entry) broadcast(snap Snapshot) {
	for _, c := range e.subs {
		select {
		case c <- snap:
		default:
			select {
			case <-c:
			default:
			}
			c <- snap
		}
	}
}
