package history

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
)

const (
	codeUniqueViolation = "23505"
	defaultListLimit    = 20
	maxListLimit        = 100
)

// DB is the part of *pgxpool.Pool the service uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

// Service archives finished games in Postgres.
type Service struct {
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
	}

	c.EventBus.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		err := s.InsertGame(ctx, e.(domain.EventGameFinished).Game)
		if errors.HasCode(err, errors.CodeAlreadyExists) {
			slog.InfoContext(ctx, "history: game already archived", "game_id", e.(domain.EventGameFinished).Game.GameID)
			return nil
		}
		return err
	})

	return s
}

// InsertGame archives a finished game. A game is archived once; a second insert fails with AlreadyExists.
func (s *Service) InsertGame(ctx context.Context, g domain.GameSummary) error {
	if g.GameID == "" {
		return errors.InvalidArgument("insert game: empty game ID")
	}

	summary, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game summary: %w", err)
	}

	const stmt = `
INSERT INTO games (game_id, category, started_at, finished_at, is_tie, player1, player1_score, player2, player2_score, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	p1, p2 := g.Players[0], g.Players[1]
	_, err = s.db.Exec(ctx, stmt,
		g.GameID, g.Category, g.StartedAt, g.FinishedAt, g.IsTie,
		p1.Initials, p1.TotalScore, p2.Initials, p2.TotalScore, summary,
	)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("game already archived: game=%s", g.GameID),
			errors.WithCause(err),
		)
	}

	if err != nil {
		return fmt.Errorf("insert game %s: %w", g.GameID, err)
	}

	return nil
}

// GetGame returns an archived game.
func (s *Service) GetGame(ctx context.Context, gameID string) (*domain.GameSummary, error) {
	const stmt = `SELECT summary FROM games WHERE game_id = $1;`

	var g domain.GameSummary
	err := s.db.QueryRow(ctx, stmt, gameID).Scan(&g)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("game not found: game=%s", gameID)
	}

	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}

	return &g, nil
}

type ListByPlayerRequest struct {
	Initials string
	// Limit defaults to 20 and is capped at 100.
	Limit int
}

// ListByPlayer returns the most recent archived games of a player, newest first.
func (s *Service) ListByPlayer(ctx context.Context, req ListByPlayerRequest) ([]domain.GameSummary, error) {
	in, err := domain.NormalizeInitials(req.Initials)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	switch {
	case limit < 0:
		return nil, errors.InvalidArgument("list games: limit must not be negative, got %d", limit)
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	const stmt = `
SELECT summary
FROM games
WHERE player1 = $1 OR player2 = $1
ORDER BY finished_at DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, in, limit)
	if err != nil {
		return nil, fmt.Errorf("list games of %s: %w", in, err)
	}

	games, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.GameSummary, error) {
		var g domain.GameSummary
		if err := r.Scan(&g); err != nil {
			return domain.GameSummary{}, err
		}
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list games of %s: %w", in, err)
	}

	return games, nil
}
