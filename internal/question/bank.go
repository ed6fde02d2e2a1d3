package question

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

//go:embed default_questions.yaml
var defaultQuestions []byte

// Provider supplies questions for a new game. A question generator backed by an external service
// satisfies it as well as the in-memory Bank.
type Provider interface {
	Generate(ctx context.Context, count int, category string) ([]domain.Question, error)
}

type Config struct {
	// Path of a YAML question file. Empty means the embedded default bank.
	Path string `mapstructure:"path"`
	// Seed makes draws reproducible when non-zero.
	Seed uint64 `mapstructure:"seed"`
}

// Bank is an in-memory question pool.
type Bank struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	questions []domain.Question
}

type bankFile struct {
	Questions []domain.Question `yaml:"questions"`
}

// NewBank loads the bank named by c.
func NewBank(c Config) (*Bank, error) {
	data := defaultQuestions
	if c.Path != "" {
		b, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, fmt.Errorf("read question bank: %w", err)
		}
		data = b
	}

	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}

	return NewBankFromQuestions(f.Questions, c.Seed)
}

// NewBankFromQuestions validates qs and builds a bank of them. Questions without an ID get a UUIDv7.
func NewBankFromQuestions(qs []domain.Question, seed uint64) (*Bank, error) {
	if len(qs) == 0 {
		return nil, errors.InvalidArgument("question bank is empty")
	}

	questions := make([]domain.Question, 0, len(qs))
	seen := make(map[string]struct{}, len(qs))
	for i, q := range qs {
		if q.QuestionID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("generate question ID: %w", err)
			}
			q.QuestionID = id.String()
		}

		if _, ok := seen[q.QuestionID]; ok {
			return nil, errors.InvalidArgument("question bank: duplicate question ID %q", q.QuestionID)
		}
		seen[q.QuestionID] = struct{}{}

		q.Category = normalizeCategory(q.Category)
		q.Difficulty = domain.ParseDifficulty(string(q.Difficulty))
		q.Options = slices.Clone(q.Options)
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("question bank entry %d: %w", i, err)
		}

		questions = append(questions, q)
	}

	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Bank{
		rnd:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		questions: questions,
	}, nil
}

// Generate draws count distinct questions of category at random. An empty category draws from all.
func (b *Bank) Generate(_ context.Context, count int, category string) ([]domain.Question, error) {
	if count < 1 {
		return nil, errors.InvalidArgument("question count must be positive, got %d", count)
	}

	category = normalizeCategory(category)
	pool := make([]domain.Question, 0, len(b.questions))
	for _, q := range b.questions {
		if category == "" || q.Category == category {
			pool = append(pool, q)
		}
	}

	if len(pool) < count {
		return nil, errors.InvalidArgument("not enough questions in category %q: want %d, have %d", category, count, len(pool))
	}

	b.mu.Lock()
	b.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	b.mu.Unlock()

	out := pool[:count:count]
	for i := range out {
		out[i].Options = slices.Clone(out[i].Options)
	}

	return out, nil
}

// Categories lists the categories of the bank in alphabetical order.
func (b *Bank) Categories() []string {
	var cs []string
	for _, q := range b.questions {
		if q.Category != "" && !slices.Contains(cs, q.Category) {
			cs = append(cs, q.Category)
		}
	}
	slices.Sort(cs)

	return cs
}

func (b *Bank) Len() int { return len(b.questions) }

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
