package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/config"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/game"
	"github.com/victornm/trivia/internal/history"
	"github.com/victornm/trivia/internal/leaderboard"
	"github.com/victornm/trivia/internal/player"
	"github.com/victornm/trivia/internal/question"
	"github.com/victornm/trivia/internal/score"
	"github.com/victornm/trivia/internal/telemetry"
)

type Config struct {
	Log telemetry.LogConfig

	HTTP struct {
		Port int32 `mapstructure:"port"`
	}

	GRPC struct {
		Port int32 `mapstructure:"port"`
	}

	Redis struct {
		Addrs  []string `mapstructure:"addrs"`
		Pass   string   `mapstructure:"pass"`
		Prefix string   `mapstructure:"prefix"`
	}

	Postgres PostgresConfig

	Game game.Settings

	Questions question.Config

	Janitor struct {
		Interval time.Duration `mapstructure:"interval"`
	}
}

type PostgresConfig struct {
	Addr    string `mapstructure:"addr"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Pass),
		Host:   c.Addr,
		Path:   "/" + c.Name,
	}

	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}

	return u.String()
}

// DefaultConfig is the configuration of a local development setup.
func DefaultConfig() Config {
	var c Config
	c.Log = telemetry.LogConfig{Level: "info", Format: "json"}
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Redis.Addrs = []string{"localhost:6379"}
	c.Redis.Prefix = "trivia"
	c.Postgres = PostgresConfig{
		Addr:    "localhost:5432",
		User:    "postgres",
		Pass:    "postgres",
		Name:    "trivia",
		SSLMode: "disable",
	}
	c.Game = game.Settings{
		QuestionCount: 5,
		IdleTimeout:   10 * time.Minute,
		Retention:     5 * time.Minute,
	}
	c.Game.Rules = domain.DefaultRules()
	c.Janitor.Interval = 30 * time.Second

	return c
}

// Sections lists where each part of c lives in the config file.
func (c *Config) Sections() config.Sections {
	return config.Sections{
		"log":       &c.Log,
		"http":      &c.HTTP,
		"grpc":      &c.GRPC,
		"redis":     &c.Redis,
		"postgres":  &c.Postgres,
		"game":      &c.Game,
		"questions": &c.Questions,
		"janitor":   &c.Janitor,
	}
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		questions   *question.Bank
		players     *player.Store
		score       *score.Service
		game        *game.Service
		leaderboard *leaderboard.Service
		history     *history.Service
	}

	janitor gocron.Scheduler
	health  *health.Server
	http    *http.Server
	grpc    *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	s.eb = event.NewBus(event.WithFailureFunc(s.metrics.HandlerFailed))

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	if err := s.initJanitor(); err != nil {
		return nil, fmt.Errorf("server: init janitor: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(s.c.Postgres.DSN())
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	var err error
	s.service.questions, err = question.NewBank(s.c.Questions)
	if err != nil {
		return fmt.Errorf("questions: %w", err)
	}

	s.service.players = player.NewStore(player.Config{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Prefix,
	})

	s.service.score = score.NewService(score.Config{})

	s.service.game = game.NewService(game.Config{
		Settings:  s.c.Game,
		EventBus:  s.eb,
		Questions: s.service.questions,
		Players:   s.service.players,
		Scoring:   s.service.score,
		Metrics:   s.metrics,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.Prefix,
	})

	s.service.history = history.NewService(history.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	return nil
}

func (s *Server) initJanitor() error {
	sc, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sc.NewJob(
		gocron.DurationJob(s.c.Janitor.Interval),
		gocron.NewTask(func() {
			ctx := context.Background()
			s.service.game.FinishPending(ctx)
			s.service.game.EvictExpired(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("janitor job: %w", err)
	}

	s.janitor = sc
	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Game:         s.service.game,
		Leaderboard:  s.service.leaderboard,
		Players:      s.service.players,
		History:      s.service.history,
		Questions:    s.service.questions,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.janitor.Start()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if err := s.janitor.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown janitor failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
