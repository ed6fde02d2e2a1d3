package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis adds tracing, metrics and command logging to r.
func MonitorRedis(r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(RedisLog{})
	return nil
}

// RedisLog logs redis traffic at debug level and failed commands at warn level. redis.Nil is a miss, not
// a failure.
type RedisLog struct{}

func (RedisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.WarnContext(ctx, "redis: dial failed", "network", network, "addr", addr, "error", err)
			return nil, err
		}

		slog.DebugContext(ctx, "redis: dialed", "network", network, "addr", addr)
		return conn, nil
	}
}

func (RedisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		logCommand(ctx, "redis: command", cmd.Name(), time.Since(start), err)
		return err
	}
}

func (RedisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)

		names := make([]string, len(cmds))
		for i, c := range cmds {
			names[i] = c.Name()
		}
		logCommand(ctx, "redis: pipeline", fmt.Sprint(names), time.Since(start), err)

		return err
	}
}

func logCommand(ctx context.Context, msg, cmd string, d time.Duration, err error) {
	if err != nil && !stderrors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, msg+" failed", "cmd", cmd, "duration", d, "error", err)
		return
	}

	slog.DebugContext(ctx, msg, "cmd", cmd, "duration", d)
}
