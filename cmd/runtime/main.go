// Command runtime wires the agent action runtime's ambient and domain
// stacks together and starts the tick loop and RPC server. Shape follows
// the teacher's core/cmd/example/main.go: construct config, construct
// dependencies, initialize, start, on a flat main function.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/agentrt"
	"github.com/hrshtt/factorio-agent-runtime/internal/notify"
	"github.com/hrshtt/factorio-agent-runtime/internal/prototype"
	"github.com/hrshtt/factorio-agent-runtime/internal/queue"
	"github.com/hrshtt/factorio-agent-runtime/internal/rcon"
	"github.com/hrshtt/factorio-agent-runtime/internal/rpcserver"
	"github.com/hrshtt/factorio-agent-runtime/internal/simworld"
)

func main() {
	logger := agcore.NewSimpleLogger("info")
	cfg, err := agcore.NewConfig(agcore.WithLogger(logger))
	if err != nil {
		logger.Error("config load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	table, err := prototype.Load()
	if err != nil {
		logger.Error("prototype table load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	telemetry := agcore.NewOtelTelemetry("factorio-agent-runtime")

	rconClient := rcon.New(cfg.RCON, logger)
	world := simworld.New(rconClient, "agent_runtime")

	notifier, err := notify.NewNotifier(cfg.Notify.Address, logger)
	if err != nil {
		logger.Error("notifier init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer notifier.Close()

	rt := agentrt.NewRuntime(table, notifier, logger, telemetry)
	registry := agentrt.NewRegistry()
	RegisterActions(registry, world)

	var store queue.Store
	if cfg.Queue.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			logger.Error("redis url parse failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		redisClient := redis.NewClient(opt)
		store = queue.NewRedisStore(redisClient, cfg.Queue.SnapshotKey, logger)
	}

	dispatcher := func(ctx context.Context, e queue.Entry) (map[string]any, error) {
		agentID := toInt64(e.Params["agent_id"])
		return rt.Dispatch(ctx, registry, agentID, e.ActionName, e.Params)
	}
	q := queue.New(dispatcher, store, logger)
	q.SetMaxQueueSize(context.Background(), cfg.Queue.MaxQueueSize)
	q.SetImmediateMode(context.Background(), cfg.Queue.ImmediateMode)
	if err := q.Restore(context.Background()); err != nil {
		logger.Warn("queue restore failed, starting empty", map[string]interface{}{"error": err.Error()})
	}

	server := rpcserver.New(rt, registry, q, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runTickLoop(ctx, rt, cfg.TickInterval, logger)

	logger.Info("runtime: starting rpc server", map[string]interface{}{"addr": ":8090"})
	if err := server.Start(ctx, ":8090"); err != nil {
		logger.Error("rpc server stopped with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// runTickLoop drives Runtime.Tick on a fixed interval (spec.md §5
// "The core runs inside a single-threaded cooperative loop driven by
// simulation ticks").
func runTickLoop(ctx context.Context, rt *agentrt.Runtime, interval time.Duration, logger agcore.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.Tick(ctx); err != nil {
				logger.Error("runtime: tick failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
