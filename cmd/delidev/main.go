// Command delidev starts the task orchestration engine: the Postgres store,
// the optional Redis event transport, the concurrency gate, the planner,
// executor and scheduler, and the HTTP/WS command surface, grounded on the
// teacher's cmd/aira/main.go wiring order (config, store, auxiliary
// services, core, server, graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/delinoio/delidev/internal/api/ws"
	"github.com/delinoio/delidev/internal/auth"
	"github.com/delinoio/delidev/internal/config"
	"github.com/delinoio/delidev/internal/events"
	"github.com/delinoio/delidev/internal/executor"
	"github.com/delinoio/delidev/internal/gate"
	"github.com/delinoio/delidev/internal/notify"
	"github.com/delinoio/delidev/internal/planner"
	"github.com/delinoio/delidev/internal/resources"
	"github.com/delinoio/delidev/internal/runner"
	"github.com/delinoio/delidev/internal/scheduler"
	"github.com/delinoio/delidev/internal/server"
	"github.com/delinoio/delidev/internal/store/postgres"
	storeredis "github.com/delinoio/delidev/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

// fileLicenseValidator treats a non-empty license key file as a valid
// license. It never re-reads the file after startup: a hot license swap
// requires a process restart, the same conservative reload story the rest
// of the engine follows.
type fileLicenseValidator struct {
	valid bool
}

func (v fileLicenseValidator) Valid() bool { return v.valid }

func loadLicenseValidator(path string) gate.LicenseValidator {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("main: failed to read license key file, treating as invalid")
		return fileLicenseValidator{valid: false}
	}
	return fileLicenseValidator{valid: strings.TrimSpace(string(content)) != ""}
}

func run() error {
	configureLogging()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	var (
		emitter       events.Emitter
		memoryEmitter *events.MemoryEmitter
		subscriber    ws.Subscriber
		pubsub        *storeredis.PubSub
	)
	if cfg.Redis.Addr != "" {
		pubsub, err = storeredis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer pubsub.Close()
		emitter = events.NewRedisEmitter(pubsub)
		subscriber = ws.NewRedisSubscriber(pubsub)
	} else {
		log.Warn().Msg("main: no DELIDEV_REDIS_ADDR configured, running with the in-process event bus; events do not survive a restart and are only visible to this process")
		memoryEmitter = events.NewMemoryEmitter()
		defer memoryEmitter.Close()
		emitter = memoryEmitter
		subscriber = ws.NewMemorySubscriber(memoryEmitter)
	}

	dockerClient, err := client.NewClientWithOpts(client.WithHost(cfg.Docker.Host), client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("connect docker: %w", err)
	}
	defer dockerClient.Close()

	containers := resources.NewContainerManager(dockerClient, cfg.Docker.ImageDefault)
	worktrees := resources.NewWorktreeManager()

	registry := runner.NewRegistry()
	runner.RegisterDefaults(registry)

	gateInstance := gate.New(cfg.Gate.Cap, loadLicenseValidator(cfg.Gate.LicenseKeyPath))

	baseTmp, err := resources.CanonicalBaseTmp(cfg.BaseTmp)
	if err != nil {
		return fmt.Errorf("resolve base tmp dir: %w", err)
	}

	// Executor, Planner and Scheduler each need one of the other two at
	// construction time, so the cycle is broken in two steps: build the
	// executor and planner with their scheduler callback left nil, build
	// the scheduler against the executor, then patch the callback in with
	// the setters below.
	exec := executor.New(executor.Config{
		Store:      store,
		Worktrees:  worktrees,
		Containers: containers,
		Registry:   registry,
		Emitter:    emitter,
		Gate:       gateInstance,
		BaseTmp:    baseTmp,
	})

	plan := planner.New(planner.Config{
		Store:     store,
		Worktrees: worktrees,
		Registry:  registry,
		Emitter:   emitter,
		BaseTmp:   baseTmp,
	})

	sched := scheduler.New(scheduler.Config{
		Store:    store,
		Gate:     gateInstance,
		Executor: exec,
		Emitter:  emitter,
	})
	defer sched.Shutdown()

	exec.SetCascader(sched)
	plan.SetDispatcher(sched)

	if cfg.Notify.SlackBotToken != "" && cfg.Notify.SlackChannel != "" {
		startNotifySink(ctx, memoryEmitter, notify.NewSlackSink(cfg.Notify.SlackBotToken, cfg.Notify.SlackChannel))
	}

	authSvc := auth.New(cfg.Auth.APIKey, cfg.Auth.ReconnectJWTSecret, cfg.Auth.ReconnectTTL)

	srv := server.New(cfg, server.Deps{
		Store:      store,
		Planner:    plan,
		Executor:   exec,
		Scheduler:  sched,
		Subscriber: subscriber,
		Auth:       authSvc,
	})

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("main: starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("main: server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("main: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("main: stopped")
	return nil
}

// startNotifySink bridges the in-process event bus to the Slack sink.
// Redis-backed deployments publish per-task channels with no wildcard
// subscribe, so notify has nothing to attach to there; single-binary local
// runs get full coverage since every event already passes through one bus.
func startNotifySink(ctx context.Context, memoryEmitter *events.MemoryEmitter, sink *notify.SlackSink) {
	if memoryEmitter == nil {
		log.Warn().Msg("main: Slack notifications are only wired for the in-process event bus; configure without DELIDEV_REDIS_ADDR to enable them")
		return
	}
	ch := memoryEmitter.Subscribe(256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !notify.Interesting(evt) {
					continue
				}
				if err := sink.Notify(ctx, evt); err != nil {
					log.Warn().Err(err).Msg("main: slack notification failed")
				}
			}
		}
	}()
}

func configureLogging() {
	level := zerolog.InfoLevel
	switch strings.ToLower(os.Getenv("DELIDEV_LOG_LEVEL")) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.ToLower(os.Getenv("DELIDEV_LOG_FORMAT")) == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}
