// Command server is the exchange's composition root: it loads
// configuration, wires the six pipeline stages and the phase manager into
// one explicit dependency graph (spec §9 "explicit, dependency-injected
// Pipeline value"), and serves the REST/WebSocket surface until signalled
// to shut down -- the same signal.NotifyContext shape the teacher uses in
// its own main, generalized from one TCP accept loop under a bare context
// to a tomb-supervised staged pipeline.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/auth"
	"fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/correlator"
	"fenrir/internal/fanout"
	"fenrir/internal/matcher"
	"fenrir/internal/phase"
	"fenrir/internal/pipeline"
	"fenrir/internal/position"
	"fenrir/internal/publisher"
	"fenrir/internal/transport"
	"fenrir/internal/validator"
	"fenrir/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the exchange configuration file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	instruments, err := cfg.BuildInstruments()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build instrument registry")
	}
	schedule, err := cfg.BuildSchedule()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build market phase schedule")
	}
	constraints, err := cfg.BuildConstraints()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build per-role constraint chains")
	}

	registry := auth.NewRegistry()
	orderStore := common.NewOrderStore()
	mids := common.NewMidCache()
	fees := common.DefaultFeeSchedules()
	queues := pipeline.NewQueues()
	table := correlator.NewTable(cfg.ResponseCoordinator.MaxPendingRequests)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	t, ctx := tomb.WithContext(ctx)

	phaseMgr := phase.New(schedule, cfg.PhaseCheckInterval(), queues.FanOutQueue)
	positionTracker := position.New(queues.PositionQueue, queues.FanOutQueue)

	validatorStage := validator.New(
		queues.OrderQueue,
		queues.MatchQueue,
		queues.FanOutQueue,
		phaseMgr,
		constraints,
		instruments,
		positionTracker,
		mids,
		orderStore,
		table,
		registry.RoleOf,
	)
	matcherStage := matcher.New(instruments.Symbols(), queues.MatchQueue, queues.TradeQueue, queues.FanOutQueue, phaseMgr, mids, table, orderStore)
	publisherStage := publisher.New(queues.TradeQueue, queues.PositionQueue, queues.FanOutQueue, fees, registry, orderStore)
	fanOutRouter := fanout.New(queues.FanOutQueue)

	alive := runSupervised(t, map[string]func(*tomb.Tomb) error{
		"validator":        validatorStage.Run,
		"matcher":          matcherStage.Run,
		"publisher":        publisherStage.Run,
		"position_tracker": positionTracker.Run,
		"fan_out":          fanOutRouter.Run,
		"phase_manager":    phaseMgr.Run,
	})

	handlers := transport.NewHandlers(
		registry,
		table,
		queues,
		positionTracker,
		orderStore,
		matcherStage,
		fanOutRouter,
		cfg.RequestTimeout(),
		func() map[string]bool {
			out := make(map[string]bool, len(alive))
			for name, a := range alive {
				out[name] = a.Load()
			}
			return out
		},
	)
	httpServer := transport.New(cfg.HTTPAddr, handlers)

	t.Go(func() error { return httpServer.Run(ctx) })
	t.Go(func() error { return runCleanup(t, table, cfg.CleanupInterval()) })

	log.Info().Str("addr", cfg.HTTPAddr).Int("instruments", len(instruments.Symbols())).Msg("exchange starting")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining pipeline")
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("pipeline exited with error")
	}
}

// runSupervised launches each named stage under t via worker.Stage, tracking
// a per-stage liveness flag for the health endpoint (spec §7 "surface on
// health endpoint as thread_down").
func runSupervised(t *tomb.Tomb, stages map[string]func(*tomb.Tomb) error) map[string]*atomic.Bool {
	alive := make(map[string]*atomic.Bool, len(stages))
	for name, run := range stages {
		a := &atomic.Bool{}
		a.Store(true)
		alive[name] = a

		run := run
		worker.Stage{
			Name: name,
			Run: func(t *tomb.Tomb) error {
				defer a.Store(false)
				return run(t)
			},
		}.Start(t)
	}
	return alive
}

func runCleanup(t *tomb.Tomb, table *correlator.Table, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			if n := table.Cleanup(time.Now()); n > 0 {
				log.Debug().Int("count", n).Msg("swept abandoned pending requests")
			}
		}
	}
}
