package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfall/riskbrain/internal/allocation"
	"github.com/quantfall/riskbrain/internal/breaker"
	"github.com/quantfall/riskbrain/internal/calibration"
	"github.com/quantfall/riskbrain/internal/config"
	"github.com/quantfall/riskbrain/internal/governance"
	"github.com/quantfall/riskbrain/internal/guardian"
	"github.com/quantfall/riskbrain/internal/httpapi"
	"github.com/quantfall/riskbrain/internal/metrics"
	"github.com/quantfall/riskbrain/internal/persistence"
	"github.com/quantfall/riskbrain/internal/processor"
	"github.com/quantfall/riskbrain/internal/tailrisk"
	"github.com/quantfall/riskbrain/internal/transport"
)

func runEngine(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	initLogging(cfg.Logging.Level, cfg.Logging.Pretty)

	secret, err := cfg.HMACSecret()
	if err != nil {
		return err
	}

	store, err := buildStateStore(cfg)
	if err != nil {
		return err
	}
	events, outcomes, err := buildEventStore(cfg)
	if err != nil {
		return err
	}

	ws := transport.NewWSClient(cfg.Transport)
	defer ws.Close()
	publisher := transport.NewCircuitPublisher("execution-link", ws)
	dlq := transport.NewDeadLetterQueue(1024)

	registry := metrics.NewRegistry()

	gov := governance.NewEngine(cfg.Governance)
	gov.Subscribe(defconGauge{registry})

	brk := breaker.New(cfg.Breaker, store, events,
		breaker.WithHaltPublisher(haltPublisher{publisher}),
		breaker.WithTripListener(func(breaker.Type, string) { registry.BreakerTrips.Inc() }),
	)
	alloc := allocation.NewEngine(cfg.Allocation)
	calibrator := calibration.NewCalibrator(store)
	guard := guardian.New(cfg.Guardian, gov,
		tailrisk.NewCalculator(cfg.TailRisk),
		calibrator,
		alloc,
	)

	armed := processor.NewArmedState(cfg.Security.ArmedLockfile)
	proc, err := processor.New(brk, armed, guard, alloc,
		processor.NewSigner(secret), publisher, dlq, cfg.Guardian,
		processor.WithMetrics(registry))
	if err != nil {
		return err
	}

	recorder := processor.NewOutcomeRecorder(brk, calibrator, outcomes)
	srv := httpapi.NewServer(cfg.HTTP, armed, brk, gov, recorder, registry.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go proc.RunHeartbeat(ctx, gov)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("operator API failed")
			stop()
		}
	}()

	log.Info().Str("version", version).Msg("risk engine running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("operator API shutdown")
	}
	log.Info().Msg("risk engine stopped")
	return nil
}

func buildStateStore(cfg config.Config) (persistence.StateStore, error) {
	if !cfg.Persistence.Redis.Enabled {
		log.Info().Msg("using in-memory state store")
		return persistence.NewMemoryStore(), nil
	}
	r := cfg.Persistence.Redis
	store, err := persistence.NewRedisStore(r.Addr, r.Password, r.DB, r.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Str("addr", r.Addr).Msg("using redis state store")
	return store, nil
}

// buildEventStore returns the breaker event store plus, when Postgres
// is configured, the durable trade-outcome log backed by the same pool.
func buildEventStore(cfg config.Config) (persistence.EventStore, persistence.OutcomeStore, error) {
	if cfg.Persistence.Postgres.Enabled {
		p := cfg.Persistence.Postgres
		events, err := persistence.NewPostgresEventStore(p.DSN, p.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("using postgres event store")
		return events, events, nil
	}
	log.Info().Str("path", cfg.Persistence.EventLogPath).Msg("using JSONL event log")
	return persistence.NewFileEventLog(cfg.Persistence.EventLogPath), nil, nil
}

// haltPublisher forwards HARD-breaker halts onto the execution link.
type haltPublisher struct {
	publisher transport.Publisher
}

func (h haltPublisher) PublishHalt(ctx context.Context, reason string) error {
	payload, err := json.Marshal(map[string]string{
		"reason": reason,
		"at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return h.publisher.Publish(ctx, transport.ChannelHalt, payload)
}

// defconGauge mirrors governance transitions into the metrics gauge.
type defconGauge struct {
	registry *metrics.Registry
}

func (g defconGauge) OnTransition(t governance.Transition) {
	g.registry.SetDefcon(t.To)
}
