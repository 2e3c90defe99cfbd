// Package processor is the front door of the engine: it runs each
// inbound signal through the circuit breaker, the armed interlock, and
// the risk guardian, caps the authorized size by the phase allocation,
// and ships a signed intent to the execution collaborator. Rejections
// are normal control flow; every decision record names the gate that
// produced it so callers need no knowledge of internal ordering.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/breaker"
	"github.com/quantfall/riskbrain/internal/domain"
	"github.com/quantfall/riskbrain/internal/metrics"
	"github.com/quantfall/riskbrain/internal/transport"
)

// Gate identifiers surfaced in decision records.
const (
	GateBreaker  = "CIRCUIT_BREAKER"
	GateDisarmed = "DISARMED"
	GateRisk     = "RISK"
	GateApproved = "APPROVED"
)

// Decision is the outcome of processing one signal.
type Decision struct {
	SignalID       string          `json:"signal_id"`
	Approved       bool            `json:"approved"`
	Gate           string          `json:"gate"`
	Reason         string          `json:"reason"`
	AuthorizedSize float64         `json:"authorized_size,omitempty"`
	Intent         *IntentEnvelope `json:"intent,omitempty"`
}

// BreakerSource exposes circuit-breaker state to the pipeline.
type BreakerSource interface {
	Status() breaker.Status
}

// RiskChecker runs the guardian veto pipeline.
type RiskChecker interface {
	CheckSignal(ctx context.Context, sig domain.Signal, snapshot domain.PortfolioSnapshot) domain.RiskDecision
}

// Allocator provides phase capital weights.
type Allocator interface {
	GetWeights(equity float64) domain.AllocationVector
}

// Processor wires the gates together. One instance per service; all
// collaborators are injected.
type Processor struct {
	breaker    BreakerSource
	armed      *ArmedState
	guardian   RiskChecker
	allocation Allocator
	signer     *Signer
	publisher  transport.Publisher
	dlq        *transport.DeadLetterQueue
	metrics    *metrics.Registry
	policyHash string
	now        func() time.Time
}

// Option customizes a Processor.
type Option func(*Processor)

// WithMetrics mirrors decisions, breaker state, and publish latency
// into the registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a processor. policy is the active risk policy; its
// canonical hash is stamped into every outbound intent.
func New(
	brk BreakerSource,
	armed *ArmedState,
	guardian RiskChecker,
	allocation Allocator,
	signer *Signer,
	publisher transport.Publisher,
	dlq *transport.DeadLetterQueue,
	policy interface{},
	opts ...Option,
) (*Processor, error) {
	hash, err := PolicyHash(policy)
	if err != nil {
		return nil, fmt.Errorf("processor: hash policy: %w", err)
	}
	p := &Processor{
		breaker:    brk,
		armed:      armed,
		guardian:   guardian,
		allocation: allocation,
		signer:     signer,
		publisher:  publisher,
		dlq:        dlq,
		policyHash: hash,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs one signal through the full gate sequence.
func (p *Processor) Process(ctx context.Context, sig domain.Signal, snapshot domain.PortfolioSnapshot) (decision Decision) {
	defer func() { p.recordDecision(decision) }()

	status := p.breaker.Status()
	if p.metrics != nil {
		p.metrics.SetBreaker(status.Active, status.BreakerType == breaker.TypeHard)
	}
	if status.Active {
		reason := fmt.Sprintf("Circuit breaker active (%s): %s", status.BreakerType, status.TriggerReason)
		log.Warn().Str("signal_id", sig.ID).Str("reason", reason).Msg("signal rejected")
		return Decision{SignalID: sig.ID, Gate: GateBreaker, Reason: reason}
	}

	if !p.armed.IsArmed() {
		reason := "Disarmed: system is not armed for live execution"
		log.Warn().Str("signal_id", sig.ID).Msg("signal rejected while disarmed")
		return Decision{SignalID: sig.ID, Gate: GateDisarmed, Reason: reason}
	}

	risk := p.guardian.CheckSignal(ctx, sig, snapshot)
	if !risk.Approved {
		return Decision{SignalID: sig.ID, Gate: GateRisk, Reason: risk.Reason}
	}

	// Cap the risk-adjusted size by the phase's capital allocation.
	size := risk.AdjustedSize
	weight := p.allocation.GetWeights(snapshot.Equity).Weight(sig.PhaseID)
	if budget := snapshot.Equity * weight; snapshot.Equity > 0 && size > budget {
		log.Info().Str("signal_id", sig.ID).Float64("size", size).
			Float64("budget", budget).Msg("size capped by phase allocation")
		size = budget
	}

	intent := buildIntent(sig, size, p.policyHash, p.now())
	p.dispatch(ctx, transport.ChannelIntents, intent)

	return Decision{
		SignalID:       sig.ID,
		Approved:       true,
		Gate:           GateApproved,
		Reason:         "approved",
		AuthorizedSize: size,
		Intent:         &intent,
	}
}

// dispatch signs and publishes v; a publish failure routes the signed
// envelope to the dead-letter queue instead of losing it.
func (p *Processor) dispatch(ctx context.Context, channel string, v interface{}) {
	env, err := p.signer.SignEnvelope(v)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to sign outbound message")
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to encode outbound envelope")
		return
	}
	start := p.now()
	err = p.publisher.Publish(ctx, channel, payload)
	if p.metrics != nil {
		p.metrics.ObservePublish(p.now().Sub(start))
	}
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("publish failed, routing to dead-letter queue")
		p.dlq.Enqueue(channel, payload, err)
		if p.metrics != nil {
			p.metrics.DeadLetters.Inc()
		}
	}
}

func (p *Processor) recordDecision(d Decision) {
	if p.metrics != nil {
		p.metrics.RecordDecision(d.Gate, d.Reason, d.Approved)
	}
}
