package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/riskbrain/internal/domain"
	"github.com/quantfall/riskbrain/internal/transport"
)

// heartbeatInterval is fixed: the execution collaborator treats a
// missed beat as fail-closed and stops trading.
const heartbeatInterval = time.Second

// HeartbeatSnapshot is the periodic risk-state report published to the
// execution collaborator.
type HeartbeatSnapshot struct {
	Armed         bool   `json:"armed"`
	BreakerActive bool   `json:"breaker_active"`
	BreakerType   string `json:"breaker_type,omitempty"`
	DefconLevel   string `json:"defcon_level"`
	PolicyHash    string `json:"policy_hash"`
	At            string `json:"at"`
}

// DefconSource reports the current governance posture.
type DefconSource interface {
	Level() domain.DefconLevel
}

// RunHeartbeat publishes a signed risk-state snapshot every second
// until ctx is cancelled. Publish failures are logged and skipped;
// heartbeats are time-sensitive and never dead-lettered.
func (p *Processor) RunHeartbeat(ctx context.Context, governance DefconSource) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("heartbeat stopped")
			return
		case <-ticker.C:
			p.publishHeartbeat(ctx, governance)
		}
	}
}

func (p *Processor) publishHeartbeat(ctx context.Context, governance DefconSource) {
	status := p.breaker.Status()
	snap := HeartbeatSnapshot{
		Armed:         p.armed.IsArmed(),
		BreakerActive: status.Active,
		DefconLevel:   governance.Level().String(),
		PolicyHash:    p.policyHash,
		At:            p.now().UTC().Format(time.RFC3339Nano),
	}
	if status.Active {
		snap.BreakerType = string(status.BreakerType)
	}

	env, err := p.signer.SignEnvelope(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to sign heartbeat")
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode heartbeat")
		return
	}
	if err := p.publisher.Publish(ctx, transport.ChannelHeartbeat, payload); err != nil {
		log.Warn().Err(err).Msg("heartbeat publish failed")
		return
	}
	if p.metrics != nil {
		p.metrics.Heartbeats.Inc()
	}
}
