package processor

import (
	"time"

	"github.com/quantfall/riskbrain/internal/domain"
)

// SchemaVersion of the outbound intent contract.
const SchemaVersion = "1.0"

// IntentEnvelope is the outbound trade intent consumed by the
// execution collaborator. Field names and shapes are a wire contract;
// change them only in lockstep with the consumer.
type IntentEnvelope struct {
	SchemaVersion string                 `json:"schema_version"`
	SignalID      string                 `json:"signal_id"`
	Source        string                 `json:"source"`
	Symbol        string                 `json:"symbol"`
	Direction     int                    `json:"direction"`
	Type          string                 `json:"type"`
	EntryZone     []float64              `json:"entry_zone,omitempty"`
	StopLoss      float64                `json:"stop_loss,omitempty"`
	TakeProfits   []float64              `json:"take_profits,omitempty"`
	Size          float64                `json:"size"`
	Status        string                 `json:"status"`
	ReceivedAt    string                 `json:"received_at"`
	TSignal       int64                  `json:"t_signal"`
	PolicyHash    string                 `json:"policy_hash"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// buildIntent maps an authorized signal onto the wire contract.
func buildIntent(sig domain.Signal, size float64, policyHash string, now time.Time) IntentEnvelope {
	intent := IntentEnvelope{
		SchemaVersion: SchemaVersion,
		SignalID:      sig.ID,
		Source:        "brain",
		Symbol:        sig.Symbol,
		Direction:     sig.Side.Direction(),
		Type:          sig.Side.SetupType(),
		StopLoss:      sig.StopLossPrice,
		Size:          size,
		Status:        "PENDING",
		ReceivedAt:    now.UTC().Format(time.RFC3339Nano),
		TSignal:       sig.Timestamp.UnixMilli(),
		PolicyHash:    policyHash,
		Metadata: map[string]interface{}{
			"phase":    sig.PhaseID,
			"leverage": sig.Leverage,
		},
	}
	if sig.EntryPrice > 0 {
		intent.EntryZone = []float64{sig.EntryPrice, sig.EntryPrice}
	}
	if sig.TargetPrice > 0 {
		intent.TakeProfits = []float64{sig.TargetPrice}
	}
	return intent
}
