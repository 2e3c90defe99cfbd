package processor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ArmedState is the physical interlock between decision and execution:
// while disarmed, every signal is rejected before it reaches the risk
// pipeline. The state is mirrored to a lockfile so a restarted process
// comes back in the same posture it went down in. A fresh deployment
// with no lockfile starts DISARMED.
type ArmedState struct {
	mu    sync.Mutex
	armed bool
	path  string
}

// NewArmedState loads the interlock from its lockfile.
func NewArmedState(path string) *ArmedState {
	if path == "" {
		path = "execution.armed"
	}
	_, err := os.Stat(path)
	armed := err == nil
	if armed {
		log.Info().Str("path", path).Msg("initialized ARMED from lockfile")
	} else {
		log.Warn().Str("path", path).Msg("initialized DISARMED; arm to enable order placement")
	}
	return &ArmedState{armed: armed, path: path}
}

// IsArmed reports whether live execution is enabled.
func (a *ArmedState) IsArmed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}

// Arm enables execution, recording the operator in the lockfile.
func (a *ArmedState) Arm(operatorID string) error {
	if operatorID == "" {
		return fmt.Errorf("arm requires an operator id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = true
	body := fmt.Sprintf("armed by %s at %s\n", operatorID, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(a.path, []byte(body), 0o644); err != nil {
		log.Warn().Err(err).Str("path", a.path).Msg("failed to persist armed lockfile")
	}
	log.Info().Str("operator", operatorID).Msg("EXECUTION ARMED, order placement enabled")
	return nil
}

// Disarm disables execution and removes the lockfile.
func (a *ArmedState) Disarm(operatorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = false
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", a.path).Msg("failed to remove armed lockfile")
	}
	log.Warn().Str("operator", operatorID).Msg("EXECUTION DISARMED, order placement disabled")
}
