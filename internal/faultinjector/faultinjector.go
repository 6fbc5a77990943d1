// Package faultinjector implements the per-voter fault injection
// FlatGroupCoordinator applies before producing a vote (spec.md
// §4.4): a random delay, then either a dropped connection, a
// corrupted/incorrect response, or a genuine ack. There is no teacher
// equivalent — the teacher repo runs a clean quorum path with no
// injected failure — so this package is grounded instead on the
// fault-injection shape implied by spec.md's own probability knobs,
// using math/rand/v2 the way the rest of this module uses the
// standard library for anything with no ecosystem replacement in the
// examples pack.
package faultinjector

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds the probability/delay knobs spec.md §4.4 and §6 name.
type Config struct {
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	ConnectionFailureRate float64 // [0,1]
	IncorrectResponseRate float64 // [0,1]
}

// Outcome is what processRequest decided to do for one vote.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeError
	OutcomeDropped
)

// Injector applies Config's fault profile to a single simulated vote.
type Injector struct {
	cfg Config
}

func New(cfg Config) *Injector {
	return &Injector{cfg: cfg}
}

// ProcessRequest sleeps for a random delay within [BaseDelay, MaxDelay]
// then rolls the fault dice: ConnectionFailureRate chance of producing
// nothing (the caller should send no vote at all), else
// IncorrectResponseRate chance of an ERROR_ vote, else a genuine
// ACK_ vote. voterID and req are folded into the raw vote string per
// spec.md §4.4's "ACK_P<id>_<req>" / "ERROR_P<id>_<rand>" format.
func (i *Injector) ProcessRequest(voterID, req string) (Outcome, string) {
	delay := i.cfg.BaseDelay
	if i.cfg.MaxDelay > i.cfg.BaseDelay {
		delay += time.Duration(rand.Int64N(int64(i.cfg.MaxDelay - i.cfg.BaseDelay)))
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	if rand.Float64() < i.cfg.ConnectionFailureRate {
		return OutcomeDropped, ""
	}
	if rand.Float64() < i.cfg.IncorrectResponseRate {
		return OutcomeError, fmt.Sprintf("ERROR_P%s_%d", voterID, rand.Int64())
	}
	return OutcomeAck, fmt.Sprintf("ACK_P%s_%s", voterID, req)
}
