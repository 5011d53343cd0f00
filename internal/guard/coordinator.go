package guard

import (
	"sync"
	"time"

	"github.com/basketfi/fund-backend/internal/domain"
)

// Operation is the process-wide operation class.
type Operation string

const (
	OpIdle      Operation = "idle"
	OpMint      Operation = "minting"
	OpBurn      Operation = "burning"
	OpRebalance Operation = "rebalancing"
)

// Coordinator is the global single-writer state machine. Minting and
// burning may coexist (their mutual exclusion is per-account); rebalancing
// conflicts with both in both directions. After the last holder of an
// operation type leaves, a grace period blocks switching to a different
// type. State is in-memory only: a restart implies nothing was genuinely in
// flight.
type Coordinator struct {
	mu sync.Mutex

	mintActive      int
	burnActive      int
	rebalanceActive bool

	lastTransition time.Time
	lastEndedOp    Operation
	lastEndedAt    time.Time

	paused bool

	gracePeriod time.Duration
	now         func() time.Time
}

// NewCoordinator creates an idle coordinator with the given grace period.
func NewCoordinator(gracePeriod time.Duration) *Coordinator {
	return &Coordinator{
		gracePeriod: gracePeriod,
		lastEndedOp: OpIdle,
		now:         time.Now,
	}
}

// Current returns the coordinator's operation state.
func (c *Coordinator) Current() Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Coordinator) currentLocked() Operation {
	switch {
	case c.rebalanceActive:
		return OpRebalance
	case c.mintActive > 0:
		return OpMint
	case c.burnActive > 0:
		return OpBurn
	default:
		return OpIdle
	}
}

// TryStart attempts to begin an operation. It fails with a concurrency
// error when the conflict matrix forbids it or the grace period since the
// last different-type operation has not elapsed. Same-type re-entry is
// unaffected by the grace period.
func (c *Coordinator) TryStart(op Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.currentLocked()

	switch op {
	case OpRebalance:
		if c.mintActive > 0 || c.burnActive > 0 {
			return domain.Errorf(domain.KindConcurrency, "coordinator.start",
				"rebalancing blocked: %s in progress", current)
		}
		if c.rebalanceActive {
			return domain.Errorf(domain.KindConcurrency, "coordinator.start",
				"rebalancing already in progress")
		}
	case OpMint, OpBurn:
		if c.rebalanceActive {
			return domain.Errorf(domain.KindConcurrency, "coordinator.start",
				"%s blocked: rebalancing in progress", op)
		}
	default:
		return domain.Errorf(domain.KindValidation, "coordinator.start",
			"cannot start operation %q", op)
	}

	if c.lastEndedOp != OpIdle && c.lastEndedOp != op {
		since := c.now().Sub(c.lastEndedAt)
		if since < c.gracePeriod {
			return domain.Errorf(domain.KindConcurrency, "coordinator.start",
				"grace period active: %s ended %s ago, %s required before switching to %s",
				c.lastEndedOp, since.Round(time.Second), c.gracePeriod, op)
		}
	}

	switch op {
	case OpMint:
		c.mintActive++
	case OpBurn:
		c.burnActive++
	case OpRebalance:
		c.rebalanceActive = true
	}
	c.lastTransition = c.now()
	return nil
}

// End releases one holder of the given operation type. It only clears state
// that matches op, so a caller can never clear another operation's slot.
// When the last holder of the type leaves, the end time is recorded for the
// grace period.
func (c *Coordinator) End(op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch op {
	case OpMint:
		if c.mintActive == 0 {
			return
		}
		c.mintActive--
		if c.mintActive > 0 {
			return
		}
	case OpBurn:
		if c.burnActive == 0 {
			return
		}
		c.burnActive--
		if c.burnActive > 0 {
			return
		}
	case OpRebalance:
		if !c.rebalanceActive {
			return
		}
		c.rebalanceActive = false
	default:
		return
	}

	c.lastTransition = c.now()
	c.lastEndedOp = op
	c.lastEndedAt = c.now()
}

// Pause blocks all mutating entry points until Unpause.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Unpause re-enables mutating entry points.
func (c *Coordinator) Unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Paused reports the pause flag.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// CheckNotPaused returns a validation error when the system is paused.
func (c *Coordinator) CheckNotPaused() error {
	if c.Paused() {
		return domain.Errorf(domain.KindValidation, "coordinator.paused",
			"system is paused: mutating operations are disabled")
	}
	return nil
}
