package stabilization

import (
	"errors"
	"math/big"

	"stabilis/native/fixedmath"
)

var (
	// ErrClockRegression indicates an update timestamp older than the last one
	// observed. Timestamps are monotonically non-decreasing.
	ErrClockRegression = errors.New("stabilization: timestamp precedes last update")
	// ErrInvalidClaimRequest indicates a claim with no claim source selected.
	ErrInvalidClaimRequest = errors.New("stabilization: no claim source selected")
)

// Hooks supplies the concrete error computation and error response to the
// tracker. The controller implements both; the tracker itself is a pure
// time-gated accumulator with no opinion about what the error means.
type Hooks interface {
	// ComputeError returns the current signed error term.
	ComputeError() (*big.Int, error)
	// ApplyError reacts to a committed update. It is invoked at most once
	// per discrete time unit, after the tracker state has been committed.
	ApplyError(err, accumulated *big.Int, timeDelta uint64) error
}

// Tracker accumulates the proportional and integral terms of the price error
// over time. A second update within the same discrete time unit is a no-op,
// so the same correction can never be applied twice inside one atomic
// sequence however many operations trigger it.
type Tracker struct {
	hooks            Hooks
	lastError        *big.Int
	accumulatedError *big.Int
	lastUpdateTime   uint64
}

// NewTracker constructs a tracker anchored at the genesis timestamp.
func NewTracker(hooks Hooks, genesis uint64) *Tracker {
	return &Tracker{
		hooks:            hooks,
		lastError:        big.NewInt(0),
		accumulatedError: big.NewInt(0),
		lastUpdateTime:   genesis,
	}
}

// Update advances the accumulator to now and delegates the response to the
// hooks. The tracker state is committed before ApplyError runs, so a
// reentrant update observes the new timestamp and coalesces into a no-op.
func (t *Tracker) Update(now uint64) error {
	if now == t.lastUpdateTime {
		return nil
	}
	if now < t.lastUpdateTime {
		return ErrClockRegression
	}
	timeDelta := now - t.lastUpdateTime

	errVal, err := t.hooks.ComputeError()
	if err != nil {
		return err
	}
	weighted, err := fixedmath.MulInt(errVal, new(big.Int).SetUint64(timeDelta))
	if err != nil {
		return err
	}
	accumulated, err := fixedmath.Add(t.accumulatedError, weighted)
	if err != nil {
		return err
	}

	t.lastError = errVal
	t.accumulatedError = accumulated
	t.lastUpdateTime = now

	return t.hooks.ApplyError(new(big.Int).Set(errVal), new(big.Int).Set(accumulated), timeDelta)
}

// LastError returns the most recently committed error term.
func (t *Tracker) LastError() *big.Int { return new(big.Int).Set(t.lastError) }

// AccumulatedError returns the time-weighted error integral.
func (t *Tracker) AccumulatedError() *big.Int { return new(big.Int).Set(t.accumulatedError) }

// LastUpdateTime returns the timestamp of the last committed update.
func (t *Tracker) LastUpdateTime() uint64 { return t.lastUpdateTime }

// Restore overwrites the tracker state from a snapshot.
func (t *Tracker) Restore(lastError, accumulated *big.Int, lastUpdate uint64) {
	t.lastError = new(big.Int).Set(lastError)
	t.accumulatedError = new(big.Int).Set(accumulated)
	t.lastUpdateTime = lastUpdate
}
