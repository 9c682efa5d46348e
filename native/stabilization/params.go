package stabilization

import (
	"errors"
	"math/big"

	"stabilis/native/fixedmath"
)

var errInvalidParams = errors.New("stabilization: invalid parameters")

// Params are the tuning constants of the feedback controller. Factors are
// fixed-point multipliers; periods are base time spans in seconds used by the
// scale-by-time damping, which caps the fraction of a proposed change applied
// in a single update to timeDelta/period.
type Params struct {
	// ControlPriceFactor scales the error term feeding the control-token
	// price drift.
	ControlPriceFactor *big.Int
	// ControlPricePeriod dampens the control-token price drift.
	ControlPricePeriod uint64
	// CondensationFactor scales the accumulated error when deriving the
	// condensation-rate setpoint.
	CondensationFactor *big.Int
	// CondensationPeriod dampens condensation-rate adjustments.
	CondensationPeriod uint64
	// BaseCondensationRate is the setpoint's constant term.
	BaseCondensationRate *big.Int
	// TargetPricePeriod dampens the target-price drift toward the observed
	// price.
	TargetPricePeriod uint64
}

// DefaultParams returns the reference tuning: unit factors, daily periods for
// the fast loops and a thirty-day period for target drift.
func DefaultParams() Params {
	return Params{
		ControlPriceFactor:   new(big.Int).Set(fixedmath.Scale),
		ControlPricePeriod:   86_400,
		CondensationFactor:   new(big.Int).Set(fixedmath.Scale),
		CondensationPeriod:   86_400,
		BaseCondensationRate: big.NewInt(0),
		TargetPricePeriod:    30 * 86_400,
	}
}

// Validate rejects parameter sets the controller cannot run with.
func (p Params) Validate() error {
	if p.ControlPriceFactor == nil || p.CondensationFactor == nil || p.BaseCondensationRate == nil {
		return errInvalidParams
	}
	if p.ControlPricePeriod == 0 || p.CondensationPeriod == 0 || p.TargetPricePeriod == 0 {
		return errInvalidParams
	}
	if p.BaseCondensationRate.Sign() < 0 {
		return errInvalidParams
	}
	return nil
}

// scaleByTime caps the fraction of change applied in one step to
// timeDelta/basePeriod. For timeDelta >= basePeriod the result is exactly
// change; more frequent updates apply proportionally less, which bounds the
// rate of state change no matter how often updates are triggered.
func scaleByTime(change *big.Int, timeDelta, basePeriod uint64) (*big.Int, error) {
	bounded := timeDelta
	if bounded > basePeriod {
		bounded = basePeriod
	}
	return fixedmath.MulDiv(change, new(big.Int).SetUint64(bounded), new(big.Int).SetUint64(basePeriod))
}
