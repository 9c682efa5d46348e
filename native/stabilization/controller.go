package stabilization

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"stabilis/core/events"
	"stabilis/native/fixedmath"
	"stabilis/native/token"
	"stabilis/native/vpool"
)

// TokenID names one of the three protocol tokens.
type TokenID string

const (
	// TokenStable is the stable token, the output of record.
	TokenStable TokenID = "STB"
	// TokenMeasurement is the measurement token whose price the controller
	// steers toward the target.
	TokenMeasurement TokenID = "MSR"
	// TokenControl is the control token that absorbs volatility.
	TokenControl TokenID = "CTL"
)

// ClaimSource selects which reward ledger a claim draws from.
type ClaimSource string

const (
	// ClaimMeasurement claims measurement-token rewards, converted at the
	// melt rate.
	ClaimMeasurement ClaimSource = "measurement"
	// ClaimControl claims control-token rewards, converted at the
	// condensation rate.
	ClaimControl ClaimSource = "control"
)

var (
	errUnknownToken = errors.New("stabilization: unknown token")
	errNilGenesis   = errors.New("stabilization: genesis value missing")
)

// Allocation is a genesis balance grant.
type Allocation struct {
	Token   TokenID
	Account common.Address
	Amount  *big.Int
}

// Genesis fixes the initial engine state: pool depths, target price, reward
// rates and any pre-mined balances.
type Genesis struct {
	Timestamp             uint64
	TargetPrice           *big.Int
	MeltRate              *big.Int
	CondensationRate      *big.Int
	StablePoolStable      *big.Int
	StablePoolMeasurement *big.Int
	ControlPoolStable     *big.Int
	ControlPoolControl    *big.Int
	Allocations           []Allocation
}

func (g Genesis) validate() error {
	for _, v := range []*big.Int{
		g.TargetPrice, g.MeltRate, g.CondensationRate,
		g.StablePoolStable, g.StablePoolMeasurement,
		g.ControlPoolStable, g.ControlPoolControl,
	} {
		if v == nil {
			return errNilGenesis
		}
	}
	if g.TargetPrice.Sign() <= 0 {
		return fmt.Errorf("stabilization: target price must be positive")
	}
	if g.MeltRate.Sign() < 0 || g.CondensationRate.Sign() < 0 {
		return fmt.Errorf("stabilization: reward rates must not be negative")
	}
	return nil
}

// Controller is the feedback loop at the heart of the protocol. It owns the
// two virtual pools and the error tracker, supplies the concrete error and
// response formulas, and orchestrates swaps and reward claims. Every exported
// operation runs to completion under one mutex: no operation can observe
// another mid-update, whatever total order external callers impose.
type Controller struct {
	mu sync.Mutex

	module  common.Address
	params  Params
	emitter events.Emitter

	stable      *token.Token
	measurement *token.Token
	control     *token.Token

	stablePool  *vpool.Pool // A = STB, B = MSR
	controlPool *vpool.Pool // A = STB, B = CTL
	tracker     *Tracker

	targetPrice           *big.Int
	meltRate              *big.Int
	condensationRate      *big.Int
	lastTotalStableSupply *big.Int
}

// New constructs the controller, its tokens and both pools from genesis.
func New(module common.Address, params Params, genesis Genesis, emitter events.Emitter) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := genesis.validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	c := &Controller{
		module:           module,
		params:           params,
		emitter:          emitter,
		targetPrice:      new(big.Int).Set(genesis.TargetPrice),
		meltRate:         new(big.Int).Set(genesis.MeltRate),
		condensationRate: new(big.Int).Set(genesis.CondensationRate),
	}

	c.stable = token.New(string(TokenStable), module)
	c.measurement = token.New(string(TokenMeasurement), module)
	c.measurement.EnableRewards()
	c.control = token.New(string(TokenControl), module)
	c.control.EnableRewards()
	c.stable.SetEmitter(emitter)
	c.measurement.SetEmitter(emitter)
	c.control.SetEmitter(emitter)

	var err error
	c.stablePool, err = vpool.New(module, c.stable, c.measurement, genesis.StablePoolStable, genesis.StablePoolMeasurement)
	if err != nil {
		return nil, err
	}
	c.controlPool, err = vpool.New(module, c.stable, c.control, genesis.ControlPoolStable, genesis.ControlPoolControl)
	if err != nil {
		return nil, err
	}

	for _, alloc := range genesis.Allocations {
		tok, err := c.token(alloc.Token)
		if err != nil {
			return nil, err
		}
		if err := tok.Mint(module, alloc.Account, alloc.Amount, genesis.Timestamp); err != nil {
			return nil, err
		}
	}

	c.lastTotalStableSupply, err = c.totalStableSupply()
	if err != nil {
		return nil, err
	}
	c.tracker = NewTracker(controllerHooks{c}, genesis.Timestamp)
	return c, nil
}

// Token returns the named token collaborator.
func (c *Controller) Token(id TokenID) (*token.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token(id)
}

func (c *Controller) token(id TokenID) (*token.Token, error) {
	switch id {
	case TokenStable:
		return c.stable, nil
	case TokenMeasurement:
		return c.measurement, nil
	case TokenControl:
		return c.control, nil
	default:
		return nil, errUnknownToken
	}
}

// SetParams replaces the controller tuning. The change takes effect on the
// next tracker update; no retroactive correction is applied.
func (c *Controller) SetParams(params Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := params.Validate(); err != nil {
		return err
	}
	c.params = Params{
		ControlPriceFactor:   new(big.Int).Set(params.ControlPriceFactor),
		ControlPricePeriod:   params.ControlPricePeriod,
		CondensationFactor:   new(big.Int).Set(params.CondensationFactor),
		CondensationPeriod:   params.CondensationPeriod,
		BaseCondensationRate: new(big.Int).Set(params.BaseCondensationRate),
		TargetPricePeriod:    params.TargetPricePeriod,
	}
	c.emitter.Emit(events.ParametersUpdated{
		ControlPriceFactor:   new(big.Int).Set(c.params.ControlPriceFactor),
		ControlPricePeriod:   c.params.ControlPricePeriod,
		CondensationFactor:   new(big.Int).Set(c.params.CondensationFactor),
		CondensationPeriod:   c.params.CondensationPeriod,
		BaseCondensationRate: new(big.Int).Set(c.params.BaseCondensationRate),
		TargetPricePeriod:    c.params.TargetPricePeriod,
	})
	return nil
}

// Update triggers an error-tracker update outside any swap or claim.
func (c *Controller) Update(now uint64) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollbackOnError(c.exportLocked(), &err)
	return c.tracker.Update(now)
}

// rollbackOnError restores the checkpoint taken at operation entry when the
// operation failed, so a fault anywhere inside a multi-step update leaves
// shared state exactly as it was before the call.
func (c *Controller) rollbackOnError(checkpoint *State, opErr *error) {
	if *opErr == nil {
		return
	}
	if restoreErr := c.restoreLocked(checkpoint); restoreErr != nil {
		*opErr = fmt.Errorf("%w (rollback failed: %v)", *opErr, restoreErr)
	}
}

// SwapStableForMeasurement sells STB into the stable pool for MSR. The error
// correction runs first, so the swap always prices against a fresh target.
func (c *Controller) SwapStableForMeasurement(requester common.Address, amountIn *big.Int, now uint64) (out *big.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollbackOnError(c.exportLocked(), &err)
	if err = c.tracker.Update(now); err != nil {
		return nil, err
	}
	out, err = c.stablePool.SwapAForB(requester, amountIn, now)
	if err != nil {
		return nil, err
	}
	c.emitSwap(requester, TokenStable, amountIn, TokenMeasurement, out)
	return out, nil
}

// SwapMeasurementForStable sells MSR into the stable pool for STB, updating
// the error tracker first.
func (c *Controller) SwapMeasurementForStable(requester common.Address, amountIn *big.Int, now uint64) (out *big.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollbackOnError(c.exportLocked(), &err)
	if err = c.tracker.Update(now); err != nil {
		return nil, err
	}
	out, err = c.stablePool.SwapBForA(requester, amountIn, now)
	if err != nil {
		return nil, err
	}
	c.emitSwap(requester, TokenMeasurement, amountIn, TokenStable, out)
	return out, nil
}

// SwapStableForControl sells STB into the control pool for CTL.
//
// The control-token paths deliberately do not touch the error tracker:
// control trading is decoupled from the price-target feedback loop.
func (c *Controller) SwapStableForControl(requester common.Address, amountIn *big.Int, now uint64) (out *big.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollbackOnError(c.exportLocked(), &err)
	out, err = c.controlPool.SwapAForB(requester, amountIn, now)
	if err != nil {
		return nil, err
	}
	c.emitSwap(requester, TokenStable, amountIn, TokenControl, out)
	return out, nil
}

// SwapControlForStable sells CTL into the control pool for STB, without an
// error-tracker update (see SwapStableForControl).
func (c *Controller) SwapControlForStable(requester common.Address, amountIn *big.Int, now uint64) (out *big.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollbackOnError(c.exportLocked(), &err)
	out, err = c.controlPool.SwapBForA(requester, amountIn, now)
	if err != nil {
		return nil, err
	}
	c.emitSwap(requester, TokenControl, amountIn, TokenStable, out)
	return out, nil
}

// Claimable projects the stable-token payout a claim would produce at now.
func (c *Controller) Claimable(source ClaimSource, account common.Address, now uint64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, rate, err := c.claimTarget(source)
	if err != nil {
		return nil, err
	}
	raw, err := tok.ClaimableReward(account, now)
	if err != nil {
		return nil, err
	}
	return fixedmath.Mul(raw, rate)
}

// Claim settles the account's accrued reward, converts it with the source's
// rate, mints the stable-token payout and rescales both pools to the new
// supply. Returns the minted amount.
func (c *Controller) Claim(source ClaimSource, account common.Address, now uint64) (payout *big.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.rollbackOnError(c.exportLocked(), &err)
	if err = c.tracker.Update(now); err != nil {
		return nil, err
	}
	tok, rate, err := c.claimTarget(source)
	if err != nil {
		return nil, err
	}
	raw, err := tok.ClaimReward(account, now)
	if err != nil {
		return nil, err
	}
	payout, err = fixedmath.Mul(raw, rate)
	if err != nil {
		return nil, err
	}
	if payout.Sign() > 0 {
		if err = c.stable.Mint(c.module, account, payout, now); err != nil {
			return nil, err
		}
		if err = c.onRewardClaimed(); err != nil {
			return nil, err
		}
	}
	return payout, nil
}

func (c *Controller) claimTarget(source ClaimSource) (*token.Token, *big.Int, error) {
	switch source {
	case ClaimMeasurement:
		return c.measurement, c.meltRate, nil
	case ClaimControl:
		return c.control, c.condensationRate, nil
	default:
		return nil, nil, ErrInvalidClaimRequest
	}
}

// computeError is the proportional term: observed measurement price minus
// the target price.
func (c *Controller) computeError() (*big.Int, error) {
	price, err := c.stablePool.PriceOfB()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(price, c.targetPrice), nil
}

// applyError performs the three updates of the control response. All deltas
// are computed against the pre-update state before anything is committed, so
// an arithmetic failure leaves the controller untouched.
func (c *Controller) applyError(errVal, accumulated *big.Int, timeDelta uint64) error {
	// 1. Control-token price drift, coupled to the relative valuation of the
	// two volatile tokens.
	controlPrice, err := c.controlPool.PriceOfB()
	if err != nil {
		return err
	}
	measurementPrice, err := c.stablePool.PriceOfB()
	if err != nil {
		return err
	}
	relative, err := fixedmath.Div(controlPrice, measurementPrice)
	if err != nil {
		return err
	}
	term, err := fixedmath.Mul(errVal, c.params.ControlPriceFactor)
	if err != nil {
		return err
	}
	term, err = fixedmath.Mul(term, relative)
	if err != nil {
		return err
	}
	priceDrift, err := scaleByTime(term, timeDelta, c.params.ControlPricePeriod)
	if err != nil {
		return err
	}
	newControlPrice, err := fixedmath.Add(controlPrice, priceDrift)
	if err != nil {
		return err
	}

	// 2. Condensation rate steered toward base + integral term, clamped at
	// zero.
	setpointTerm, err := fixedmath.Mul(accumulated, c.params.CondensationFactor)
	if err != nil {
		return err
	}
	setpoint, err := fixedmath.Add(c.params.BaseCondensationRate, setpointTerm)
	if err != nil {
		return err
	}
	rateGap, err := fixedmath.Sub(setpoint, c.condensationRate)
	if err != nil {
		return err
	}
	rateStep, err := scaleByTime(rateGap, timeDelta, c.params.CondensationPeriod)
	if err != nil {
		return err
	}
	newRate, err := fixedmath.Add(c.condensationRate, rateStep)
	if err != nil {
		return err
	}
	newRate = fixedmath.Max(newRate, big.NewInt(0))

	// 3. Target price drifting toward the observed price.
	targetDrift, err := scaleByTime(errVal, timeDelta, c.params.TargetPricePeriod)
	if err != nil {
		return err
	}
	newTarget, err := fixedmath.Add(c.targetPrice, targetDrift)
	if err != nil {
		return err
	}

	if err := c.controlPool.SetPriceOfB(c.module, newControlPrice); err != nil {
		return err
	}
	c.condensationRate = newRate
	c.targetPrice = newTarget
	return nil
}

// onRewardClaimed rescales both pools so their depth stays proportional to
// the circulating stable supply after reward emission.
func (c *Controller) onRewardClaimed() error {
	total, err := c.totalStableSupply()
	if err != nil {
		return err
	}
	ratio, err := fixedmath.Div(total, c.lastTotalStableSupply)
	if err != nil {
		return err
	}
	if err := c.stablePool.Scale(c.module, ratio); err != nil {
		return err
	}
	if err := c.controlPool.Scale(c.module, ratio); err != nil {
		return err
	}
	c.lastTotalStableSupply = total
	c.emitter.Emit(events.PoolsRescaled{Ratio: ratio, NewTotalSupply: total})
	return nil
}

// totalStableSupply is the circulating supply plus the simulated stable
// depth of both pools.
func (c *Controller) totalStableSupply() (*big.Int, error) {
	total, err := fixedmath.Add(c.stable.TotalSupply(), c.stablePool.SizeA())
	if err != nil {
		return nil, err
	}
	return fixedmath.Add(total, c.controlPool.SizeA())
}

func (c *Controller) emitSwap(account common.Address, from TokenID, amountFrom *big.Int, to TokenID, amountTo *big.Int) {
	c.emitter.Emit(events.Swap{
		Account:    account,
		TokenFrom:  string(from),
		AmountFrom: new(big.Int).Set(amountFrom),
		TokenTo:    string(to),
		AmountTo:   new(big.Int).Set(amountTo),
	})
}

// controllerHooks adapts the controller's unexported formulas to the tracker
// without exposing them as public API.
type controllerHooks struct{ c *Controller }

func (h controllerHooks) ComputeError() (*big.Int, error) { return h.c.computeError() }

func (h controllerHooks) ApplyError(errVal, accumulated *big.Int, timeDelta uint64) error {
	return h.c.applyError(errVal, accumulated, timeDelta)
}
