package stabilization

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stabilis/native/rewards"
)

// Status is a read-only view of the engine used by the gateway and metrics.
type Status struct {
	MeasurementPrice      *big.Int `json:"measurementPrice"`
	ControlPrice          *big.Int `json:"controlPrice"`
	TargetPrice           *big.Int `json:"targetPrice"`
	MeltRate              *big.Int `json:"meltRate"`
	CondensationRate      *big.Int `json:"condensationRate"`
	LastError             *big.Int `json:"lastError"`
	AccumulatedError      *big.Int `json:"accumulatedError"`
	LastUpdateTime        uint64   `json:"lastUpdateTime"`
	StablePoolStable      *big.Int `json:"stablePoolStable"`
	StablePoolMeasurement *big.Int `json:"stablePoolMeasurement"`
	ControlPoolStable     *big.Int `json:"controlPoolStable"`
	ControlPoolControl    *big.Int `json:"controlPoolControl"`
	TotalStableSupply     *big.Int `json:"totalStableSupply"`
}

// Status reports the current prices, rates and pool depths.
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	measurementPrice, err := c.stablePool.PriceOfB()
	if err != nil {
		return Status{}, err
	}
	controlPrice, err := c.controlPool.PriceOfB()
	if err != nil {
		return Status{}, err
	}
	total, err := c.totalStableSupply()
	if err != nil {
		return Status{}, err
	}
	return Status{
		MeasurementPrice:      measurementPrice,
		ControlPrice:          controlPrice,
		TargetPrice:           new(big.Int).Set(c.targetPrice),
		MeltRate:              new(big.Int).Set(c.meltRate),
		CondensationRate:      new(big.Int).Set(c.condensationRate),
		LastError:             c.tracker.LastError(),
		AccumulatedError:      c.tracker.AccumulatedError(),
		LastUpdateTime:        c.tracker.LastUpdateTime(),
		StablePoolStable:      c.stablePool.SizeA(),
		StablePoolMeasurement: c.stablePool.SizeB(),
		ControlPoolStable:     c.controlPool.SizeA(),
		ControlPoolControl:    c.controlPool.SizeB(),
		TotalStableSupply:     total,
	}, nil
}

// TokenState captures one token's balances, supply and reward ledger for a
// snapshot.
type TokenState struct {
	Holders     map[common.Address]*big.Int
	TotalSupply *big.Int
	Ledger      []rewards.Entry
}

// State is the complete persistable engine state.
type State struct {
	TargetPrice           *big.Int
	MeltRate              *big.Int
	CondensationRate      *big.Int
	LastTotalStableSupply *big.Int

	LastError        *big.Int
	AccumulatedError *big.Int
	LastUpdateTime   uint64

	StablePoolStable      *big.Int
	StablePoolMeasurement *big.Int
	ControlPoolStable     *big.Int
	ControlPoolControl    *big.Int

	Stable      TokenState
	Measurement TokenState
	Control     TokenState
}

// ExportState copies the full engine state for persistence.
func (c *Controller) ExportState() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exportLocked()
}

// exportLocked is ExportState without locking; it also serves as the
// checkpoint mechanism that gives mutating operations all-or-nothing
// semantics.
func (c *Controller) exportLocked() *State {
	return &State{
		TargetPrice:           new(big.Int).Set(c.targetPrice),
		MeltRate:              new(big.Int).Set(c.meltRate),
		CondensationRate:      new(big.Int).Set(c.condensationRate),
		LastTotalStableSupply: new(big.Int).Set(c.lastTotalStableSupply),
		LastError:             c.tracker.LastError(),
		AccumulatedError:      c.tracker.AccumulatedError(),
		LastUpdateTime:        c.tracker.LastUpdateTime(),
		StablePoolStable:      c.stablePool.SizeA(),
		StablePoolMeasurement: c.stablePool.SizeB(),
		ControlPoolStable:     c.controlPool.SizeA(),
		ControlPoolControl:    c.controlPool.SizeB(),
		Stable: TokenState{
			Holders:     c.stable.Holders(),
			TotalSupply: c.stable.TotalSupply(),
		},
		Measurement: TokenState{
			Holders:     c.measurement.Holders(),
			TotalSupply: c.measurement.TotalSupply(),
			Ledger:      c.measurement.LedgerEntries(),
		},
		Control: TokenState{
			Holders:     c.control.Holders(),
			TotalSupply: c.control.TotalSupply(),
			Ledger:      c.control.LedgerEntries(),
		},
	}
}

// RestoreState overwrites the engine state from a snapshot.
func (c *Controller) RestoreState(s *State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restoreLocked(s)
}

func (c *Controller) restoreLocked(s *State) error {
	if err := c.stablePool.Restore(c.module, s.StablePoolStable, s.StablePoolMeasurement); err != nil {
		return err
	}
	if err := c.controlPool.Restore(c.module, s.ControlPoolStable, s.ControlPoolControl); err != nil {
		return err
	}
	c.stable.Restore(s.Stable.Holders, s.Stable.TotalSupply, s.Stable.Ledger)
	c.measurement.Restore(s.Measurement.Holders, s.Measurement.TotalSupply, s.Measurement.Ledger)
	c.control.Restore(s.Control.Holders, s.Control.TotalSupply, s.Control.Ledger)
	c.tracker.Restore(s.LastError, s.AccumulatedError, s.LastUpdateTime)
	c.targetPrice = new(big.Int).Set(s.TargetPrice)
	c.meltRate = new(big.Int).Set(s.MeltRate)
	c.condensationRate = new(big.Int).Set(s.CondensationRate)
	c.lastTotalStableSupply = new(big.Int).Set(s.LastTotalStableSupply)
	return nil
}
