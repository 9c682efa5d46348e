package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeSwap is emitted whenever a virtual-pool swap settles.
	TypeSwap = "stabilization.swap"
	// TypeReward is emitted whenever time-weighted reward accrues to a holder.
	TypeReward = "stabilization.reward"
	// TypeClaimReward is emitted whenever accrued reward is converted and paid out.
	TypeClaimReward = "stabilization.reward.claimed"
	// TypePoolsRescaled is emitted whenever the pools are rescaled to track supply.
	TypePoolsRescaled = "stabilization.pools.rescaled"
	// TypeParametersUpdated is emitted whenever the controller tuning changes.
	TypeParametersUpdated = "stabilization.parameters.updated"
)

// Swap reports a settled virtual-pool swap.
type Swap struct {
	Account    common.Address
	TokenFrom  string
	AmountFrom *big.Int
	TokenTo    string
	AmountTo   *big.Int
}

func (Swap) EventType() string { return TypeSwap }

// Flatten converts the event into its attribute-map representation.
func (e Swap) Flatten() *Record {
	return &Record{
		Type: TypeSwap,
		Attributes: map[string]string{
			"account":    e.Account.Hex(),
			"tokenFrom":  e.TokenFrom,
			"amountFrom": bigString(e.AmountFrom),
			"tokenTo":    e.TokenTo,
			"amountTo":   bigString(e.AmountTo),
		},
	}
}

// Reward reports a reward accrual for a holder of a reward-bearing token.
type Reward struct {
	Account           common.Address
	Token             string
	Amount            *big.Int
	NewClaimableTotal *big.Int
}

func (Reward) EventType() string { return TypeReward }

// Flatten converts the event into its attribute-map representation.
func (e Reward) Flatten() *Record {
	return &Record{
		Type: TypeReward,
		Attributes: map[string]string{
			"account":   e.Account.Hex(),
			"token":     e.Token,
			"amount":    bigString(e.Amount),
			"claimable": bigString(e.NewClaimableTotal),
		},
	}
}

// ClaimReward reports a completed reward claim payout.
type ClaimReward struct {
	Account common.Address
	Token   string
	Amount  *big.Int
}

func (ClaimReward) EventType() string { return TypeClaimReward }

// Flatten converts the event into its attribute-map representation.
func (e ClaimReward) Flatten() *Record {
	return &Record{
		Type: TypeClaimReward,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"token":   e.Token,
			"amount":  bigString(e.Amount),
		},
	}
}

// PoolsRescaled reports a proportional pool rescale after supply changed.
type PoolsRescaled struct {
	Ratio          *big.Int
	NewTotalSupply *big.Int
}

func (PoolsRescaled) EventType() string { return TypePoolsRescaled }

// Flatten converts the event into its attribute-map representation.
func (e PoolsRescaled) Flatten() *Record {
	return &Record{
		Type: TypePoolsRescaled,
		Attributes: map[string]string{
			"ratio":       bigString(e.Ratio),
			"totalSupply": bigString(e.NewTotalSupply),
		},
	}
}

// ParametersUpdated reports a controller tuning change.
type ParametersUpdated struct {
	ControlPriceFactor   *big.Int
	ControlPricePeriod   uint64
	CondensationFactor   *big.Int
	CondensationPeriod   uint64
	BaseCondensationRate *big.Int
	TargetPricePeriod    uint64
}

func (ParametersUpdated) EventType() string { return TypeParametersUpdated }

// Flatten converts the event into its attribute-map representation.
func (e ParametersUpdated) Flatten() *Record {
	return &Record{
		Type: TypeParametersUpdated,
		Attributes: map[string]string{
			"controlPriceFactor":   bigString(e.ControlPriceFactor),
			"controlPricePeriod":   strconv.FormatUint(e.ControlPricePeriod, 10),
			"condensationFactor":   bigString(e.CondensationFactor),
			"condensationPeriod":   strconv.FormatUint(e.CondensationPeriod, 10),
			"baseCondensationRate": bigString(e.BaseCondensationRate),
			"targetPricePeriod":    strconv.FormatUint(e.TargetPricePeriod, 10),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
