package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stabilis/core/events"
	"stabilis/native/rewards"
)

var (
	// ErrUnauthorizedMinter indicates a mint or burn attempted by a caller
	// other than the configured minter.
	ErrUnauthorizedMinter = errors.New("token: caller is not the minter")
	// ErrInsufficientBalance indicates a burn or transfer exceeding the
	// holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInvalidAmount indicates a negative quantity.
	ErrInvalidAmount = errors.New("token: amount must not be negative")
	// ErrRewardsDisabled indicates a reward operation on a token that does
	// not carry a reward ledger.
	ErrRewardsDisabled = errors.New("token: rewards not enabled")
)

// zeroAddress is the placeholder for "no account": the source of a mint and
// the destination of a burn. It never accrues rewards.
var zeroAddress = common.Address{}

// Token is the minimal token collaborator required by the stabilization
// engine: balance bookkeeping, supply, and authorized mint/burn. Reward-bearing
// tokens additionally carry a time-weighted reward ledger that is driven by
// every balance-changing event.
type Token struct {
	symbol      string
	minter      common.Address
	balances    map[common.Address]*big.Int
	totalSupply *big.Int
	ledger      *rewards.Ledger
	emitter     events.Emitter
}

// New constructs a token whose mint and burn operations are restricted to the
// supplied minter address.
func New(symbol string, minter common.Address) *Token {
	return &Token{
		symbol:      symbol,
		minter:      minter,
		balances:    make(map[common.Address]*big.Int),
		totalSupply: big.NewInt(0),
		emitter:     events.NoopEmitter{},
	}
}

// EnableRewards attaches a reward ledger, making the token reward-bearing.
func (t *Token) EnableRewards() {
	if t.ledger == nil {
		t.ledger = rewards.NewLedger()
	}
}

// SetEmitter wires the token to an event sink.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	t.emitter = emitter
}

// Symbol returns the token's ticker symbol.
func (t *Token) Symbol() string { return t.symbol }

// RewardBearing reports whether the token carries a reward ledger.
func (t *Token) RewardBearing() bool { return t.ledger != nil }

// BalanceOf returns the holder's current balance.
func (t *Token) BalanceOf(account common.Address) *big.Int {
	if balance, ok := t.balances[account]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// TotalSupply returns the current circulating supply.
func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.totalSupply)
}

// Mint credits amount to the recipient. Restricted to the minter.
func (t *Token) Mint(caller, to common.Address, amount *big.Int, now uint64) error {
	if caller != t.minter {
		return ErrUnauthorizedMinter
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := t.accrue(to, now); err != nil {
		return err
	}
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	return nil
}

// Burn debits amount from the holder. Restricted to the minter.
func (t *Token) Burn(caller, from common.Address, amount *big.Int, now uint64) error {
	if caller != t.minter {
		return ErrUnauthorizedMinter
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := t.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := t.accrue(from, now); err != nil {
		return err
	}
	t.balances[from] = balance.Sub(balance, amount)
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves amount between holders, accruing rewards for both sides
// against the balances they held before the transfer.
func (t *Token) Transfer(from, to common.Address, amount *big.Int, now uint64) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := t.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := t.accrue(from, now); err != nil {
		return err
	}
	if err := t.accrue(to, now); err != nil {
		return err
	}
	t.balances[from] = balance.Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	return nil
}

// ClaimableReward projects the holder's claimable reward at now.
func (t *Token) ClaimableReward(account common.Address, now uint64) (*big.Int, error) {
	if t.ledger == nil {
		return nil, ErrRewardsDisabled
	}
	return t.ledger.Claimable(account, t.BalanceOf(account), now)
}

// ClaimReward accrues up to now, then zeroes and returns the holder's
// claimable reward. The ledger is committed before the amount is returned, so
// downstream minting observes fully settled state.
func (t *Token) ClaimReward(account common.Address, now uint64) (*big.Int, error) {
	if t.ledger == nil {
		return nil, ErrRewardsDisabled
	}
	// Settle the pending accrual first so the Reward event fires; the accrue
	// inside Claim then sees zero elapsed time and adds nothing.
	if err := t.accrue(account, now); err != nil {
		return nil, err
	}
	claimed, err := t.ledger.Claim(account, t.BalanceOf(account), now)
	if err != nil {
		return nil, err
	}
	t.emitter.Emit(events.ClaimReward{Account: account, Token: t.symbol, Amount: claimed})
	return claimed, nil
}

// accrue settles the reward ledger for account using its pre-event balance.
// The zero address and reward-less tokens are skipped.
func (t *Token) accrue(account common.Address, now uint64) error {
	if t.ledger == nil || account == zeroAddress {
		return nil
	}
	delta, total, err := t.ledger.Accrue(account, t.BalanceOf(account), now)
	if err != nil {
		return err
	}
	if delta.Sign() > 0 {
		t.emitter.Emit(events.Reward{
			Account:           account,
			Token:             t.symbol,
			Amount:            delta,
			NewClaimableTotal: total,
		})
	}
	return nil
}

// Holders returns a copy of the balance table, used for snapshots.
func (t *Token) Holders() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(t.balances))
	for account, balance := range t.balances {
		out[account] = new(big.Int).Set(balance)
	}
	return out
}

// LedgerEntries exposes the reward ledger rows for snapshots. Nil when the
// token is not reward-bearing.
func (t *Token) LedgerEntries() []rewards.Entry {
	if t.ledger == nil {
		return nil
	}
	return t.ledger.Entries()
}

// Restore replaces balances, supply and ledger rows from a snapshot.
func (t *Token) Restore(holders map[common.Address]*big.Int, supply *big.Int, rows []rewards.Entry) {
	t.balances = make(map[common.Address]*big.Int, len(holders))
	for account, balance := range holders {
		t.balances[account] = new(big.Int).Set(balance)
	}
	if supply != nil {
		t.totalSupply = new(big.Int).Set(supply)
	} else {
		t.totalSupply = big.NewInt(0)
	}
	if t.ledger != nil {
		t.ledger.Restore(rows)
	}
}
