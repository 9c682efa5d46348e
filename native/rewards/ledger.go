package rewards

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stabilis/native/fixedmath"
)

var (
	// ErrClockRegression indicates an accrual timestamp older than the last one
	// recorded for the account. Timestamps are monotonically non-decreasing.
	ErrClockRegression = errors.New("rewards: timestamp precedes last accrual")
)

// entry holds the per-account accrual bookkeeping. Entries are created lazily
// on the first accrual event and never removed; a claim resets the claimable
// amount to zero but keeps the entry for future accrual.
type entry struct {
	lastRewardTime uint64
	claimable      *big.Int
}

// Ledger tracks time-weighted reward entitlements for holders of a
// reward-bearing token. Rewards accrue as balance multiplied by elapsed
// seconds; conversion into the payout token happens at claim time in the
// controller, not here.
type Ledger struct {
	entries map[common.Address]*entry
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[common.Address]*entry)}
}

// Accrue commits the reward earned by account since its last accrual, using
// the balance the account held up to this instant. The first observation of
// an account creates its entry and accrues nothing. The returned values are
// the accrued delta and the new claimable total.
//
// The ledger mutation is committed before the delta is returned, so callers
// that trigger external effects afterwards can never expose uncommitted state.
func (l *Ledger) Accrue(account common.Address, balanceBefore *big.Int, now uint64) (*big.Int, *big.Int, error) {
	e, ok := l.entries[account]
	if !ok {
		l.entries[account] = &entry{lastRewardTime: now, claimable: big.NewInt(0)}
		return big.NewInt(0), big.NewInt(0), nil
	}
	if now < e.lastRewardTime {
		return nil, nil, ErrClockRegression
	}
	delta, err := pendingDelta(e, balanceBefore, now)
	if err != nil {
		return nil, nil, err
	}
	total, err := fixedmath.Add(e.claimable, delta)
	if err != nil {
		return nil, nil, err
	}
	e.claimable = total
	e.lastRewardTime = now
	return delta, new(big.Int).Set(total), nil
}

// Claimable projects the reward account would be able to claim at now,
// without mutating the ledger.
func (l *Ledger) Claimable(account common.Address, balance *big.Int, now uint64) (*big.Int, error) {
	e, ok := l.entries[account]
	if !ok {
		return big.NewInt(0), nil
	}
	if now < e.lastRewardTime {
		return nil, ErrClockRegression
	}
	delta, err := pendingDelta(e, balance, now)
	if err != nil {
		return nil, err
	}
	return fixedmath.Add(e.claimable, delta)
}

// Claim accrues up to now, then atomically reads and zeroes the claimable
// amount, returning the pre-reset value.
func (l *Ledger) Claim(account common.Address, balance *big.Int, now uint64) (*big.Int, error) {
	if _, _, err := l.Accrue(account, balance, now); err != nil {
		return nil, err
	}
	e := l.entries[account]
	claimed := e.claimable
	e.claimable = big.NewInt(0)
	return claimed, nil
}

func pendingDelta(e *entry, balance *big.Int, now uint64) (*big.Int, error) {
	elapsed := new(big.Int).SetUint64(now - e.lastRewardTime)
	return fixedmath.MulInt(balance, elapsed)
}

// Entry is the exported form of a ledger row, used for snapshots.
type Entry struct {
	Account        common.Address
	LastRewardTime uint64
	Claimable      *big.Int
}

// Entries returns a copy of every ledger row.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for account, e := range l.entries {
		out = append(out, Entry{
			Account:        account,
			LastRewardTime: e.lastRewardTime,
			Claimable:      new(big.Int).Set(e.claimable),
		})
	}
	return out
}

// Restore replaces the ledger contents with the supplied rows.
func (l *Ledger) Restore(rows []Entry) {
	l.entries = make(map[common.Address]*entry, len(rows))
	for _, row := range rows {
		claimable := big.NewInt(0)
		if row.Claimable != nil {
			claimable = new(big.Int).Set(row.Claimable)
		}
		l.entries[row.Account] = &entry{
			lastRewardTime: row.LastRewardTime,
			claimable:      claimable,
		}
	}
}
