package rewards

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var holder = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func Test_Accrue_FirstObservationAccruesNothing(t *testing.T) {
	ledger := NewLedger()
	delta, total, err := ledger.Accrue(holder, big.NewInt(500), 1_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta.Sign() != 0 || total.Sign() != 0 {
		t.Fatalf("first accrual must be zero, got delta=%s total=%s", delta, total)
	}
}

func Test_Accrue_TimeWeightedByPriorBalance(t *testing.T) {
	ledger := NewLedger()
	if _, _, err := ledger.Accrue(holder, big.NewInt(0), 0); err != nil {
		t.Fatalf("seed accrual: %v", err)
	}

	// Balance 100 held for 3600 seconds earns 360000 token-seconds.
	delta, total, err := ledger.Accrue(holder, big.NewInt(100), 3_600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := big.NewInt(360_000)
	if delta.Cmp(want) != 0 || total.Cmp(want) != 0 {
		t.Fatalf("unexpected accrual: delta=%s total=%s want %s", delta, total, want)
	}
}

func Test_Accrue_AdditiveOverAdjacentIntervals(t *testing.T) {
	split := NewLedger()
	whole := NewLedger()
	balance := big.NewInt(250)

	if _, _, err := split.Accrue(holder, balance, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := whole.Accrue(holder, balance, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := split.Accrue(holder, balance, 160); err != nil {
		t.Fatalf("mid accrual: %v", err)
	}
	_, splitTotal, err := split.Accrue(holder, balance, 300)
	if err != nil {
		t.Fatalf("final accrual: %v", err)
	}
	_, wholeTotal, err := whole.Accrue(holder, balance, 300)
	if err != nil {
		t.Fatalf("whole accrual: %v", err)
	}
	if splitTotal.Cmp(wholeTotal) != 0 {
		t.Fatalf("accrual not additive: split=%s whole=%s", splitTotal, wholeTotal)
	}
}

func Test_Claimable_PureProjection(t *testing.T) {
	ledger := NewLedger()
	if _, _, err := ledger.Accrue(holder, big.NewInt(0), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := ledger.Claimable(holder, big.NewInt(10), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected projection: %s", first)
	}
	// Projection must not move the accrual clock.
	second, err := ledger.Claimable(holder, big.NewInt(10), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Cmp(first) != 0 {
		t.Fatalf("projection mutated state: %s vs %s", second, first)
	}
	// Zero-second advance changes nothing.
	zero, err := ledger.Claimable(holder, big.NewInt(10), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zero.Cmp(first) != 0 {
		t.Fatalf("zero advance changed projection: %s", zero)
	}
}

func Test_Claim_ResetsAndReturns(t *testing.T) {
	ledger := NewLedger()
	if _, _, err := ledger.Accrue(holder, big.NewInt(0), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	claimed, err := ledger.Claim(holder, big.NewInt(100), 3_600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.Cmp(big.NewInt(360_000)) != 0 {
		t.Fatalf("unexpected claim: %s", claimed)
	}
	after, err := ledger.Claimable(holder, big.NewInt(100), 3_600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Sign() != 0 {
		t.Fatalf("claimable not reset: %s", after)
	}
	// The entry survives the claim and keeps accruing.
	later, err := ledger.Claimable(holder, big.NewInt(100), 3_700)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if later.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("accrual after claim mismatch: %s", later)
	}
}

func Test_Accrue_RejectsReversedClock(t *testing.T) {
	ledger := NewLedger()
	if _, _, err := ledger.Accrue(holder, big.NewInt(0), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := ledger.Accrue(holder, big.NewInt(1), 99); err != ErrClockRegression {
		t.Fatalf("expected ErrClockRegression, got %v", err)
	}
}

func Test_EntriesRestore_RoundTrip(t *testing.T) {
	ledger := NewLedger()
	if _, _, err := ledger.Accrue(holder, big.NewInt(0), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := ledger.Accrue(holder, big.NewInt(7), 10); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	restored := NewLedger()
	restored.Restore(ledger.Entries())
	got, err := restored.Claimable(holder, big.NewInt(7), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("restored claimable mismatch: %s", got)
	}
}
