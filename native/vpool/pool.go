package vpool

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stabilis/native/fixedmath"
)

var (
	// ErrNotOwner indicates a restricted pool mutation attempted by a caller
	// other than the owning controller.
	ErrNotOwner = errors.New("vpool: caller does not own the pool")
	// ErrInsufficientBalance indicates the requester's input-token balance is
	// below the requested swap amount.
	ErrInsufficientBalance = errors.New("vpool: insufficient balance for swap")
	// ErrPoolExhausted indicates the swap output would not be strictly
	// smaller than the destination pool size.
	ErrPoolExhausted = errors.New("vpool: swap would exhaust pool")
	// ErrReentrantSwap indicates a swap started while another swap on the
	// same pool was still in progress.
	ErrReentrantSwap = errors.New("vpool: reentrant swap")
	// ErrInvalidAmount indicates a negative swap amount.
	ErrInvalidAmount = errors.New("vpool: amount must not be negative")
	// ErrInvalidSize indicates an initial, scaled or repriced pool size that
	// is not strictly positive.
	ErrInvalidSize = errors.New("vpool: pool sizes must be strictly positive")
)

// Backend is the token surface the pool swaps against. Swaps are realized by
// burning the input token and minting the output token; the pool holds no
// real reserves.
type Backend interface {
	Symbol() string
	BalanceOf(account common.Address) *big.Int
	Mint(caller, to common.Address, amount *big.Int, now uint64) error
	Burn(caller, from common.Address, amount *big.Int, now uint64) error
}

// Pool simulates a two-sided constant-product exchange between tokens A and
// B. Both sizes stay strictly positive for the pool's whole lifetime; prices
// are pure ratios of the two sides. Restricted mutations (repricing, scaling)
// are only accepted from the owning controller's module address, which is
// also the caller the pool presents to the token mint/burn interface.
type Pool struct {
	owner  common.Address
	tokenA Backend
	tokenB Backend
	sizeA  *big.Int
	sizeB  *big.Int
	inSwap bool
}

// New constructs a pool with the given initial sizes, both strictly positive.
func New(owner common.Address, tokenA, tokenB Backend, sizeA, sizeB *big.Int) (*Pool, error) {
	if sizeA.Sign() <= 0 || sizeB.Sign() <= 0 {
		return nil, ErrInvalidSize
	}
	return &Pool{
		owner:  owner,
		tokenA: tokenA,
		tokenB: tokenB,
		sizeA:  new(big.Int).Set(sizeA),
		sizeB:  new(big.Int).Set(sizeB),
	}, nil
}

// SizeA returns the current A-side size.
func (p *Pool) SizeA() *big.Int { return new(big.Int).Set(p.sizeA) }

// SizeB returns the current B-side size.
func (p *Pool) SizeB() *big.Int { return new(big.Int).Set(p.sizeB) }

// PriceOfA returns sizeB/sizeA as a fixed-point ratio.
func (p *Pool) PriceOfA() (*big.Int, error) {
	return fixedmath.Div(p.sizeB, p.sizeA)
}

// PriceOfB returns sizeA/sizeB as a fixed-point ratio.
func (p *Pool) PriceOfB() (*big.Int, error) {
	return fixedmath.Div(p.sizeA, p.sizeB)
}

// SetPriceOfA adjusts the B side so that sizeB/sizeA matches price, holding
// the A side fixed. Owner only.
func (p *Pool) SetPriceOfA(caller common.Address, price *big.Int) error {
	if caller != p.owner {
		return ErrNotOwner
	}
	next, err := fixedmath.Mul(price, p.sizeA)
	if err != nil {
		return err
	}
	if next.Sign() <= 0 {
		return ErrInvalidSize
	}
	p.sizeB = next
	return nil
}

// SetPriceOfB adjusts the A side so that sizeA/sizeB matches price, holding
// the B side fixed. Owner only.
func (p *Pool) SetPriceOfB(caller common.Address, price *big.Int) error {
	if caller != p.owner {
		return ErrNotOwner
	}
	next, err := fixedmath.Mul(price, p.sizeB)
	if err != nil {
		return err
	}
	if next.Sign() <= 0 {
		return ErrInvalidSize
	}
	p.sizeA = next
	return nil
}

// Scale multiplies both sides by factor, tracking external supply changes.
// Owner only.
func (p *Pool) Scale(caller common.Address, factor *big.Int) error {
	if caller != p.owner {
		return ErrNotOwner
	}
	nextA, err := fixedmath.Mul(p.sizeA, factor)
	if err != nil {
		return err
	}
	nextB, err := fixedmath.Mul(p.sizeB, factor)
	if err != nil {
		return err
	}
	if nextA.Sign() <= 0 || nextB.Sign() <= 0 {
		return ErrInvalidSize
	}
	p.sizeA = nextA
	p.sizeB = nextB
	return nil
}

// PreviewSwap computes the constant-product output for amountIn:
// toSize * amountIn / (fromSize + amountIn).
func PreviewSwap(fromSize, toSize, amountIn *big.Int) (*big.Int, error) {
	denom := new(big.Int).Add(fromSize, amountIn)
	return fixedmath.MulDiv(toSize, amountIn, denom)
}

// SwapAForB burns amountIn of token A from the requester, mints the
// constant-product output of token B, and updates both sizes.
func (p *Pool) SwapAForB(requester common.Address, amountIn *big.Int, now uint64) (*big.Int, error) {
	return p.swap(p.tokenA, p.tokenB, p.sizeA, p.sizeB, requester, amountIn, now)
}

// SwapBForA burns amountIn of token B from the requester, mints the
// constant-product output of token A, and updates both sizes.
func (p *Pool) SwapBForA(requester common.Address, amountIn *big.Int, now uint64) (*big.Int, error) {
	return p.swap(p.tokenB, p.tokenA, p.sizeB, p.sizeA, requester, amountIn, now)
}

// swap validates, settles the token legs, then updates the pool sizes. The
// size mutation happens strictly after the external mint/burn calls; the
// in-progress flag rejects any swap that re-enters through those calls.
func (p *Pool) swap(from, to Backend, fromSize, toSize *big.Int, requester common.Address, amountIn *big.Int, now uint64) (*big.Int, error) {
	if p.inSwap {
		return nil, ErrReentrantSwap
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if from.BalanceOf(requester).Cmp(amountIn) < 0 {
		return nil, ErrInsufficientBalance
	}
	amountOut, err := PreviewSwap(fromSize, toSize, amountIn)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(toSize) >= 0 {
		return nil, ErrPoolExhausted
	}

	p.inSwap = true
	defer func() { p.inSwap = false }()

	if err := from.Burn(p.owner, requester, amountIn, now); err != nil {
		return nil, err
	}
	if err := to.Mint(p.owner, requester, amountOut, now); err != nil {
		return nil, err
	}
	fromSize.Add(fromSize, amountIn)
	toSize.Sub(toSize, amountOut)
	return amountOut, nil
}

// Restore overwrites both sizes from a snapshot. Owner only.
func (p *Pool) Restore(caller common.Address, sizeA, sizeB *big.Int) error {
	if caller != p.owner {
		return ErrNotOwner
	}
	if sizeA.Sign() <= 0 || sizeB.Sign() <= 0 {
		return ErrInvalidSize
	}
	p.sizeA = new(big.Int).Set(sizeA)
	p.sizeB = new(big.Int).Set(sizeB)
	return nil
}
