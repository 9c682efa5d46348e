package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stabilis/native/rewards"
	"stabilis/native/stabilization"
)

func sampleState() *stabilization.State {
	alice := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	return &stabilization.State{
		TargetPrice:           new(big.Int).Mul(big.NewInt(25), big.NewInt(1_000_000_000_000_000_000)),
		MeltRate:              big.NewInt(1_000_000_000_000_000_000),
		CondensationRate:      big.NewInt(0),
		LastTotalStableSupply: big.NewInt(1_500_000),
		LastError:             big.NewInt(-3),
		AccumulatedError:      big.NewInt(-120),
		LastUpdateTime:        1_700_000_000,
		StablePoolStable:      big.NewInt(1_000_000),
		StablePoolMeasurement: big.NewInt(40_000),
		ControlPoolStable:     big.NewInt(500_000),
		ControlPoolControl:    big.NewInt(20_000),
		Stable: stabilization.TokenState{
			Holders:     map[common.Address]*big.Int{alice: big.NewInt(700), bob: big.NewInt(300)},
			TotalSupply: big.NewInt(1000),
		},
		Measurement: stabilization.TokenState{
			Holders:     map[common.Address]*big.Int{alice: big.NewInt(100)},
			TotalSupply: big.NewInt(100),
			Ledger: []rewards.Entry{
				{Account: alice, LastRewardTime: 1_699_999_000, Claimable: big.NewInt(360_000)},
			},
		},
		Control: stabilization.TokenState{
			Holders:     map[common.Address]*big.Int{},
			TotalSupply: big.NewInt(0),
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := NewMemDB()
	want := sampleState()
	require.NoError(t, SaveSnapshot(db, want))

	got, err := LoadSnapshot(db)
	require.NoError(t, err)

	require.Zero(t, got.TargetPrice.Cmp(want.TargetPrice), "target price")
	require.Zero(t, got.LastError.Cmp(want.LastError), "last error sign must survive")
	require.Zero(t, got.AccumulatedError.Cmp(want.AccumulatedError), "accumulated error")
	require.Equal(t, want.LastUpdateTime, got.LastUpdateTime)
	require.Zero(t, got.StablePoolMeasurement.Cmp(want.StablePoolMeasurement))

	require.Len(t, got.Stable.Holders, 2)
	for addr, balance := range want.Stable.Holders {
		require.NotNil(t, got.Stable.Holders[addr], addr.Hex())
		require.Zero(t, got.Stable.Holders[addr].Cmp(balance), addr.Hex())
	}

	require.Len(t, got.Measurement.Ledger, 1)
	row := got.Measurement.Ledger[0]
	require.Equal(t, uint64(1_699_999_000), row.LastRewardTime)
	require.Zero(t, row.Claimable.Cmp(big.NewInt(360_000)))

	require.Zero(t, got.Control.TotalSupply.Sign(), "control token supply")
	require.Empty(t, got.Control.Holders)
}

func TestSnapshotEncodingDeterministic(t *testing.T) {
	first, err := EncodeSnapshot(sampleState())
	require.NoError(t, err)
	second, err := EncodeSnapshot(sampleState())
	require.NoError(t, err)
	require.Equal(t, first, second, "identical states must encode to identical bytes")
}

func TestLoadSnapshotMissing(t *testing.T) {
	_, err := LoadSnapshot(NewMemDB())
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLoadSnapshotChecksumMismatch(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, SaveSnapshot(db, sampleState()))

	raw, err := db.Get(snapshotKey)
	require.NoError(t, err)
	raw[10] ^= 0xff
	require.NoError(t, db.Put(snapshotKey, raw))

	_, err = LoadSnapshot(db)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeSnapshotTruncated(t *testing.T) {
	_, err := DecodeSnapshot([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}
