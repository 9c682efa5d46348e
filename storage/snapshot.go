package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"stabilis/native/rewards"
	"stabilis/native/stabilization"
)

var (
	// ErrNoSnapshot indicates the store holds no engine snapshot yet.
	ErrNoSnapshot = errors.New("storage: no snapshot stored")
	// ErrCorruptSnapshot indicates the stored bytes cannot be decoded.
	ErrCorruptSnapshot = errors.New("storage: corrupt snapshot")
	// ErrChecksumMismatch indicates the snapshot trailer does not match its
	// payload.
	ErrChecksumMismatch = errors.New("storage: snapshot checksum mismatch")
	// ErrValueOverflow indicates a quantity outside the 256-bit word the
	// codec serializes.
	ErrValueOverflow = errors.New("storage: value overflows snapshot word")
)

var snapshotKey = []byte("stabilization/snapshot")

// snapshotMagic versions the wire layout.
var snapshotMagic = [4]byte{'S', 'B', 'S', '1'}

const checksumSize = 32

// SaveSnapshot encodes the engine state and stores it under the snapshot
// key, with a blake3 checksum appended so a torn or tampered write is
// detected on load.
func SaveSnapshot(db Database, state *stabilization.State) error {
	encoded, err := EncodeSnapshot(state)
	if err != nil {
		return err
	}
	return db.Put(snapshotKey, encoded)
}

// LoadSnapshot retrieves and decodes the stored engine state.
func LoadSnapshot(db Database) (*stabilization.State, error) {
	ok, err := db.Has(snapshotKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSnapshot
	}
	raw, err := db.Get(snapshotKey)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(raw)
}

// EncodeSnapshot serializes the state: fixed scalar section, then one token
// section per protocol token, then the checksum trailer. Quantities are
// 256-bit big-endian words with a leading sign byte; map iteration order is
// made deterministic by sorting addresses.
func EncodeSnapshot(state *stabilization.State) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])

	scalars := []*big.Int{
		state.TargetPrice,
		state.MeltRate,
		state.CondensationRate,
		state.LastTotalStableSupply,
		state.LastError,
		state.AccumulatedError,
	}
	for _, v := range scalars {
		if err := writeWord(&buf, v); err != nil {
			return nil, err
		}
	}
	writeUint64(&buf, state.LastUpdateTime)

	pools := []*big.Int{
		state.StablePoolStable,
		state.StablePoolMeasurement,
		state.ControlPoolStable,
		state.ControlPoolControl,
	}
	for _, v := range pools {
		if err := writeWord(&buf, v); err != nil {
			return nil, err
		}
	}

	for _, tok := range []stabilization.TokenState{state.Stable, state.Measurement, state.Control} {
		if err := writeTokenState(&buf, tok); err != nil {
			return nil, err
		}
	}

	sum := blake3.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(raw []byte) (*stabilization.State, error) {
	if len(raw) < len(snapshotMagic)+checksumSize {
		return nil, ErrCorruptSnapshot
	}
	payload := raw[:len(raw)-checksumSize]
	trailer := raw[len(raw)-checksumSize:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], trailer) {
		return nil, ErrChecksumMismatch
	}
	if !bytes.Equal(payload[:len(snapshotMagic)], snapshotMagic[:]) {
		return nil, ErrCorruptSnapshot
	}

	r := &reader{buf: payload[len(snapshotMagic):]}
	state := &stabilization.State{
		TargetPrice:           r.word(),
		MeltRate:              r.word(),
		CondensationRate:      r.word(),
		LastTotalStableSupply: r.word(),
		LastError:             r.word(),
		AccumulatedError:      r.word(),
		LastUpdateTime:        r.uint64(),
		StablePoolStable:      r.word(),
		StablePoolMeasurement: r.word(),
		ControlPoolStable:     r.word(),
		ControlPoolControl:    r.word(),
	}
	state.Stable = r.tokenState()
	state.Measurement = r.tokenState()
	state.Control = r.tokenState()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, ErrCorruptSnapshot
	}
	return state, nil
}

func writeTokenState(buf *bytes.Buffer, tok stabilization.TokenState) error {
	holders := make([]common.Address, 0, len(tok.Holders))
	for addr := range tok.Holders {
		holders = append(holders, addr)
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i][:], holders[j][:]) < 0
	})

	writeUint32(buf, uint32(len(holders)))
	for _, addr := range holders {
		buf.Write(addr[:])
		if err := writeWord(buf, tok.Holders[addr]); err != nil {
			return err
		}
	}
	if err := writeWord(buf, tok.TotalSupply); err != nil {
		return err
	}

	ledger := append([]rewards.Entry(nil), tok.Ledger...)
	sort.Slice(ledger, func(i, j int) bool {
		return bytes.Compare(ledger[i].Account[:], ledger[j].Account[:]) < 0
	})
	writeUint32(buf, uint32(len(ledger)))
	for _, row := range ledger {
		buf.Write(row.Account[:])
		writeUint64(buf, row.LastRewardTime)
		if err := writeWord(buf, row.Claimable); err != nil {
			return err
		}
	}
	return nil
}

// writeWord emits a sign byte followed by the 256-bit big-endian magnitude.
func writeWord(buf *bytes.Buffer, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	magnitude, overflow := uint256.FromBig(new(big.Int).Abs(v))
	if overflow {
		return fmt.Errorf("%w: %s", ErrValueOverflow, v)
	}
	buf.WriteByte(sign)
	word := magnitude.Bytes32()
	buf.Write(word[:])
	return nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], v)
	buf.Write(word[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], v)
	buf.Write(word[:])
}

// reader decodes the payload sequentially, latching the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrCorruptSnapshot
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) word() *big.Int {
	raw := r.take(1 + 32)
	if r.err != nil {
		return nil
	}
	magnitude := new(uint256.Int).SetBytes32(raw[1:])
	v := magnitude.ToBig()
	if raw[0] == 1 {
		v.Neg(v)
	}
	return v
}

func (r *reader) uint64() uint64 {
	raw := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func (r *reader) uint32() uint32 {
	raw := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(raw)
}

func (r *reader) address() common.Address {
	raw := r.take(common.AddressLength)
	if r.err != nil {
		return common.Address{}
	}
	return common.BytesToAddress(raw)
}

func (r *reader) tokenState() stabilization.TokenState {
	tok := stabilization.TokenState{Holders: make(map[common.Address]*big.Int)}
	holderCount := r.uint32()
	for i := uint32(0); i < holderCount && r.err == nil; i++ {
		addr := r.address()
		balance := r.word()
		if r.err == nil {
			tok.Holders[addr] = balance
		}
	}
	tok.TotalSupply = r.word()
	ledgerCount := r.uint32()
	for i := uint32(0); i < ledgerCount && r.err == nil; i++ {
		row := rewards.Entry{
			Account:        r.address(),
			LastRewardTime: r.uint64(),
			Claimable:      r.word(),
		}
		if r.err == nil {
			tok.Ledger = append(tok.Ledger, row)
		}
	}
	return tok
}
