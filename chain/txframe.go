package chain

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/dmc-network/dsg-miner/types"
)

// Writer accumulates a transaction body in EOSIO's compact tagged-binary
// encoding: little-endian fixed-width integers, length-prefixed byte
// strings, and var-ints for counts, per spec.md §6.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteUint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteVarUint writes v as an unsigned LEB128 var-int, EOSIO's encoding
// for counts (array lengths, max_net_usage_words, delay_sec).
func (w *Writer) WriteVarUint(v uint64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteBytes writes a var-int length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteVarUint(uint64(len(b)))
	w.buf.Write(b)
}

// WriteName writes a chain account/permission name, packed per NameEncode.
func (w *Writer) WriteName(name string) error {
	v, err := NameEncode(name)
	if err != nil {
		return err
	}
	w.WriteUint64(v)
	return nil
}

// PermissionLevel is one {actor, permission} pair in an Action's auths.
type PermissionLevel struct {
	Actor      string
	Permission string
}

// Action is one signed action within a transaction, per spec.md §6:
// {account, name, auths, data}.
type Action struct {
	Account string
	Name    string
	Auths   []PermissionLevel
	Data    []byte
}

func (a Action) encode(w *Writer) error {
	if err := w.WriteName(a.Account); err != nil {
		return err
	}
	if err := w.WriteName(a.Name); err != nil {
		return err
	}
	w.WriteVarUint(uint64(len(a.Auths)))
	for _, auth := range a.Auths {
		if err := w.WriteName(auth.Actor); err != nil {
			return err
		}
		if err := w.WriteName(auth.Permission); err != nil {
			return err
		}
	}
	w.WriteBytes(a.Data)
	return nil
}

// Transaction is the transaction-header framing of spec.md §6:
// {expiration, ref_block_num, ref_block_prefix, max_net_usage_words,
// max_cpu_usage_ms, delay_sec, ctx_free_actions, actions, extensions}.
type Transaction struct {
	Expiration       time.Time
	RefBlockNum      uint16
	RefBlockPrefix   uint32
	MaxNetUsageWords uint64
	MaxCPUUsageMS    uint8
	DelaySec         uint64
	CtxFreeActions   []Action
	Actions          []Action
}

// Encode serializes the transaction body per spec.md §6's byte layout.
func (t Transaction) Encode() ([]byte, error) {
	w := NewWriter()
	w.WriteUint32(uint32(t.Expiration.Unix()))
	w.WriteUint16(t.RefBlockNum)
	w.WriteUint32(t.RefBlockPrefix)
	w.WriteVarUint(t.MaxNetUsageWords)
	w.WriteUint8(t.MaxCPUUsageMS)
	w.WriteVarUint(t.DelaySec)

	w.WriteVarUint(uint64(len(t.CtxFreeActions)))
	for _, a := range t.CtxFreeActions {
		if err := a.encode(w); err != nil {
			return nil, err
		}
	}
	w.WriteVarUint(uint64(len(t.Actions)))
	for _, a := range t.Actions {
		if err := a.encode(w); err != nil {
			return nil, err
		}
	}
	w.WriteVarUint(0) // transaction_extensions, always empty for this system
	return w.Bytes(), nil
}

// RefBlockFields computes ref_block_num and ref_block_prefix from a
// recent block id, per spec.md §4.4's note that transactions "embed a
// ref_block_num and ref_block_prefix computed from a recent block id".
func RefBlockFields(blockID []byte) (refBlockNum uint16, refBlockPrefix uint32, err error) {
	if len(blockID) < 16 {
		return 0, 0, types.NewError(types.InvalidInput, errShortBlockID)
	}
	refBlockNum = binary.BigEndian.Uint16(blockID[2:4])
	refBlockPrefix = binary.LittleEndian.Uint32(blockID[8:12])
	return refBlockNum, refBlockPrefix, nil
}
