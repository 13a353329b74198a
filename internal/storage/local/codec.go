package local

import (
	"encoding/binary"
	"fmt"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

// Fixed-width big-endian encodings shared by the on-disk backends.
//
//	meta    version(1) id(20) owner(20) state(1) fee pool held received paid nextSeq lastSeen (8 each)
//	deposit depositor(20) amount(8) deadline(8)
//	event   seq(8) kind(1) at(8) actor(20) counterparty(20) commitment(32) amount(8)
const (
	metaVersion = 1
	metaLen     = 1 + 2*ledger.AddressLen + 1 + 7*8
	depositLen  = ledger.AddressLen + 8 + 8
	eventLen    = 8 + 1 + 8 + 2*ledger.AddressLen + ledger.CommitmentLen + 8
)

var (
	keyMeta       = []byte("m")
	prefixDeposit = []byte("d/")
	prefixEvent   = []byte("e/")
)

func depositKey(c ledger.Commitment) []byte {
	return append(append([]byte{}, prefixDeposit...), c[:]...)
}

func eventKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixEvent...), seq)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte{}, p...)
	end[len(end)-1]++
	return end
}

func encodeMeta(m ledger.Meta) []byte {
	b := make([]byte, 0, metaLen)
	b = append(b, metaVersion)
	b = append(b, m.ID[:]...)
	b = append(b, m.Owner[:]...)
	b = append(b, byte(m.State))
	for _, v := range []uint64{m.Fee, m.FeePool, m.Held, m.TotalReceived, m.TotalPaid, m.NextSeq, m.LastSeen} {
		b = binary.BigEndian.AppendUint64(b, v)
	}
	return b
}

func decodeMeta(b []byte) (ledger.Meta, error) {
	var m ledger.Meta
	if len(b) != metaLen {
		return m, fmt.Errorf("meta: want %d bytes, got %d", metaLen, len(b))
	}
	if b[0] != metaVersion {
		return m, fmt.Errorf("meta: unsupported version %d", b[0])
	}
	b = b[1:]
	copy(m.ID[:], b)
	b = b[ledger.AddressLen:]
	copy(m.Owner[:], b)
	b = b[ledger.AddressLen:]
	m.State = ledger.State(b[0])
	b = b[1:]
	for _, v := range []*uint64{&m.Fee, &m.FeePool, &m.Held, &m.TotalReceived, &m.TotalPaid, &m.NextSeq, &m.LastSeen} {
		*v = binary.BigEndian.Uint64(b)
		b = b[8:]
	}
	return m, nil
}

func encodeDeposit(d ledger.Deposit) []byte {
	b := make([]byte, 0, depositLen)
	b = append(b, d.Depositor[:]...)
	b = binary.BigEndian.AppendUint64(b, d.Amount)
	return binary.BigEndian.AppendUint64(b, d.Deadline)
}

func decodeDeposit(b []byte) (ledger.Deposit, error) {
	var d ledger.Deposit
	if len(b) != depositLen {
		return d, fmt.Errorf("deposit: want %d bytes, got %d", depositLen, len(b))
	}
	copy(d.Depositor[:], b)
	d.Amount = binary.BigEndian.Uint64(b[ledger.AddressLen:])
	d.Deadline = binary.BigEndian.Uint64(b[ledger.AddressLen+8:])
	return d, nil
}

func encodeEvent(e ledger.Event) []byte {
	b := make([]byte, 0, eventLen)
	b = binary.BigEndian.AppendUint64(b, e.Seq)
	b = append(b, byte(e.Kind))
	b = binary.BigEndian.AppendUint64(b, e.At)
	b = append(b, e.Actor[:]...)
	b = append(b, e.Counterparty[:]...)
	b = append(b, e.Commitment[:]...)
	return binary.BigEndian.AppendUint64(b, e.Amount)
}

func decodeEvent(b []byte) (ledger.Event, error) {
	var e ledger.Event
	if len(b) != eventLen {
		return e, fmt.Errorf("event: want %d bytes, got %d", eventLen, len(b))
	}
	e.Seq = binary.BigEndian.Uint64(b)
	e.Kind = ledger.EventKind(b[8])
	e.At = binary.BigEndian.Uint64(b[9:])
	b = b[17:]
	copy(e.Actor[:], b)
	b = b[ledger.AddressLen:]
	copy(e.Counterparty[:], b)
	b = b[ledger.AddressLen:]
	copy(e.Commitment[:], b)
	b = b[ledger.CommitmentLen:]
	e.Amount = binary.BigEndian.Uint64(b)
	return e, nil
}
