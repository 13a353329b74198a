package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the byte width of an identity.
const AddressLen = 20

// Address identifies a party: owner, depositor, releaser or the ledger itself.
// The zero value is the null identity.
type Address [AddressLen]byte

// ParseAddress decodes a hex address, with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := decodeHex(s)
	if err != nil {
		return a, fmt.Errorf("address %q: %w", s, err)
	}
	if len(b) != AddressLen {
		return a, fmt.Errorf("address %q: want %d bytes, got %d", s, AddressLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// IsZero reports whether a is the null identity.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CommitmentLen is the byte width of a commitment hash.
const CommitmentLen = 32

// Commitment is the lookup key and authorization proof for a deposit.
type Commitment [CommitmentLen]byte

// ParseCommitment decodes a hex commitment, with or without the 0x prefix.
func ParseCommitment(s string) (Commitment, error) {
	var c Commitment
	b, err := decodeHex(s)
	if err != nil {
		return c, fmt.Errorf("commitment %q: %w", s, err)
	}
	if len(b) != CommitmentLen {
		return c, fmt.Errorf("commitment %q: want %d bytes, got %d", s, CommitmentLen, len(b))
	}
	copy(c[:], b)
	return c, nil
}

func (c Commitment) String() string { return "0x" + hex.EncodeToString(c[:]) }

func (c Commitment) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Commitment) UnmarshalText(b []byte) error {
	parsed, err := ParseCommitment(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// State is the administrative lifecycle of a ledger.
type State uint8

const (
	StateActive State = iota
	StatePaused
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Deposit is the record stored under a commitment.
// A zero Amount means the deposit was released, reclaimed or swept.
type Deposit struct {
	Depositor Address `json:"depositor"`
	Amount    uint64  `json:"amount"`
	Deadline  uint64  `json:"deadline"` // absolute unix seconds
}

// Open reports whether the deposit still holds funds.
func (d Deposit) Open() bool { return d.Amount > 0 }

// EventKind tags an entry in the append-only event log.
type EventKind uint8

const (
	EventNewRemittance EventKind = iota + 1
	EventFundsReleased
	EventFundsReclaimed
	EventOwnershipTransferred
	EventPaused
	EventResumed
	EventKilled
	EventFeesWithdrawn
	EventAccountEmptied
)

func (k EventKind) String() string {
	switch k {
	case EventNewRemittance:
		return "NewRemittance"
	case EventFundsReleased:
		return "FundsReleased"
	case EventFundsReclaimed:
		return "FundsReclaimed"
	case EventOwnershipTransferred:
		return "OwnershipTransferred"
	case EventPaused:
		return "Paused"
	case EventResumed:
		return "Resumed"
	case EventKilled:
		return "Killed"
	case EventFeesWithdrawn:
		return "FeesWithdrawn"
	case EventAccountEmptied:
		return "AccountEmptied"
	default:
		return "Unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is an append-only record for external observers.
// Counterparty holds the new owner for OwnershipTransferred and the
// destination for AccountEmptied.
type Event struct {
	Seq          uint64     `json:"seq"`
	Kind         EventKind  `json:"kind"`
	At           uint64     `json:"at"`
	Actor        Address    `json:"actor"`
	Counterparty Address    `json:"counterparty"`
	Commitment   Commitment `json:"commitment"`
	Amount       uint64     `json:"amount"`
}

// Meta holds every persisted scalar of a ledger.
type Meta struct {
	ID            Address
	Owner         Address
	State         State
	Fee           uint64
	FeePool       uint64
	Held          uint64 // value currently held: open deposits + fee pool
	TotalReceived uint64
	TotalPaid     uint64
	NextSeq       uint64
	LastSeen      uint64 // highest time observed, keeps the clock monotonic
}

// Snapshot is the full persisted state loaded at startup.
type Snapshot struct {
	Meta     Meta
	Deposits map[Commitment]Deposit
}

// Batch is one atomic write to the store.
type Batch struct {
	Meta       Meta
	Deposits   map[Commitment]Deposit
	Events     []Event
	DropEvents []uint64 // sequence numbers removed by a compensating batch
}

// Status is a read-only summary of the ledger.
type Status struct {
	ID           Address `json:"id"`
	Owner        Address `json:"owner"`
	State        State   `json:"state"`
	Fee          uint64  `json:"fee"`
	FeePool      uint64  `json:"feePool"`
	Held         uint64  `json:"held"`
	OpenDeposits int     `json:"openDeposits"`
}
