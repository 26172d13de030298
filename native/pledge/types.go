package pledge

import (
	"math/big"
)

// AnchorRecord aggregates every pledge committed to one anchor. A record with
// CreatedAtBlock == 0 does not exist.
type AnchorRecord struct {
	ID             uint64
	Label          string
	TotalPledged   *big.Int
	PledgeCount    uint64
	CreatedAtBlock uint64
	Sealed         bool
}

// Exists reports whether the record was created.
func (a *AnchorRecord) Exists() bool {
	return a != nil && a.CreatedAtBlock != 0
}

// Clone returns a deep copy of the record so callers can mutate the copy
// without touching the stored instance.
func (a *AnchorRecord) Clone() *AnchorRecord {
	if a == nil {
		return nil
	}
	clone := *a
	clone.TotalPledged = cloneBigInt(a.TotalPledged)
	return &clone
}

// AnchorRef pairs a dense anchor id with its hash key.
type AnchorRef struct {
	ID   uint64
	Hash [32]byte
}

// PledgeSlot is one entry in a depositor's append-only pledge sequence. The
// slot index inside that sequence is its permanent identifier.
type PledgeSlot struct {
	AmountWei        *big.Int
	LockedUntilBlock uint64
	AnchorID         uint64
	Claimed          bool
	PledgedAtBlock   uint64
	RecordedBy       [20]byte
}

// Clone returns a deep copy of the slot.
func (s *PledgeSlot) Clone() *PledgeSlot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.AmountWei = cloneBigInt(s.AmountWei)
	return &clone
}

// SlotStatus describes where a slot sits in its lifecycle relative to the
// current block.
type SlotStatus uint8

const (
	// SlotCreated is never reported for a committed slot; the slot moves to
	// SlotUnlocking in the same transaction that creates it.
	SlotCreated SlotStatus = iota
	SlotUnlocking
	SlotClaimable
	SlotClaimed
)

func (s SlotStatus) String() string {
	switch s {
	case SlotCreated:
		return "created"
	case SlotUnlocking:
		return "unlocking"
	case SlotClaimable:
		return "claimable"
	case SlotClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Meta holds the process-wide aggregates and genesis markers.
type Meta struct {
	NextAnchorID     uint64
	TotalAnchors     uint64
	TotalPledges     uint64
	GenesisBlock     uint64
	GenesisTimestamp uint64
	DomainID         [32]byte
}

// Config carries the parameters fixed when the ledger is created.
type Config struct {
	Admin               [20]byte
	Treasury            [20]byte
	Fallback            [20]byte
	Self                [20]byte
	VestHorizonBlocks   uint64
	HorizonGraceBlocks  uint64
	MaxPledgesPerAnchor uint64
	MinPledgeWei        *big.Int
	MaxLabelLength      int
}

const (
	DefaultVestHorizonBlocks   uint64 = 17_280
	DefaultHorizonGraceBlocks  uint64 = 64
	DefaultMaxPledgesPerAnchor uint64 = 500
	DefaultMaxLabelLength             = 64
)

// DefaultConfig returns the stock parameters with the supplied administrator.
func DefaultConfig(admin [20]byte) Config {
	return Config{
		Admin:               admin,
		VestHorizonBlocks:   DefaultVestHorizonBlocks,
		HorizonGraceBlocks:  DefaultHorizonGraceBlocks,
		MaxPledgesPerAnchor: DefaultMaxPledgesPerAnchor,
		MinPledgeWei:        big.NewInt(0),
		MaxLabelLength:      DefaultMaxLabelLength,
	}
}

func (c Config) clone() Config {
	c.MinPledgeWei = cloneBigInt(c.MinPledgeWei)
	return c
}

// StateSnapshot is the aggregate view returned by Engine.StateSnapshot.
type StateSnapshot struct {
	NextAnchorID     uint64
	TotalAnchors     uint64
	TotalPledges     uint64
	GenesisBlock     uint64
	GenesisTimestamp uint64
	DomainID         [32]byte
	CurrentBlock     uint64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
