package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"anchorledger/core/types"
	"anchorledger/crypto"
)

const (
	TypeAnchorCreated     = "anchor.created"
	TypeAnchorSealed      = "anchor.sealed"
	TypePledgeRecorded    = "pledge.recorded"
	TypePledgeHorizonSet  = "pledge.horizon_set"
	TypePledgeClaimed     = "pledge.claimed"
	TypeFallbackForwarded = "fallback.forwarded"
	TypeTreasurySwept     = "treasury.swept"
	TypeClaimRolledBack   = "pledge.claim_rolled_back"
)

type AnchorCreated struct {
	ID           uint64
	Hash         [32]byte
	Label        string
	TotalPledged *big.Int
	PledgeCount  uint64
	Block        uint64
}

func (AnchorCreated) EventType() string { return TypeAnchorCreated }

func (e AnchorCreated) Event() *types.Event {
	return &types.Event{
		Type:  TypeAnchorCreated,
		Block: e.Block,
		Attributes: map[string]string{
			"anchorId":     uintToString(e.ID),
			"anchorHash":   hex.EncodeToString(e.Hash[:]),
			"label":        e.Label,
			"totalPledged": formatAmount(e.TotalPledged),
			"pledgeCount":  uintToString(e.PledgeCount),
		},
	}
}

type AnchorSealed struct {
	ID           uint64
	Hash         [32]byte
	TotalPledged *big.Int
	PledgeCount  uint64
	Block        uint64
}

func (AnchorSealed) EventType() string { return TypeAnchorSealed }

func (e AnchorSealed) Event() *types.Event {
	return &types.Event{
		Type:  TypeAnchorSealed,
		Block: e.Block,
		Attributes: map[string]string{
			"anchorId":     uintToString(e.ID),
			"anchorHash":   hex.EncodeToString(e.Hash[:]),
			"totalPledged": formatAmount(e.TotalPledged),
			"pledgeCount":  uintToString(e.PledgeCount),
		},
	}
}

// PledgeRecorded is emitted for both depositor-funded and administrator
// recorded pledges; Recorded distinguishes the two.
type PledgeRecorded struct {
	Depositor  [20]byte
	Index      uint64
	AnchorID   uint64
	AnchorHash [32]byte
	Amount     *big.Int
	Recorded   bool
	Block      uint64
}

func (PledgeRecorded) EventType() string { return TypePledgeRecorded }

func (e PledgeRecorded) Event() *types.Event {
	return &types.Event{
		Type:  TypePledgeRecorded,
		Block: e.Block,
		Attributes: map[string]string{
			"depositor":  crypto.FromRaw(e.Depositor).String(),
			"index":      uintToString(e.Index),
			"anchorId":   uintToString(e.AnchorID),
			"anchorHash": hex.EncodeToString(e.AnchorHash[:]),
			"amount":     formatAmount(e.Amount),
			"recorded":   strconv.FormatBool(e.Recorded),
		},
	}
}

type PledgeHorizonSet struct {
	Depositor        [20]byte
	Index            uint64
	LockedUntilBlock uint64
	ClaimableAt      uint64
	Block            uint64
}

func (PledgeHorizonSet) EventType() string { return TypePledgeHorizonSet }

func (e PledgeHorizonSet) Event() *types.Event {
	return &types.Event{
		Type:  TypePledgeHorizonSet,
		Block: e.Block,
		Attributes: map[string]string{
			"depositor":        crypto.FromRaw(e.Depositor).String(),
			"index":            uintToString(e.Index),
			"lockedUntilBlock": uintToString(e.LockedUntilBlock),
			"claimableAt":      uintToString(e.ClaimableAt),
		},
	}
}

type PledgeClaimed struct {
	Depositor [20]byte
	Index     uint64
	AnchorID  uint64
	Amount    *big.Int
	Block     uint64
}

func (PledgeClaimed) EventType() string { return TypePledgeClaimed }

func (e PledgeClaimed) Event() *types.Event {
	return &types.Event{
		Type:  TypePledgeClaimed,
		Block: e.Block,
		Attributes: map[string]string{
			"depositor": crypto.FromRaw(e.Depositor).String(),
			"index":     uintToString(e.Index),
			"anchorId":  uintToString(e.AnchorID),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// ClaimRolledBack follows a PledgeClaimed event whose transfer failed.
type ClaimRolledBack struct {
	Depositor [20]byte
	Index     uint64
	Amount    *big.Int
	Reason    string
	Block     uint64
}

func (ClaimRolledBack) EventType() string { return TypeClaimRolledBack }

func (e ClaimRolledBack) Event() *types.Event {
	return &types.Event{
		Type:  TypeClaimRolledBack,
		Block: e.Block,
		Attributes: map[string]string{
			"depositor": crypto.FromRaw(e.Depositor).String(),
			"index":     uintToString(e.Index),
			"amount":    formatAmount(e.Amount),
			"reason":    e.Reason,
		},
	}
}

type FallbackForwarded struct {
	To     [20]byte
	Amount *big.Int
	Block  uint64
}

func (FallbackForwarded) EventType() string { return TypeFallbackForwarded }

func (e FallbackForwarded) Event() *types.Event {
	return &types.Event{
		Type:  TypeFallbackForwarded,
		Block: e.Block,
		Attributes: map[string]string{
			"to":     crypto.FromRaw(e.To).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type TreasurySwept struct {
	To     [20]byte
	Amount *big.Int
	Block  uint64
}

func (TreasurySwept) EventType() string { return TypeTreasurySwept }

func (e TreasurySwept) Event() *types.Event {
	return &types.Event{
		Type:  TypeTreasurySwept,
		Block: e.Block,
		Attributes: map[string]string{
			"to":     crypto.FromRaw(e.To).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
