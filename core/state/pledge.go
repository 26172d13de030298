package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"anchorledger/native/pledge"
)

var (
	pledgeMetaKeyBytes     = []byte("pledge/meta")
	pledgeAnchorPrefix     = []byte("pledge/anchor/")
	pledgeAnchorIDPrefix   = []byte("pledge/anchor-id/")
	pledgeSlotCountPrefix  = []byte("pledge/slots/")
	pledgeSlotRecordPrefix = []byte("pledge/slot/")
)

func pledgeAnchorKey(hash [32]byte) []byte {
	buf := make([]byte, len(pledgeAnchorPrefix)+len(hash))
	copy(buf, pledgeAnchorPrefix)
	copy(buf[len(pledgeAnchorPrefix):], hash[:])
	return buf
}

func pledgeAnchorIDKey(id uint64) []byte {
	buf := make([]byte, len(pledgeAnchorIDPrefix)+8)
	copy(buf, pledgeAnchorIDPrefix)
	binary.BigEndian.PutUint64(buf[len(pledgeAnchorIDPrefix):], id)
	return buf
}

func pledgeSlotCountKey(depositor [20]byte) []byte {
	buf := make([]byte, len(pledgeSlotCountPrefix)+len(depositor))
	copy(buf, pledgeSlotCountPrefix)
	copy(buf[len(pledgeSlotCountPrefix):], depositor[:])
	return buf
}

func pledgeSlotKey(depositor [20]byte, index uint64) []byte {
	buf := make([]byte, len(pledgeSlotRecordPrefix)+len(depositor)+8)
	copy(buf, pledgeSlotRecordPrefix)
	copy(buf[len(pledgeSlotRecordPrefix):], depositor[:])
	binary.BigEndian.PutUint64(buf[len(pledgeSlotRecordPrefix)+len(depositor):], index)
	return buf
}

type storedPledgeMeta struct {
	NextAnchorID     uint64
	TotalAnchors     uint64
	TotalPledges     uint64
	GenesisBlock     uint64
	GenesisTimestamp uint64
	DomainID         [32]byte
}

type storedAnchor struct {
	ID             uint64
	Label          string
	TotalPledged   *big.Int
	PledgeCount    uint64
	CreatedAtBlock uint64
	Sealed         bool
}

func newStoredAnchor(rec *pledge.AnchorRecord) *storedAnchor {
	total := big.NewInt(0)
	if rec.TotalPledged != nil {
		total = new(big.Int).Set(rec.TotalPledged)
	}
	return &storedAnchor{
		ID:             rec.ID,
		Label:          rec.Label,
		TotalPledged:   total,
		PledgeCount:    rec.PledgeCount,
		CreatedAtBlock: rec.CreatedAtBlock,
		Sealed:         rec.Sealed,
	}
}

func (s *storedAnchor) toRecord() *pledge.AnchorRecord {
	total := big.NewInt(0)
	if s.TotalPledged != nil {
		total = new(big.Int).Set(s.TotalPledged)
	}
	return &pledge.AnchorRecord{
		ID:             s.ID,
		Label:          s.Label,
		TotalPledged:   total,
		PledgeCount:    s.PledgeCount,
		CreatedAtBlock: s.CreatedAtBlock,
		Sealed:         s.Sealed,
	}
}

type storedSlot struct {
	AmountWei        *big.Int
	LockedUntilBlock uint64
	AnchorID         uint64
	Claimed          bool
	PledgedAtBlock   uint64
	RecordedBy       [20]byte
}

func newStoredSlot(slot *pledge.PledgeSlot) *storedSlot {
	amount := big.NewInt(0)
	if slot.AmountWei != nil {
		amount = new(big.Int).Set(slot.AmountWei)
	}
	return &storedSlot{
		AmountWei:        amount,
		LockedUntilBlock: slot.LockedUntilBlock,
		AnchorID:         slot.AnchorID,
		Claimed:          slot.Claimed,
		PledgedAtBlock:   slot.PledgedAtBlock,
		RecordedBy:       slot.RecordedBy,
	}
}

func (s *storedSlot) toSlot() *pledge.PledgeSlot {
	amount := big.NewInt(0)
	if s.AmountWei != nil {
		amount = new(big.Int).Set(s.AmountWei)
	}
	return &pledge.PledgeSlot{
		AmountWei:        amount,
		LockedUntilBlock: s.LockedUntilBlock,
		AnchorID:         s.AnchorID,
		Claimed:          s.Claimed,
		PledgedAtBlock:   s.PledgedAtBlock,
		RecordedBy:       s.RecordedBy,
	}
}

// PledgeMetaGet loads the ledger aggregates and genesis markers.
func (m *Manager) PledgeMetaGet() (*pledge.Meta, bool, error) {
	var stored storedPledgeMeta
	ok, err := m.KVGet(pledgeMetaKeyBytes, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	meta := pledge.Meta(stored)
	return &meta, true, nil
}

// PledgeMetaPut stores the ledger aggregates and genesis markers.
func (m *Manager) PledgeMetaPut(meta *pledge.Meta) error {
	if meta == nil {
		return fmt.Errorf("pledge meta: nil record")
	}
	stored := storedPledgeMeta(*meta)
	return m.KVPut(pledgeMetaKeyBytes, &stored)
}

// PledgeAnchorGet loads the anchor stored under hash.
func (m *Manager) PledgeAnchorGet(hash [32]byte) (*pledge.AnchorRecord, bool, error) {
	var stored storedAnchor
	ok, err := m.KVGet(pledgeAnchorKey(hash), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toRecord(), true, nil
}

// PledgeAnchorPut stores rec under hash.
func (m *Manager) PledgeAnchorPut(hash [32]byte, rec *pledge.AnchorRecord) error {
	if rec == nil {
		return fmt.Errorf("pledge anchor: nil record")
	}
	return m.KVPut(pledgeAnchorKey(hash), newStoredAnchor(rec))
}

// PledgeAnchorHash resolves a dense anchor id to its hash.
func (m *Manager) PledgeAnchorHash(id uint64) ([32]byte, bool, error) {
	var hash [32]byte
	ok, err := m.KVGet(pledgeAnchorIDKey(id), &hash)
	if err != nil || !ok {
		return [32]byte{}, ok, err
	}
	return hash, true, nil
}

// PledgeAnchorIndexPut records the id->hash mapping.
func (m *Manager) PledgeAnchorIndexPut(id uint64, hash [32]byte) error {
	return m.KVPut(pledgeAnchorIDKey(id), hash)
}

// PledgeSlotCount returns the length of the depositor's slot sequence.
func (m *Manager) PledgeSlotCount(depositor [20]byte) (uint64, error) {
	var count uint64
	if _, err := m.KVGet(pledgeSlotCountKey(depositor), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// PledgeSlotCountPut stores the length of the depositor's slot sequence.
func (m *Manager) PledgeSlotCountPut(depositor [20]byte, count uint64) error {
	return m.KVPut(pledgeSlotCountKey(depositor), count)
}

// PledgeSlotGet loads the depositor's slot at index.
func (m *Manager) PledgeSlotGet(depositor [20]byte, index uint64) (*pledge.PledgeSlot, bool, error) {
	var stored storedSlot
	ok, err := m.KVGet(pledgeSlotKey(depositor, index), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toSlot(), true, nil
}

// PledgeSlotPut stores the depositor's slot at index.
func (m *Manager) PledgeSlotPut(depositor [20]byte, index uint64, slot *pledge.PledgeSlot) error {
	if slot == nil {
		return fmt.Errorf("pledge slot: nil record")
	}
	return m.KVPut(pledgeSlotKey(depositor, index), newStoredSlot(slot))
}
