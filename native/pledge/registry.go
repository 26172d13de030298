package pledge

import (
	"fmt"
	"math/big"

	"anchorledger/core/events"
)

// CreateAnchor registers a new anchor under hash and assigns it the next dense
// id. Only the administrator may create anchors.
func (e *Engine) CreateAnchor(caller [20]byte, hash [32]byte, label string) (uint64, error) {
	if caller != e.cfg.Admin {
		return 0, ErrUnauthorized
	}
	if len(label) > e.cfg.MaxLabelLength {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrLabelTooLong, len(label), e.cfg.MaxLabelLength)
	}
	if hash == ([32]byte{}) {
		return 0, fmt.Errorf("%w: zero hash", ErrAnchorNotFound)
	}

	var created events.AnchorCreated
	e.mu.Lock()
	err := e.update(func() error {
		existing, found, err := e.state.PledgeAnchorGet(hash)
		if err != nil {
			return err
		}
		if found && existing.Exists() {
			return ErrAnchorExists
		}
		now := e.now()
		if now == 0 {
			return ErrGenesisBlock
		}
		meta, err := e.loadMeta()
		if err != nil {
			return err
		}
		id, err := e.allocateAnchorID(meta, hash)
		if err != nil {
			return err
		}
		rec := &AnchorRecord{
			ID:             id,
			Label:          label,
			TotalPledged:   big.NewInt(0),
			CreatedAtBlock: now,
		}
		if err := e.state.PledgeAnchorPut(hash, rec); err != nil {
			return err
		}
		meta.TotalAnchors++
		if err := e.state.PledgeMetaPut(meta); err != nil {
			return err
		}
		created = events.AnchorCreated{
			ID:           id,
			Hash:         hash,
			Label:        label,
			TotalPledged: big.NewInt(0),
			Block:        now,
		}
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	e.emit(created)
	return created.ID, nil
}

// allocateAnchorID bumps the id counter and writes the id->hash entry. The
// hash->record entry must be written in the same transaction.
func (e *Engine) allocateAnchorID(meta *Meta, hash [32]byte) (uint64, error) {
	id := meta.NextAnchorID + 1
	if id == 0 {
		return 0, fmt.Errorf("pledge: anchor id space exhausted")
	}
	if err := e.state.PledgeAnchorIndexPut(id, hash); err != nil {
		return 0, err
	}
	meta.NextAnchorID = id
	return id, nil
}

// SealAnchor permanently closes an anchor to new pledges.
func (e *Engine) SealAnchor(caller [20]byte, hash [32]byte) error {
	if caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	var sealed events.AnchorSealed
	e.mu.Lock()
	err := e.update(func() error {
		rec, err := e.loadAnchor(hash)
		if err != nil {
			return err
		}
		if rec.Sealed {
			return ErrAlreadySealed
		}
		rec.Sealed = true
		if err := e.state.PledgeAnchorPut(hash, rec); err != nil {
			return err
		}
		sealed = events.AnchorSealed{
			ID:           rec.ID,
			Hash:         hash,
			TotalPledged: cloneBigInt(rec.TotalPledged),
			PledgeCount:  rec.PledgeCount,
			Block:        e.now(),
		}
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.emit(sealed)
	return nil
}

// loadAnchor returns a private copy of the stored record. The caller must hold
// e.mu.
func (e *Engine) loadAnchor(hash [32]byte) (*AnchorRecord, error) {
	if hash == ([32]byte{}) {
		return nil, ErrAnchorNotFound
	}
	rec, found, err := e.state.PledgeAnchorGet(hash)
	if err != nil {
		return nil, err
	}
	if !found || !rec.Exists() {
		return nil, ErrAnchorNotFound
	}
	return rec.Clone(), nil
}

// Anchor returns the record stored under hash.
func (e *Engine) Anchor(hash [32]byte) (*AnchorRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadAnchor(hash)
}

// AnchorHash resolves a dense id to its hash.
func (e *Engine) AnchorHash(id uint64) ([32]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == 0 {
		return [32]byte{}, ErrAnchorNotFound
	}
	meta, err := e.loadMeta()
	if err != nil {
		return [32]byte{}, err
	}
	if id > meta.NextAnchorID {
		return [32]byte{}, ErrAnchorNotFound
	}
	hash, found, err := e.state.PledgeAnchorHash(id)
	if err != nil {
		return [32]byte{}, err
	}
	if !found {
		return [32]byte{}, ErrAnchorNotFound
	}
	return hash, nil
}

// AnchorID resolves a hash to its dense id.
func (e *Engine) AnchorID(hash [32]byte) (uint64, error) {
	rec, err := e.Anchor(hash)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// HasAnchor reports whether an anchor exists under hash. It never fails.
func (e *Engine) HasAnchor(hash [32]byte) bool {
	_, err := e.Anchor(hash)
	return err == nil
}

// IsSealed reports whether the anchor exists and is sealed. It never fails.
func (e *Engine) IsSealed(hash [32]byte) bool {
	rec, err := e.Anchor(hash)
	if err != nil {
		return false
	}
	return rec.Sealed
}

// AnchorsRange lists up to count anchors starting at fromID. The range is
// clipped to the assigned ids; out of range requests yield an empty slice.
func (e *Engine) AnchorsRange(fromID, count uint64) []AnchorRef {
	out := []AnchorRef{}
	if count == 0 {
		return out
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	meta, err := e.loadMeta()
	if err != nil {
		return out
	}
	last := meta.NextAnchorID
	start := fromID
	if start == 0 {
		start = 1
	}
	if last == 0 || start > last {
		return out
	}
	end := saturatingAdd(start, count-1)
	if end > last {
		end = last
	}
	for id := start; id <= end; id++ {
		hash, found, err := e.state.PledgeAnchorHash(id)
		if err != nil || !found {
			break
		}
		out = append(out, AnchorRef{ID: id, Hash: hash})
		if id == end {
			break
		}
	}
	return out
}
