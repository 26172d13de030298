package pledge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"anchorledger/core/events"
)

// Pledge records a depositor-funded pledge. attached is the value sent with
// the call; the vault collects it from the depositor in the same transaction
// that records the slot. A vestTime of zero selects the default horizon from
// the current block.
func (e *Engine) Pledge(depositor [20]byte, hash [32]byte, vestTime uint64, attached *big.Int) (uint64, error) {
	return e.recordPledge(depositor, depositor, hash, vestTime, attached, true)
}

// RecordPledge lets the administrator mirror funding that arrived outside the
// ledger. No value moves and the pledge floor does not apply.
func (e *Engine) RecordPledge(caller, depositor [20]byte, hash [32]byte, vestTime uint64, amount *big.Int) (uint64, error) {
	if caller != e.cfg.Admin {
		return 0, ErrUnauthorized
	}
	if depositor == ([20]byte{}) {
		return 0, fmt.Errorf("%w: depositor", ErrZeroAddress)
	}
	return e.recordPledge(caller, depositor, hash, vestTime, amount, false)
}

func (e *Engine) recordPledge(recorder, depositor [20]byte, hash [32]byte, vestTime uint64, amount *big.Int, funded bool) (uint64, error) {
	amt := cloneBigInt(amount)
	var (
		recorded events.PledgeRecorded
		horizon  events.PledgeHorizonSet
	)
	e.mu.Lock()
	err := e.update(func() error {
		rec, err := e.loadAnchor(hash)
		if err != nil {
			return err
		}
		if rec.Sealed {
			return ErrAlreadySealed
		}
		if rec.PledgeCount >= e.cfg.MaxPledgesPerAnchor {
			return fmt.Errorf("%w: %d pledges", ErrCapacityExceeded, rec.PledgeCount)
		}
		if funded && e.cfg.MinPledgeWei != nil && e.cfg.MinPledgeWei.Sign() > 0 && amt.Cmp(e.cfg.MinPledgeWei) < 0 {
			return fmt.Errorf("%w: %s < %s", ErrPledgeBelowFloor, amt, e.cfg.MinPledgeWei)
		}
		if amt.Sign() <= 0 {
			return ErrZeroAmount
		}
		now := e.now()
		unlock := vestTime
		if unlock == 0 {
			unlock = saturatingAdd(now, e.cfg.VestHorizonBlocks)
		}
		if unlock <= now {
			return fmt.Errorf("%w: unlock %d not after block %d", ErrHorizonNotReached, unlock, now)
		}
		meta, err := e.loadMeta()
		if err != nil {
			return err
		}
		index, err := e.state.PledgeSlotCount(depositor)
		if err != nil {
			return err
		}
		slot := &PledgeSlot{
			AmountWei:        amt,
			LockedUntilBlock: unlock,
			AnchorID:         rec.ID,
			PledgedAtBlock:   now,
			RecordedBy:       recorder,
		}
		if err := e.state.PledgeSlotPut(depositor, index, slot); err != nil {
			return err
		}
		if err := e.state.PledgeSlotCountPut(depositor, index+1); err != nil {
			return err
		}
		rec.TotalPledged = new(big.Int).Add(rec.TotalPledged, amt)
		rec.PledgeCount++
		if err := e.state.PledgeAnchorPut(hash, rec); err != nil {
			return err
		}
		meta.TotalPledges++
		if err := e.state.PledgeMetaPut(meta); err != nil {
			return err
		}
		if funded && e.vault != nil {
			if err := e.vault.Collect(depositor, amt); err != nil {
				return err
			}
		}
		recorded = events.PledgeRecorded{
			Depositor:  depositor,
			Index:      index,
			AnchorID:   rec.ID,
			AnchorHash: hash,
			Amount:     cloneBigInt(amt),
			Recorded:   !funded,
			Block:      now,
		}
		horizon = events.PledgeHorizonSet{
			Depositor:        depositor,
			Index:            index,
			LockedUntilBlock: unlock,
			ClaimableAt:      e.claimableAt(slot),
			Block:            now,
		}
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	e.emit(recorded)
	e.emit(horizon)
	return recorded.Index, nil
}

// Claim settles the caller's slot at index. Marking the slot claimed and
// paying the vault out to the caller commit as one transaction; the claim
// event is emitted before the payment is delivered. If delivery fails, both
// are undone in a second transaction before the error is returned.
func (e *Engine) Claim(ctx context.Context, caller [20]byte, index uint64) (*big.Int, error) {
	ctx, span := e.tracer.Start(ctx, "pledge.Claim")
	defer span.End()
	span.SetAttributes(attribute.String("pledge.index", strconv.FormatUint(index, 10)))

	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()
	if e.vault == nil {
		return nil, errNilVault
	}

	var claimed events.PledgeClaimed
	e.mu.Lock()
	err = e.update(func() error {
		slot, err := e.loadSlot(caller, index)
		if err != nil {
			return err
		}
		if slot.Claimed {
			return ErrAlreadyClaimed
		}
		now := e.now()
		if at := e.claimableAt(slot); now < at {
			return fmt.Errorf("%w: claimable at block %d, current %d", ErrHorizonNotReached, at, now)
		}
		slot.Claimed = true
		if err := e.state.PledgeSlotPut(caller, index, slot); err != nil {
			return err
		}
		if err := e.vault.Pay(caller, slot.AmountWei); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		claimed = events.PledgeClaimed{
			Depositor: caller,
			Index:     index,
			AnchorID:  slot.AnchorID,
			Amount:    cloneBigInt(slot.AmountWei),
			Block:     now,
		}
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	e.emit(claimed)

	if deliverErr := e.vault.Deliver(ctx, caller, cloneBigInt(claimed.Amount)); deliverErr != nil {
		failure := fmt.Errorf("%w: %w", ErrTransferFailed, deliverErr)
		span.SetStatus(codes.Error, failure.Error())
		if rbErr := e.rollbackClaim(caller, index, claimed.Amount); rbErr != nil {
			return nil, errors.Join(failure, fmt.Errorf("pledge: claim rollback: %w", rbErr))
		}
		e.emit(events.ClaimRolledBack{Depositor: caller, Index: index, Amount: cloneBigInt(claimed.Amount), Reason: deliverErr.Error(), Block: e.now()})
		return nil, failure
	}
	return claimed.Amount, nil
}

// rollbackClaim reopens the slot and takes the payout back into the vault.
// If the caller no longer holds the payout the slot stays claimed and paid.
func (e *Engine) rollbackClaim(depositor [20]byte, index uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func() error {
		slot, err := e.loadSlot(depositor, index)
		if err != nil {
			return err
		}
		slot.Claimed = false
		if err := e.state.PledgeSlotPut(depositor, index, slot); err != nil {
			return err
		}
		return e.vault.Collect(depositor, amount)
	})
}

// loadSlot returns a private copy of the slot. The caller must hold e.mu.
func (e *Engine) loadSlot(depositor [20]byte, index uint64) (*PledgeSlot, error) {
	count, err := e.state.PledgeSlotCount(depositor)
	if err != nil {
		return nil, err
	}
	if index >= count {
		return nil, fmt.Errorf("%w: %d >= %d", ErrInvalidIndex, index, count)
	}
	slot, found, err := e.state.PledgeSlotGet(depositor, index)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d missing", ErrInvalidIndex, index)
	}
	return slot.Clone(), nil
}

func (e *Engine) claimableAt(slot *PledgeSlot) uint64 {
	return saturatingAdd(slot.LockedUntilBlock, e.cfg.HorizonGraceBlocks)
}

// PledgeAt returns the depositor's slot at index.
func (e *Engine) PledgeAt(depositor [20]byte, index uint64) (*PledgeSlot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadSlot(depositor, index)
}

// PledgeCount returns the length of the depositor's slot sequence; zero for
// unknown depositors.
func (e *Engine) PledgeCount(depositor [20]byte) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	count, err := e.state.PledgeSlotCount(depositor)
	if err != nil {
		return 0
	}
	return count
}

// PledgesRange returns up to count slots starting at from, clipped to the
// depositor's sequence.
func (e *Engine) PledgesRange(depositor [20]byte, from, count uint64) []*PledgeSlot {
	out := []*PledgeSlot{}
	if count == 0 {
		return out
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	total, err := e.state.PledgeSlotCount(depositor)
	if err != nil || from >= total {
		return out
	}
	end := saturatingAdd(from, count)
	if end > total {
		end = total
	}
	for i := from; i < end; i++ {
		slot, found, err := e.state.PledgeSlotGet(depositor, i)
		if err != nil || !found {
			break
		}
		out = append(out, slot.Clone())
	}
	return out
}

// CanClaim reports whether Claim on the slot would pass every ledger check
// right now. It never fails.
func (e *Engine) CanClaim(depositor [20]byte, index uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, err := e.loadSlot(depositor, index)
	if err != nil || slot.Claimed {
		return false
	}
	return e.now() >= e.claimableAt(slot)
}

// ClaimableAt returns the first block at which the slot may be claimed.
func (e *Engine) ClaimableAt(depositor [20]byte, index uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, err := e.loadSlot(depositor, index)
	if err != nil {
		return 0, err
	}
	return e.claimableAt(slot), nil
}

// SlotStatus reports the lifecycle phase of the slot at the current block.
func (e *Engine) SlotStatus(depositor [20]byte, index uint64) (SlotStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, err := e.loadSlot(depositor, index)
	if err != nil {
		return SlotCreated, err
	}
	switch {
	case slot.Claimed:
		return SlotClaimed, nil
	case e.now() >= e.claimableAt(slot):
		return SlotClaimable, nil
	default:
		return SlotUnlocking, nil
	}
}
