package pledge

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ConfigSnapshot returns every fixed parameter in one call.
func (e *Engine) ConfigSnapshot() Config {
	return e.cfg.clone()
}

// StateSnapshot returns the aggregate counters and genesis markers.
func (e *Engine) StateSnapshot() (StateSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	meta, err := e.loadMeta()
	if err != nil {
		return StateSnapshot{}, err
	}
	return StateSnapshot{
		NextAnchorID:     meta.NextAnchorID,
		TotalAnchors:     meta.TotalAnchors,
		TotalPledges:     meta.TotalPledges,
		GenesisBlock:     meta.GenesisBlock,
		GenesisTimestamp: meta.GenesisTimestamp,
		DomainID:         meta.DomainID,
		CurrentBlock:     e.now(),
	}, nil
}

// DomainID returns the identifier bound to the chain and ledger address at
// genesis.
func (e *Engine) DomainID() ([32]byte, error) {
	snap, err := e.StateSnapshot()
	if err != nil {
		return [32]byte{}, err
	}
	return snap.DomainID, nil
}

// SealHash attests to the current aggregate counters under the ledger's
// domain identifier.
func (e *Engine) SealHash() ([32]byte, error) {
	snap, err := e.StateSnapshot()
	if err != nil {
		return [32]byte{}, err
	}
	return ComputeSealHash(snap.DomainID, snap.NextAnchorID, snap.TotalAnchors, snap.TotalPledges), nil
}

// ComputeSealHash is the verifier-side form of SealHash:
// keccak256(domain ‖ nextAnchorID ‖ totalAnchors ‖ totalPledges), counters as
// 32-byte big-endian words.
func ComputeSealHash(domain [32]byte, nextAnchorID, totalAnchors, totalPledges uint64) [32]byte {
	return ethcrypto.Keccak256Hash(
		domain[:],
		word(nextAnchorID),
		word(totalAnchors),
		word(totalPledges),
	)
}
