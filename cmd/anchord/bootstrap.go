package main

import (
	"fmt"
	"log/slog"

	"anchorledger/config"
)

// applyBootstrap registers the listed anchors that do not exist yet and
// credits the development balances on first start. Anchors already present
// are left as they are and balances are seeded once, so restarting with the
// same file changes nothing on the ledger.
func (n *node) applyBootstrap(b *config.Bootstrap, logger *slog.Logger) error {
	if b == nil {
		return nil
	}
	admin := n.engine.ConfigSnapshot().Admin
	for i, entry := range b.Anchors {
		hash, err := entry.AnchorHash()
		if err != nil {
			return fmt.Errorf("bootstrap anchors[%d]: %w", i, err)
		}
		if !n.engine.HasAnchor(hash) {
			id, err := n.engine.CreateAnchor(admin, hash, entry.Label)
			if err != nil {
				return fmt.Errorf("bootstrap anchors[%d]: %w", i, err)
			}
			logger.Info("bootstrap anchor created", slog.Uint64("anchor_id", id), slog.String("label", entry.Label))
		}
		if entry.Sealed && !n.engine.IsSealed(hash) {
			if err := n.engine.SealAnchor(admin, hash); err != nil {
				return fmt.Errorf("bootstrap anchors[%d]: seal: %w", i, err)
			}
		}
	}
	credited := 0
	err := n.state.Update(func() error {
		seeded, err := n.state.BalancesSeeded()
		if err != nil || seeded {
			return err
		}
		for i, balance := range b.Balances {
			addr, amount, err := balance.Parse()
			if err != nil {
				return fmt.Errorf("bootstrap balances[%d]: %w", i, err)
			}
			if err := n.book.Mint(addr, amount); err != nil {
				return fmt.Errorf("bootstrap balances[%d]: %w", i, err)
			}
			credited++
		}
		return n.state.MarkBalancesSeeded()
	})
	if err != nil {
		return err
	}
	if credited > 0 {
		logger.Info("bootstrap balances credited", slog.Int("accounts", credited))
	}
	return nil
}
