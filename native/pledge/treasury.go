package pledge

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel/codes"

	"anchorledger/core/events"
)

// Sweep moves amount of the ledger's holdings to the configured treasury.
func (e *Engine) Sweep(ctx context.Context, caller [20]byte, amount *big.Int) error {
	return e.moveFunds(ctx, "pledge.Sweep", caller, e.cfg.Treasury, amount, func(to [20]byte, amt *big.Int) events.Event {
		return events.TreasurySwept{To: to, Amount: amt, Block: e.now()}
	})
}

// Forward moves amount of the ledger's holdings to the configured fallback
// address.
func (e *Engine) Forward(ctx context.Context, caller [20]byte, amount *big.Int) error {
	return e.moveFunds(ctx, "pledge.Forward", caller, e.cfg.Fallback, amount, func(to [20]byte, amt *big.Int) events.Event {
		return events.FallbackForwarded{To: to, Amount: amt, Block: e.now()}
	})
}

func (e *Engine) moveFunds(ctx context.Context, op string, caller, to [20]byte, amount *big.Int, eventFn func([20]byte, *big.Int) events.Event) (err error) {
	ctx, span := e.tracer.Start(ctx, op)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrZeroAmount
	}
	if e.vault == nil {
		return errNilVault
	}
	e.mu.Lock()
	err = e.update(func() error {
		held, err := e.vault.Balance(ctx)
		if err != nil {
			return err
		}
		if held == nil || amt.Cmp(held) > 0 {
			return fmt.Errorf("%w: requested %s, held %s", ErrInsufficientBalance, amt, cloneBigInt(held))
		}
		if err := e.vault.Pay(to, amt); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if deliverErr := e.vault.Deliver(ctx, to, amt); deliverErr != nil {
		failure := fmt.Errorf("%w: %w", ErrTransferFailed, deliverErr)
		e.mu.Lock()
		rbErr := e.update(func() error { return e.vault.Collect(to, amt) })
		e.mu.Unlock()
		if rbErr != nil {
			return errors.Join(failure, fmt.Errorf("pledge: revert payout: %w", rbErr))
		}
		return failure
	}
	e.emit(eventFn(to, cloneBigInt(amt)))
	return nil
}
