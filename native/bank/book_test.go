package bank

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
)

// memStore keeps committed balances and the writes of the open transaction
// apart so a failing Update leaves the committed view untouched.
type memStore struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	committed map[[20]byte]*big.Int
	pending   map[[20]byte]*big.Int
}

func newMemStore() *memStore {
	return &memStore{
		committed: make(map[[20]byte]*big.Int),
		pending:   make(map[[20]byte]*big.Int),
	}
}

func (s *memStore) BalanceGet(addr [20]byte) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.pending[addr]; ok {
		return new(big.Int).Set(v), nil
	}
	if v, ok := s.committed[addr]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (s *memStore) BalancePut(addr [20]byte, balance *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[addr] = new(big.Int).Set(balance)
	return nil
}

func (s *memStore) Update(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	err := fn()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		for addr, v := range s.pending {
			s.committed[addr] = v
		}
	}
	s.pending = make(map[[20]byte]*big.Int)
	return err
}

func TestTransferMovesBalance(t *testing.T) {
	book := NewBook(newMemStore())
	alice, bob := [20]byte{0x01}, [20]byte{0x02}
	if err := book.Credit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := book.Transfer(context.Background(), alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := book.BalanceOf(alice); got.Int64() != 60 {
		t.Fatalf("expected 60, got %s", got)
	}
	if got := book.BalanceOf(bob); got.Int64() != 40 {
		t.Fatalf("expected 40, got %s", got)
	}
	if err := book.Transfer(context.Background(), bob, alice, big.NewInt(41)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := book.Transfer(context.Background(), bob, alice, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected negative amount error, got %v", err)
	}
}

func TestRejectingHookRevertsTransfer(t *testing.T) {
	book := NewBook(newMemStore())
	vault, receiver := [20]byte{0x0a}, [20]byte{0x0b}
	if err := book.Credit(vault, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	refusal := errors.New("no thanks")
	book.SetReceiveHook(receiver, func(context.Context, [20]byte, *big.Int) error { return refusal })

	err := book.Transfer(context.Background(), vault, receiver, big.NewInt(10))
	if !errors.Is(err, ErrReceiverRejected) || !errors.Is(err, refusal) {
		t.Fatalf("expected wrapped refusal, got %v", err)
	}
	if got := book.BalanceOf(vault); got.Int64() != 10 {
		t.Fatalf("expected balance restored, got %s", got)
	}

	book.SetReceiveHook(receiver, nil)
	if err := book.Transfer(context.Background(), vault, receiver, big.NewInt(10)); err != nil {
		t.Fatalf("transfer after hook removal: %v", err)
	}
}

func TestHookRunsAfterCommit(t *testing.T) {
	store := newMemStore()
	book := NewBook(store)
	vault, receiver := [20]byte{0x0a}, [20]byte{0x0b}
	if err := book.Credit(vault, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	var seen *big.Int
	book.SetReceiveHook(receiver, func(context.Context, [20]byte, *big.Int) error {
		// A nested transaction from the hook must not deadlock.
		if err := book.Credit(receiver, big.NewInt(1)); err != nil {
			return err
		}
		seen = book.BalanceOf(receiver)
		return nil
	})
	if err := book.Transfer(context.Background(), vault, receiver, big.NewInt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if seen == nil || seen.Int64() != 6 {
		t.Fatalf("hook should observe the committed balance, got %v", seen)
	}
}

func TestAccountStagesMovesInsideTransaction(t *testing.T) {
	store := newMemStore()
	book := NewBook(store)
	ledger, depositor := [20]byte{0x1e}, [20]byte{0xd1}
	if err := book.Credit(depositor, big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	acct := book.Account(ledger)
	if acct.Address() != ledger {
		t.Fatalf("account bound to %x", acct.Address())
	}

	boom := errors.New("boom")
	err := store.Update(func() error {
		if err := acct.Collect(depositor, big.NewInt(20)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transaction error, got %v", err)
	}
	if got := book.BalanceOf(depositor); got.Int64() != 50 {
		t.Fatalf("expected collection discarded, got %s", got)
	}

	if err := store.Update(func() error { return acct.Collect(depositor, big.NewInt(20)) }); err != nil {
		t.Fatalf("collect: %v", err)
	}
	held, err := acct.Balance(context.Background())
	if err != nil || held.Int64() != 20 {
		t.Fatalf("expected 20 held, got %v (%v)", held, err)
	}
	if err := store.Update(func() error { return acct.Pay(depositor, big.NewInt(21)) }); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	refusal := errors.New("closed")
	book.SetReceiveHook(depositor, func(context.Context, [20]byte, *big.Int) error { return refusal })
	if err := acct.Deliver(context.Background(), depositor, big.NewInt(1)); !errors.Is(err, ErrReceiverRejected) || !errors.Is(err, refusal) {
		t.Fatalf("expected wrapped refusal, got %v", err)
	}
}

func TestCreditOverflow(t *testing.T) {
	book := NewBook(newMemStore())
	addr := [20]byte{0x01}
	limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := book.Credit(addr, limit); err != nil {
		t.Fatalf("credit max: %v", err)
	}
	if err := book.Credit(addr, big.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := book.Credit(addr, new(big.Int).Lsh(big.NewInt(1), 256)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected 2^256 to be rejected, got %v", err)
	}
}
