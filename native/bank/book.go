package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrAmountOverflow    = errors.New("bank: amount overflows 256 bits")
	ErrNegativeAmount    = errors.New("bank: negative amount")
	ErrReceiverRejected  = errors.New("bank: receiver rejected transfer")
)

// Store persists balances. Writes are buffered until the enclosing Update
// commits them as one batch; reads observe buffered writes.
type Store interface {
	BalanceGet(addr [20]byte) (*big.Int, error)
	BalancePut(addr [20]byte, balance *big.Int) error
	Update(fn func() error) error
}

// ReceiveHook runs after value lands in the hooked account. It may call back
// into any component, including the one that initiated the transfer. A
// non-nil error reverts the transfer.
type ReceiveHook func(ctx context.Context, from [20]byte, amount *big.Int) error

// Book keeps account balances in a Store and runs receiver hooks, standing in
// for the value-transfer execution environment. Hooks live in memory and
// must be installed again after a restart.
type Book struct {
	store Store

	mu    sync.Mutex
	hooks map[[20]byte]ReceiveHook
}

// NewBook creates a book over store.
func NewBook(store Store) *Book {
	return &Book{
		store: store,
		hooks: make(map[[20]byte]ReceiveHook),
	}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return v, nil
}

func (b *Book) balance(addr [20]byte) (*uint256.Int, error) {
	stored, err := b.store.BalanceGet(addr)
	if err != nil {
		return nil, err
	}
	bal, err := toUint256(stored)
	if err != nil {
		return nil, fmt.Errorf("bank: stored balance of %x: %w", addr, err)
	}
	return bal, nil
}

func (b *Book) put(addr [20]byte, bal *uint256.Int) error {
	return b.store.BalancePut(addr, bal.ToBig())
}

// Mint stages amount into addr. It must run inside a store transaction.
func (b *Book) Mint(addr [20]byte, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	bal, err := b.balance(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amt)
	if overflow {
		return ErrAmountOverflow
	}
	return b.put(addr, sum)
}

// Credit mints amount into addr in its own transaction. Used for bootstrap
// balances and tests.
func (b *Book) Credit(addr [20]byte, amount *big.Int) error {
	return b.store.Update(func() error { return b.Mint(addr, amount) })
}

// BalanceOf returns the balance held by addr; zero when it cannot be read.
func (b *Book) BalanceOf(addr [20]byte) *big.Int {
	bal, err := b.balance(addr)
	if err != nil {
		return new(big.Int)
	}
	return bal.ToBig()
}

// SetReceiveHook installs (or with nil, removes) the hook for addr.
func (b *Book) SetReceiveHook(addr [20]byte, hook ReceiveHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = hook
}

func (b *Book) hook(addr [20]byte) ReceiveHook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hooks[addr]
}

// Move stages a balance move. It must run inside a store transaction.
func (b *Book) Move(from, to [20]byte, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	src, err := b.balance(from)
	if err != nil {
		return err
	}
	if src.Lt(amt) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, src.Dec(), amt.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := b.balance(to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst, amt)
	if overflow {
		return ErrAmountOverflow
	}
	if err := b.put(from, new(uint256.Int).Sub(src, amt)); err != nil {
		return err
	}
	return b.put(to, sum)
}

// Notify runs the receive hook of to, if any. A hook error is wrapped in
// ErrReceiverRejected; undoing the move is left to the caller.
func (b *Book) Notify(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	hook := b.hook(to)
	if hook == nil {
		return nil
	}
	if err := hook(ctx, from, cloneAmount(amount)); err != nil {
		return fmt.Errorf("%w: %w", ErrReceiverRejected, err)
	}
	return nil
}

// Transfer commits a move from one account to another, then runs the
// receiver's hook outside the transaction. A failing hook reverts the
// transfer in a second transaction.
func (b *Book) Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	if _, err := toUint256(amount); err != nil {
		return err
	}
	if err := b.store.Update(func() error { return b.Move(from, to, amount) }); err != nil {
		return err
	}
	rejected := b.Notify(ctx, from, to, amount)
	if rejected == nil {
		return nil
	}
	if err := b.store.Update(func() error { return b.Move(to, from, amount) }); err != nil {
		return errors.Join(rejected, fmt.Errorf("bank: revert transfer: %w", err))
	}
	return rejected
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Account returns a view of the book bound to addr.
func (b *Book) Account(addr [20]byte) *Account {
	return &Account{book: b, addr: addr}
}

// Account is the ledger-facing vault over one book entry. Collect and Pay
// stage moves inside the caller's store transaction; Deliver runs the
// receiver's hook once the payment is committed.
type Account struct {
	book *Book
	addr [20]byte
}

// Address returns the account the view is bound to.
func (a *Account) Address() [20]byte { return a.addr }

// Balance returns the current holdings of the account.
func (a *Account) Balance(context.Context) (*big.Int, error) {
	bal, err := a.book.balance(a.addr)
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// Collect stages amount moving from the payer into the account.
func (a *Account) Collect(from [20]byte, amount *big.Int) error {
	return a.book.Move(from, a.addr, amount)
}

// Pay stages amount moving out of the account.
func (a *Account) Pay(to [20]byte, amount *big.Int) error {
	return a.book.Move(a.addr, to, amount)
}

// Deliver tells the recipient of a committed payment about it.
func (a *Account) Deliver(ctx context.Context, to [20]byte, amount *big.Int) error {
	return a.book.Notify(ctx, a.addr, to, amount)
}
