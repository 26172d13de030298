package state

import (
	"math/big"
)

var (
	bankBalancePrefix  = []byte("bank/balance/")
	bankSeededKeyBytes = []byte("bank/seeded")
)

func bankBalanceKey(addr [20]byte) []byte {
	buf := make([]byte, len(bankBalancePrefix)+len(addr))
	copy(buf, bankBalancePrefix)
	copy(buf[len(bankBalancePrefix):], addr[:])
	return buf
}

// BalanceGet returns the balance held by addr; zero for unknown accounts.
func (m *Manager) BalanceGet(addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := m.KVGet(bankBalanceKey(addr), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// BalancePut stores the balance of addr. The write is flushed on the next
// Commit.
func (m *Manager) BalancePut(addr [20]byte, balance *big.Int) error {
	value := big.NewInt(0)
	if balance != nil {
		value.Set(balance)
	}
	return m.KVPut(bankBalanceKey(addr), value)
}

// BalancesSeeded reports whether the bootstrap balances were already applied.
func (m *Manager) BalancesSeeded() (bool, error) {
	var seeded bool
	if _, err := m.KVGet(bankSeededKeyBytes, &seeded); err != nil {
		return false, err
	}
	return seeded, nil
}

// MarkBalancesSeeded records that the bootstrap balances were applied.
func (m *Manager) MarkBalancesSeeded() error {
	return m.KVPut(bankSeededKeyBytes, true)
}
