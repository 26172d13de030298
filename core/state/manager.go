package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"anchorledger/storage"
)

// Manager buffers RLP-encoded key/value writes over a storage backend. Reads
// observe pending writes; Commit flushes them as one atomic batch and Discard
// drops them. Update serializes writers so one transaction never commits
// another's pending entries.
type Manager struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	db      storage.Database
	pending map[string][]byte
	order   []string
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string][]byte)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the RLP encoding of value under key. The write is visible to
// subsequent reads but reaches the database only on Commit.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := string(kvKey(key))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[hashed]; !ok {
		m.order = append(m.order, hashed)
	}
	m.pending[hashed] = encoded
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	m.mu.Lock()
	data, ok := m.pending[string(hashed)]
	m.mu.Unlock()
	if !ok {
		stored, err := m.db.Get(hashed)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		data = stored
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Commit writes every pending entry in insertion order as a single batch.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for _, key := range m.order {
		batch.Put([]byte(key), m.pending[key])
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit %d entries: %w", batch.Len(), err)
	}
	m.reset()
	return nil
}

// Update runs fn as one transaction: its writes are committed as a single
// batch when fn succeeds and discarded otherwise. fn must not call Update.
func (m *Manager) Update(fn func() error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := fn(); err != nil {
		m.Discard()
		return err
	}
	if err := m.Commit(); err != nil {
		m.Discard()
		return err
	}
	return nil
}

// Discard drops every write made since the last Commit.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Pending reports how many distinct keys await Commit.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *Manager) reset() {
	m.pending = make(map[string][]byte)
	m.order = m.order[:0]
}
