package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// Backend names accepted by Open.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

const (
	levelDBDir   = "ledger"
	boltFileName = "ledger.bolt"
)

// Open opens the named backend under dataDir. Read-only handles refuse to
// create a missing store.
func Open(backend, dataDir string, readOnly bool) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory:
		if readOnly {
			return nil, fmt.Errorf("storage: memory backend holds no data to inspect")
		}
		return NewMemDB(), nil
	case BackendLevelDB, "":
		path := filepath.Join(dataDir, levelDBDir)
		if readOnly {
			return NewReadOnlyLevelDB(path)
		}
		return NewLevelDB(path)
	case BackendBolt:
		path := filepath.Join(dataDir, boltFileName)
		if readOnly {
			if _, err := os.Stat(path); err != nil {
				return nil, err
			}
			return NewBoltDB(path, &bolt.Options{ReadOnly: true})
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return NewBoltDB(path, nil)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
