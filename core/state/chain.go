package state

import (
	"math/big"
	"time"
)

var chainGenesisKeyBytes = []byte("chain/genesis")

type storedChainGenesis struct {
	UnixNano uint64
	ChainID  *big.Int
}

// ChainGenesis returns the wall-clock genesis and chain id persisted by a
// previous run.
func (m *Manager) ChainGenesis() (time.Time, *big.Int, bool, error) {
	var stored storedChainGenesis
	ok, err := m.KVGet(chainGenesisKeyBytes, &stored)
	if err != nil || !ok {
		return time.Time{}, nil, ok, err
	}
	id := big.NewInt(0)
	if stored.ChainID != nil {
		id.Set(stored.ChainID)
	}
	return time.Unix(0, int64(stored.UnixNano)).UTC(), id, true, nil
}

// PutChainGenesis records the wall-clock genesis and chain id. The write is
// flushed on the next Commit.
func (m *Manager) PutChainGenesis(genesis time.Time, chainID *big.Int) error {
	id := big.NewInt(0)
	if chainID != nil {
		id.Set(chainID)
	}
	return m.KVPut(chainGenesisKeyBytes, &storedChainGenesis{UnixNano: uint64(genesis.UnixNano()), ChainID: id})
}
