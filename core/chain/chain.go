package chain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ManualChain is a block source driven explicitly by its owner. Tests and
// offline tooling use it to pin the counter.
type ManualChain struct {
	mu         sync.RWMutex
	block      uint64
	timestamp  int64
	chainID    *big.Int
	randomness [32]byte
}

// NewManualChain starts the counter at block with the supplied timestamp.
func NewManualChain(block uint64, timestamp int64) *ManualChain {
	return &ManualChain{block: block, timestamp: timestamp, chainID: big.NewInt(1)}
}

func (c *ManualChain) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block
}

func (c *ManualChain) Timestamp() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timestamp
}

func (c *ManualChain) ChainID() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.chainID)
}

func (c *ManualChain) Randomness() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.randomness
}

// SetBlock moves the counter. Moving it backwards is rejected.
func (c *ManualChain) SetBlock(block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block < c.block {
		return fmt.Errorf("chain: block counter cannot move backwards (%d < %d)", block, c.block)
	}
	c.block = block
	return nil
}

// Advance moves the counter forward by n blocks and the timestamp by
// n*secondsPerBlock.
func (c *ManualChain) Advance(n uint64, secondsPerBlock int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
	c.timestamp += int64(n) * secondsPerBlock
}

func (c *ManualChain) SetChainID(id *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == nil {
		id = big.NewInt(0)
	}
	c.chainID = new(big.Int).Set(id)
}

func (c *ManualChain) SetRandomness(r [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.randomness = r
}

// IntervalChain derives the block height from wall-clock time: block 1 at
// genesis, then one block per interval.
type IntervalChain struct {
	genesis    time.Time
	interval   time.Duration
	chainID    *big.Int
	randomness [32]byte
	nowFn      func() time.Time
}

// NewIntervalChain builds an interval-driven block source. The randomness
// beacon is sampled once from the operating system.
func NewIntervalChain(genesis time.Time, interval time.Duration, chainID *big.Int) (*IntervalChain, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("chain: block interval must be positive")
	}
	if genesis.IsZero() {
		return nil, fmt.Errorf("chain: genesis time required")
	}
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("chain: sample randomness: %w", err)
	}
	return &IntervalChain{
		genesis:    genesis,
		interval:   interval,
		chainID:    new(big.Int).Set(chainID),
		randomness: ethcrypto.Keccak256Hash(seed[:]),
		nowFn:      time.Now,
	}, nil
}

// SetNowFunc overrides the wall clock. Primarily intended for tests to provide
// deterministic timestamps.
func (c *IntervalChain) SetNowFunc(now func() time.Time) {
	if now == nil {
		c.nowFn = time.Now
		return
	}
	c.nowFn = now
}

func (c *IntervalChain) BlockNumber() uint64 {
	elapsed := c.nowFn().Sub(c.genesis)
	if elapsed < 0 {
		return 1
	}
	return 1 + uint64(elapsed/c.interval)
}

func (c *IntervalChain) Timestamp() int64 {
	return c.nowFn().Unix()
}

func (c *IntervalChain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *IntervalChain) Randomness() [32]byte {
	return c.randomness
}

// Genesis returns the wall-clock time of block 1.
func (c *IntervalChain) Genesis() time.Time {
	return c.genesis
}
