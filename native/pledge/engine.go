package pledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"anchorledger/core/events"
	nativecommon "anchorledger/native/common"
)

const (
	moduleName  = "pledge"
	domainLabel = "ANCHOR_LEDGER_DOMAIN_V1"
)

// engineState is the persistence surface the engine needs. Writes made inside
// Update are committed together when fn succeeds and dropped otherwise.
type engineState interface {
	PledgeMetaGet() (*Meta, bool, error)
	PledgeMetaPut(*Meta) error
	PledgeAnchorGet(hash [32]byte) (*AnchorRecord, bool, error)
	PledgeAnchorPut(hash [32]byte, rec *AnchorRecord) error
	PledgeAnchorHash(id uint64) ([32]byte, bool, error)
	PledgeAnchorIndexPut(id uint64, hash [32]byte) error
	PledgeSlotCount(depositor [20]byte) (uint64, error)
	PledgeSlotCountPut(depositor [20]byte, count uint64) error
	PledgeSlotGet(depositor [20]byte, index uint64) (*PledgeSlot, bool, error)
	PledgeSlotPut(depositor [20]byte, index uint64, slot *PledgeSlot) error
	Update(fn func() error) error
}

// Chain supplies the block counter and the genesis entropy.
type Chain interface {
	BlockNumber() uint64
	Timestamp() int64
	ChainID() *big.Int
	Randomness() [32]byte
}

// Vault holds the ledger's value. Collect and Pay stage balance moves inside
// the engine's state transaction, so the vault must write through the same
// state backend. Deliver runs after the payment is committed and may execute
// receiver code, including calls back into the engine.
type Vault interface {
	Balance(ctx context.Context) (*big.Int, error)
	Collect(from [20]byte, amount *big.Int) error
	Pay(to [20]byte, amount *big.Int) error
	Deliver(ctx context.Context, to [20]byte, amount *big.Int) error
}

// Engine implements the anchor registry and the pledge ledger over a shared
// state backend.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	chain   Chain
	vault   Vault
	emitter events.Emitter
	guard   nativecommon.ReentrancyGuard
	cfg     Config
	tracer  trace.Tracer
}

// NewEngine validates the configuration and opens the ledger. On an empty
// state the genesis markers and the domain identifier are written; otherwise
// the stored markers are kept.
func NewEngine(cfg Config, state engineState, chain Chain, vault Vault) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if chain == nil {
		return nil, errNilChain
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	e := &Engine{
		state:   state,
		chain:   chain,
		vault:   vault,
		emitter: events.NoopEmitter{},
		cfg:     cfg.clone(),
		tracer:  otel.Tracer("anchorledger/native/" + moduleName),
	}
	if err := e.ensureGenesis(); err != nil {
		return nil, err
	}
	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Admin == ([20]byte{}) {
		return fmt.Errorf("%w: admin", ErrZeroAddress)
	}
	if cfg.VestHorizonBlocks == 0 {
		return fmt.Errorf("pledge: vest horizon must be positive")
	}
	if cfg.MaxPledgesPerAnchor == 0 {
		return fmt.Errorf("pledge: per-anchor capacity must be positive")
	}
	if cfg.MaxLabelLength <= 0 {
		return fmt.Errorf("pledge: label bound must be positive")
	}
	if cfg.MinPledgeWei != nil && cfg.MinPledgeWei.Sign() < 0 {
		return fmt.Errorf("pledge: pledge floor must be non-negative")
	}
	return nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetVault configures the value-transfer backend.
func (e *Engine) SetVault(vault Vault) { e.vault = vault }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	return e.chain.BlockNumber()
}

func (e *Engine) ensureGenesis() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, found, err := e.state.PledgeMetaGet()
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	block := e.now()
	if block == 0 {
		return ErrGenesisBlock
	}
	ts := e.chain.Timestamp()
	if ts < 0 {
		ts = 0
	}
	meta := &Meta{
		GenesisBlock:     block,
		GenesisTimestamp: uint64(ts),
		DomainID:         deriveDomainID(e.chain.ChainID(), e.cfg.Self, e.chain.Randomness(), uint64(ts)),
	}
	return e.update(func() error { return e.state.PledgeMetaPut(meta) })
}

// update runs fn as one state transaction. The caller must hold e.mu.
func (e *Engine) update(fn func() error) error {
	return e.state.Update(fn)
}

func (e *Engine) loadMeta() (*Meta, error) {
	meta, found, err := e.state.PledgeMetaGet()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("pledge: genesis markers missing")
	}
	return meta, nil
}

func deriveDomainID(chainID *big.Int, self [20]byte, randomness [32]byte, timestamp uint64) [32]byte {
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	return ethcrypto.Keccak256Hash(
		common.LeftPadBytes(chainID.Bytes(), 32),
		self[:],
		randomness[:],
		word(timestamp),
		[]byte(domainLabel),
	)
}

func word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
