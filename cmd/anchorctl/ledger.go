package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"anchorledger/cmd/internal/passphrase"
	"anchorledger/config"
	"anchorledger/core/chain"
	"anchorledger/core/state"
	"anchorledger/crypto"
	"anchorledger/gateway/middleware"
	"anchorledger/native/pledge"
	"anchorledger/storage"
)

type ledger struct {
	db     storage.Database
	engine *pledge.Engine
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config.Load(path)
}

// openLedger opens the node's store read-only and rebuilds the engine over it.
// The block counter is derived from the stored wall-clock genesis.
func openLedger(configPath string) (*ledger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	params, err := cfg.Ledger.Params()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg.DBBackend, cfg.DataDir, true)
	if err != nil {
		return nil, fmt.Errorf("open %s store in %s: %w", cfg.DBBackend, cfg.DataDir, err)
	}
	l, err := inspect(db, params, time.Duration(cfg.BlockIntervalSecs)*time.Second)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return l, nil
}

func inspect(db storage.Database, params pledge.Config, interval time.Duration) (*ledger, error) {
	mgr := state.NewManager(db)
	if _, found, err := mgr.PledgeMetaGet(); err != nil {
		return nil, err
	} else if !found {
		return nil, errors.New("no ledger state found; start anchord once first")
	}
	genesis, chainID, found, err := mgr.ChainGenesis()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("chain genesis missing from store")
	}
	clock, err := chain.NewIntervalChain(genesis, interval, chainID)
	if err != nil {
		return nil, err
	}
	engine, err := pledge.NewEngine(params, mgr, clock, nil)
	if err != nil {
		return nil, err
	}
	return &ledger{db: db, engine: engine}, nil
}

func (l *ledger) Close() error { return l.db.Close() }

func (l *ledger) printState(out *printer) error {
	snap, err := l.engine.StateSnapshot()
	if err != nil {
		return err
	}
	return out.object(row{
		{"domainId", common.Hash(snap.DomainID).Hex()},
		{"currentBlock", snap.CurrentBlock},
		{"genesisBlock", snap.GenesisBlock},
		{"genesisTimestamp", snap.GenesisTimestamp},
		{"nextAnchorId", snap.NextAnchorID},
		{"totalAnchors", snap.TotalAnchors},
		{"totalPledges", snap.TotalPledges},
	})
}

func (l *ledger) printAnchors(out *printer, from, count uint64) error {
	refs := l.engine.AnchorsRange(from, count)
	rows := make([]row, 0, len(refs))
	for _, ref := range refs {
		rec, err := l.engine.Anchor(ref.Hash)
		if err != nil {
			return err
		}
		rows = append(rows, row{
			{"id", ref.ID},
			{"hash", common.Hash(ref.Hash).Hex()},
			{"label", rec.Label},
			{"pledges", rec.PledgeCount},
			{"totalWei", rec.TotalPledged.String()},
			{"sealed", rec.Sealed},
		})
	}
	return out.rows(rows)
}

func (l *ledger) printPledges(out *printer, depositorArg string, from, count uint64) error {
	depositor, err := crypto.ParseAddress(depositorArg)
	if err != nil {
		return err
	}
	slots := l.engine.PledgesRange(depositor, from, count)
	rows := make([]row, 0, len(slots))
	for i, slot := range slots {
		index := from + uint64(i)
		status, err := l.engine.SlotStatus(depositor, index)
		if err != nil {
			return err
		}
		claimableAt, err := l.engine.ClaimableAt(depositor, index)
		if err != nil {
			return err
		}
		rows = append(rows, row{
			{"index", index},
			{"anchorId", slot.AnchorID},
			{"amountWei", slot.AmountWei.String()},
			{"lockedUntil", slot.LockedUntilBlock},
			{"claimableAt", claimableAt},
			{"status", status.String()},
		})
	}
	return out.rows(rows)
}

func (l *ledger) printSealHash(out *printer) error {
	seal, err := l.engine.SealHash()
	if err != nil {
		return err
	}
	return out.object(row{{"sealHash", common.Hash(seal).Hex()}})
}

func printAddress(out *printer, value string) error {
	raw, err := crypto.ParseAddress(value)
	if err != nil {
		return err
	}
	return out.object(row{
		{"bech32", crypto.FromRaw(raw).String()},
		{"hex", common.Address(raw).Hex()},
	})
}

// issueAdminToken proves possession of the administrator key by decrypting
// the keystore, then signs a gateway token for it.
func issueAdminToken(out *printer, configPath, keystorePath string, ttl time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if keystorePath == "" {
		keystorePath = cfg.AdminKeystorePath
	}
	if keystorePath == "" {
		return errors.New("no admin keystore configured; pass -keystore")
	}
	params, err := cfg.Ledger.Params()
	if err != nil {
		return err
	}
	pass, err := passphrase.NewSource(config.AdminKeystoreEnv, "admin keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		return err
	}
	admin := key.PubKey().Address().Raw()
	if admin != params.Admin {
		return fmt.Errorf("keystore holds %s, ledger admin is %s", common.Address(admin).Hex(), common.Address(params.Admin).Hex())
	}
	token, err := middleware.IssueToken(cfg.Auth.HMACSecretValue(), admin, cfg.Auth.Issuer, cfg.Auth.Audience, ttl)
	if err != nil {
		return err
	}
	return out.object(row{{"token", token}})
}
