package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"anchorledger/config"
	"anchorledger/core/chain"
	"anchorledger/core/events"
	"anchorledger/core/state"
	"anchorledger/gateway/middleware"
	"anchorledger/gateway/routes"
	"anchorledger/native/bank"
	"anchorledger/native/pledge"
	"anchorledger/observability"
	"anchorledger/observability/metrics"
	"anchorledger/storage"
)

// node bundles the long-lived components behind the gateway.
type node struct {
	db      storage.Database
	state   *state.Manager
	chain   *chain.IntervalChain
	book    *bank.Book
	engine  *pledge.Engine
	bus     *events.Broadcaster
	handler http.Handler
}

func openNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	params, err := cfg.Ledger.Params()
	if err != nil {
		return nil, fmt.Errorf("ledger parameters: %w", err)
	}
	db, err := storage.Open(cfg.DBBackend, cfg.DataDir, false)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBBackend, err)
	}
	n, err := assemble(cfg, params, db, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return n, nil
}

func assemble(cfg *config.Config, params pledge.Config, db storage.Database, logger *slog.Logger) (*node, error) {
	mgr := state.NewManager(db)
	clock, err := openChain(mgr, cfg.ChainID, time.Duration(cfg.BlockIntervalSecs)*time.Second)
	if err != nil {
		return nil, err
	}

	book := bank.NewBook(mgr)
	engine, err := pledge.NewEngine(params, mgr, clock, book.Account(params.Self))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	bus := events.NewBroadcaster(0)
	engine.SetEmitter(events.MultiEmitter{
		observability.LogEmitter{Logger: logger},
		metrics.Ledger(),
		bus,
	})

	handler, err := routes.New(routes.Config{
		Engine:      engine,
		Book:        book,
		Broadcaster: bus,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret:     cfg.Auth.HMACSecretValue(),
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			AllowAnonymous: cfg.Auth.AllowAnonymousReads,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: cfg.LogLevel == "debug",
		}, logger),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	return &node{
		db:      db,
		state:   mgr,
		chain:   clock,
		book:    book,
		engine:  engine,
		bus:     bus,
		handler: handler,
	}, nil
}

// openChain restores the wall-clock genesis of a previous run, or pins the
// current time as genesis on first start. A chain id change is refused.
func openChain(mgr *state.Manager, chainID uint64, interval time.Duration) (*chain.IntervalChain, error) {
	configured := new(big.Int).SetUint64(chainID)
	genesis, stored, found, err := mgr.ChainGenesis()
	if err != nil {
		return nil, fmt.Errorf("load chain genesis: %w", err)
	}
	if found {
		if stored.Cmp(configured) != 0 {
			return nil, fmt.Errorf("chain id %s does not match stored chain id %s", configured, stored)
		}
	} else {
		genesis = time.Now().UTC()
		if err := mgr.Update(func() error { return mgr.PutChainGenesis(genesis, configured) }); err != nil {
			return nil, fmt.Errorf("persist chain genesis: %w", err)
		}
	}
	return chain.NewIntervalChain(genesis, interval, configured)
}

func (n *node) Close() error {
	return n.db.Close()
}
