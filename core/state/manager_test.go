package state

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"anchorledger/storage"
)

func TestManagerBuffersUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("k"), uint64(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got uint64
	ok, err := mgr.KVGet([]byte("k"), &got)
	if err != nil || !ok || got != 7 {
		t.Fatalf("expected pending read of 7, got %d ok=%v err=%v", got, ok, err)
	}
	if has, _ := db.Has(kvKey([]byte("k"))); has {
		t.Fatalf("write reached the database before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if has, _ := db.Has(kvKey([]byte("k"))); !has {
		t.Fatalf("commit did not flush")
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected empty buffer after commit")
	}
}

func TestManagerDiscard(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mgr.KVPut([]byte("k"), uint64(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	mgr.Discard()

	var got uint64
	ok, err := mgr.KVGet([]byte("k"), &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != 1 {
		t.Fatalf("expected committed value 1 after discard, got %d", got)
	}
}

func TestManagerMissingKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	var got uint64
	ok, err := mgr.KVGet([]byte("absent"), &got)
	if err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestChainGenesisRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if _, _, ok, err := mgr.ChainGenesis(); err != nil || ok {
		t.Fatalf("expected no genesis, got ok=%v err=%v", ok, err)
	}
	genesis := time.Unix(1_700_000_000, 500).UTC()
	if err := mgr.PutChainGenesis(genesis, big.NewInt(31337)); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, id, ok, err := mgr.ChainGenesis()
	if err != nil || !ok {
		t.Fatalf("get genesis: ok=%v err=%v", ok, err)
	}
	if !got.Equal(genesis) || id.Int64() != 31337 {
		t.Fatalf("unexpected genesis %s chain %s", got, id)
	}
}

func TestManagerUpdateCommitsBalancesAtomically(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	addr := [20]byte{19: 0xD1}

	boom := errors.New("boom")
	err := mgr.Update(func() error {
		if err := mgr.BalancePut(addr, big.NewInt(500)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if got, err := mgr.BalanceGet(addr); err != nil || got.Sign() != 0 {
		t.Fatalf("failed update leaked balance %v (%v)", got, err)
	}

	if err := mgr.Update(func() error {
		if err := mgr.BalancePut(addr, big.NewInt(500)); err != nil {
			return err
		}
		return mgr.MarkBalancesSeeded()
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("update must flush its writes")
	}

	reopened := NewManager(db)
	got, err := reopened.BalanceGet(addr)
	if err != nil || got.Int64() != 500 {
		t.Fatalf("expected persisted balance 500, got %v (%v)", got, err)
	}
	seeded, err := reopened.BalancesSeeded()
	if err != nil || !seeded {
		t.Fatalf("expected seeded marker, got %v (%v)", seeded, err)
	}
	if fresh, _ := NewManager(storage.NewMemDB()).BalancesSeeded(); fresh {
		t.Fatalf("fresh state must not report seeded balances")
	}
}
