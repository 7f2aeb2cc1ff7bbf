package wallet

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/store"
)

func testPool() *Pool {
	return NewPool(store.NewMemoryStore(), store.NewKeys("test:"), zap.NewNop())
}

func TestPoolAddGetRemove(t *testing.T) {
	ctx := context.Background()
	p := testPool()

	err := p.Add(ctx, Info{Address: "0xaaa", KeyRef: "key-1"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	info, err := p.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if info.KeyRef != "key-1" {
		t.Errorf("expected key-1, got %s", info.KeyRef)
	}
	if info.Status != StatusAvailable {
		t.Errorf("new wallet should default to available, got %s", info.Status)
	}

	ok, _ := p.Exists(ctx, "0xaaa")
	if !ok {
		t.Error("wallet should exist")
	}
	n, _ := p.Count(ctx)
	if n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}

	if err := p.Remove(ctx, "0xaaa"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := p.Get(ctx, "0xaaa"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestPoolDesignatedBeaconMapping(t *testing.T) {
	ctx := context.Background()
	p := testPool()
	p.Add(ctx, Info{Address: "0xaaa"})

	if err := p.SetDesignatedBeacon(ctx, "0xaaa", "0xbeacon1"); err != nil {
		t.Fatalf("designate failed: %v", err)
	}
	p.SetDesignatedBeacon(ctx, "0xaaa", "0xbeacon2")

	wallet, err := p.WalletForBeacon(ctx, "0xbeacon1")
	if err != nil || wallet != "0xaaa" {
		t.Fatalf("expected 0xaaa, got %s err=%v", wallet, err)
	}
	beacons, _ := p.BeaconsForWallet(ctx, "0xaaa")
	if len(beacons) != 2 {
		t.Errorf("expected 2 beacons, got %v", beacons)
	}

	// Denormalized copy follows the mapping.
	info, _ := p.Get(ctx, "0xaaa")
	if len(info.DesignatedBeacons) != 2 {
		t.Errorf("denormalized list should have 2, got %v", info.DesignatedBeacons)
	}

	if err := p.RemoveDesignatedBeacon(ctx, "0xaaa", "0xbeacon1"); err != nil {
		t.Fatalf("remove designation failed: %v", err)
	}
	wallet, _ = p.WalletForBeacon(ctx, "0xbeacon1")
	if wallet != "" {
		t.Errorf("mapping should be gone, got %s", wallet)
	}
}

func TestPoolDesignateUnknownWallet(t *testing.T) {
	ctx := context.Background()
	p := testPool()
	err := p.SetDesignatedBeacon(ctx, "0xmissing", "0xbeacon")
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestPoolRemoveCascadesMappings(t *testing.T) {
	ctx := context.Background()
	p := testPool()
	p.Add(ctx, Info{Address: "0xaaa"})
	p.SetDesignatedBeacon(ctx, "0xaaa", "0xbeacon1")
	p.SetDesignatedBeacon(ctx, "0xaaa", "0xbeacon2")

	if err := p.Remove(ctx, "0xaaa"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	for _, b := range []string{"0xbeacon1", "0xbeacon2"} {
		wallet, err := p.WalletForBeacon(ctx, b)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if wallet != "" {
			t.Errorf("beacon %s should be unmapped, got %s", b, wallet)
		}
	}
}

func TestPoolListAvailable(t *testing.T) {
	ctx := context.Background()
	p := testPool()
	p.Add(ctx, Info{Address: "0xaaa"})
	p.Add(ctx, Info{Address: "0xbbb"})
	p.SetStatus(ctx, "0xbbb", StatusLocked, "inst-9")

	avail, err := p.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(avail) != 1 || avail[0].Address != "0xaaa" {
		t.Errorf("expected only 0xaaa available, got %+v", avail)
	}

	info, _ := p.Get(ctx, "0xbbb")
	if info.LockedBy != "inst-9" {
		t.Errorf("expected locked_by inst-9, got %s", info.LockedBy)
	}
	if info.LockedSince.IsZero() {
		t.Error("locked_since should be set")
	}
}
