package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/store"
)

// Wallet statuses are advisory display state. The lock key is the
// source of truth for availability.
const (
	StatusAvailable = "available"
	StatusLocked    = "locked"
)

// Info is the stored metadata for one pool wallet.
type Info struct {
	Address           string    `json:"address"`
	KeyRef            string    `json:"key_ref"`
	Status            string    `json:"status"`
	LockedBy          string    `json:"locked_by,omitempty"`
	LockedSince       time.Time `json:"locked_since,omitempty"`
	DesignatedBeacons []string  `json:"designated_beacons,omitempty"`
}

// ErrWalletNotFound is returned when an address is not in the pool.
var ErrWalletNotFound = errors.New("wallet not found in pool")

// Pool manages the shared wallet set and the beacon designation
// mappings in the store.
type Pool struct {
	store  store.Store
	keys   store.Keys
	logger *zap.Logger
}

// NewPool builds a Pool over the given store.
func NewPool(s store.Store, keys store.Keys, logger *zap.Logger) *Pool {
	return &Pool{store: s, keys: keys, logger: logger}
}

// Add registers a wallet in the pool.
func (p *Pool) Add(ctx context.Context, info Info) error {
	if info.Status == "" {
		info.Status = StatusAvailable
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet info: %w", err)
	}
	err = p.store.Pipeline(ctx, func(pipe store.Pipeline) {
		pipe.SAdd(p.keys.WalletPool(), info.Address)
		pipe.Set(p.keys.WalletInfo(info.Address), string(data))
	})
	if err != nil {
		return fmt.Errorf("failed to add wallet %s: %w", info.Address, err)
	}
	p.logger.Info("wallet added to pool", zap.String("wallet", info.Address))
	return nil
}

// Remove deletes a wallet and every mapping that references it in a
// single pipeline, so no beacon is left pointing at a gone wallet.
func (p *Pool) Remove(ctx context.Context, address string) error {
	beacons, err := p.BeaconsForWallet(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to list beacons for wallet %s: %w", address, err)
	}
	err = p.store.Pipeline(ctx, func(pipe store.Pipeline) {
		pipe.SRem(p.keys.WalletPool(), address)
		pipe.Del(p.keys.WalletInfo(address))
		pipe.Del(p.keys.WalletBeacons(address))
		for _, b := range beacons {
			pipe.Del(p.keys.BeaconWallet(b))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to remove wallet %s: %w", address, err)
	}
	p.logger.Info("wallet removed from pool",
		zap.String("wallet", address),
		zap.Int("unmapped_beacons", len(beacons)))
	return nil
}

// Get returns the stored info for one wallet.
func (p *Pool) Get(ctx context.Context, address string) (*Info, error) {
	data, err := p.store.Get(ctx, p.keys.WalletInfo(address))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("wallet %s: %w", address, ErrWalletNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet %s: %w", address, err)
	}
	info := &Info{}
	if err := json.Unmarshal([]byte(data), info); err != nil {
		return nil, fmt.Errorf("failed to parse wallet info for %s: %w", address, err)
	}
	return info, nil
}

// Exists reports whether the address is in the pool.
func (p *Pool) Exists(ctx context.Context, address string) (bool, error) {
	return p.store.SIsMember(ctx, p.keys.WalletPool(), address)
}

// Count returns the pool size.
func (p *Pool) Count(ctx context.Context) (int, error) {
	members, err := p.store.SMembers(ctx, p.keys.WalletPool())
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// ListAll returns info for every wallet in the pool. Wallets whose
// info record is missing are skipped with a warning.
func (p *Pool) ListAll(ctx context.Context) ([]Info, error) {
	addrs, err := p.store.SMembers(ctx, p.keys.WalletPool())
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet pool: %w", err)
	}
	infos := make([]Info, 0, len(addrs))
	for _, addr := range addrs {
		info, err := p.Get(ctx, addr)
		if err != nil {
			p.logger.Warn("wallet in pool set has no info record",
				zap.String("wallet", addr), zap.Error(err))
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// ListAvailable returns wallets whose advisory status is available.
// The status can be stale; callers must still take the lock.
func (p *Pool) ListAvailable(ctx context.Context) ([]Info, error) {
	all, err := p.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	avail := make([]Info, 0, len(all))
	for _, info := range all {
		if info.Status == StatusAvailable {
			avail = append(avail, info)
		}
	}
	return avail, nil
}

// SetStatus updates the advisory status on a wallet's info record.
func (p *Pool) SetStatus(ctx context.Context, address, status, holder string) error {
	info, err := p.Get(ctx, address)
	if err != nil {
		return err
	}
	info.Status = status
	if status == StatusLocked {
		info.LockedBy = holder
		info.LockedSince = time.Now().UTC()
	} else {
		info.LockedBy = ""
		info.LockedSince = time.Time{}
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet info: %w", err)
	}
	return p.store.Set(ctx, p.keys.WalletInfo(address), string(data))
}

// SetDesignatedBeacon maps a beacon to its owning wallet in both
// directions atomically, then refreshes the denormalized info copy.
func (p *Pool) SetDesignatedBeacon(ctx context.Context, walletAddr, beaconAddr string) error {
	ok, err := p.Exists(ctx, walletAddr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletAddr, ErrWalletNotFound)
	}
	err = p.store.Pipeline(ctx, func(pipe store.Pipeline) {
		pipe.SAdd(p.keys.WalletBeacons(walletAddr), beaconAddr)
		pipe.Set(p.keys.BeaconWallet(beaconAddr), walletAddr)
	})
	if err != nil {
		return fmt.Errorf("failed to designate beacon %s to wallet %s: %w", beaconAddr, walletAddr, err)
	}
	if err := p.refreshDesignated(ctx, walletAddr); err != nil {
		p.logger.Warn("failed to refresh denormalized beacon list",
			zap.String("wallet", walletAddr), zap.Error(err))
	}
	return nil
}

// RemoveDesignatedBeacon drops the beacon↔wallet mapping.
func (p *Pool) RemoveDesignatedBeacon(ctx context.Context, walletAddr, beaconAddr string) error {
	err := p.store.Pipeline(ctx, func(pipe store.Pipeline) {
		pipe.SRem(p.keys.WalletBeacons(walletAddr), beaconAddr)
		pipe.Del(p.keys.BeaconWallet(beaconAddr))
	})
	if err != nil {
		return fmt.Errorf("failed to remove beacon %s from wallet %s: %w", beaconAddr, walletAddr, err)
	}
	if err := p.refreshDesignated(ctx, walletAddr); err != nil {
		p.logger.Warn("failed to refresh denormalized beacon list",
			zap.String("wallet", walletAddr), zap.Error(err))
	}
	return nil
}

func (p *Pool) refreshDesignated(ctx context.Context, walletAddr string) error {
	info, err := p.Get(ctx, walletAddr)
	if err != nil {
		return err
	}
	beacons, err := p.BeaconsForWallet(ctx, walletAddr)
	if err != nil {
		return err
	}
	info.DesignatedBeacons = beacons
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, p.keys.WalletInfo(walletAddr), string(data))
}

// WalletForBeacon returns the wallet designated to a beacon, or ""
// when no mapping exists.
func (p *Pool) WalletForBeacon(ctx context.Context, beaconAddr string) (string, error) {
	addr, err := p.store.Get(ctx, p.keys.BeaconWallet(beaconAddr))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up wallet for beacon %s: %w", beaconAddr, err)
	}
	return addr, nil
}

// BeaconsForWallet returns all beacons designated to a wallet.
func (p *Pool) BeaconsForWallet(ctx context.Context, walletAddr string) ([]string, error) {
	return p.store.SMembers(ctx, p.keys.WalletBeacons(walletAddr))
}
