package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ErrNoWalletAvailable is returned when every pool wallet is locked
// or the pool is empty.
var ErrNoWalletAvailable = errors.New("no wallet available in pool")

// SignerFactory builds a Signer for a pool wallet's key reference.
type SignerFactory func(info Info) (Signer, error)

// Manager hands out exclusively-locked wallet handles from the pool.
type Manager struct {
	pool    *Pool
	locker  *Locker
	signers SignerFactory
	logger  *zap.Logger
}

// NewManager builds a Manager.
func NewManager(pool *Pool, locker *Locker, signers SignerFactory, logger *zap.Logger) *Manager {
	return &Manager{pool: pool, locker: locker, signers: signers, logger: logger}
}

// Handle is an acquired wallet: a signer plus the lock that keeps it
// exclusive. Release it when the transaction work is done.
type Handle struct {
	signer  Signer
	lock    *Lock
	address common.Address
	manager *Manager
}

// Address returns the wallet address.
func (h *Handle) Address() common.Address { return h.address }

// Signer returns the wallet's signing capability.
func (h *Handle) Signer() Signer { return h.signer }

// SignTx signs a transaction for the given chain with the wallet key.
// It routes through the wallet's SignDigest, so remote-custody wallets
// work the same as local keys.
func (h *Handle) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	txSigner := types.LatestSignerForChainID(chainID)
	digest := txSigner.Hash(tx)
	sig, err := h.signer.SignDigest(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx.WithSignature(txSigner, sig)
}

// Release gives the wallet back synchronously and resets its
// advisory status.
func (h *Handle) Release(ctx context.Context) error {
	if err := h.manager.pool.SetStatus(ctx, h.address.Hex(), StatusAvailable, ""); err != nil {
		h.manager.logger.Warn("failed to reset wallet status",
			zap.String("wallet", h.address.Hex()), zap.Error(err))
	}
	return h.lock.Release(ctx)
}

// Close gives the wallet back without blocking the caller. The lock
// TTL bounds staleness if the release never lands.
func (h *Handle) Close() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Release(ctx); err != nil {
			h.manager.logger.Warn("async wallet release failed, TTL will reclaim",
				zap.String("wallet", h.address.Hex()), zap.Error(err))
		}
	}()
}

func (m *Manager) handleFor(ctx context.Context, info Info, lock *Lock) (*Handle, error) {
	signer, err := m.signers(info)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to build signer for wallet %s: %w", info.Address, err)
	}
	if err := m.pool.SetStatus(ctx, info.Address, StatusLocked, m.locker.instanceID); err != nil {
		m.logger.Warn("failed to set wallet status",
			zap.String("wallet", info.Address), zap.Error(err))
	}
	return &Handle{
		signer:  signer,
		lock:    lock,
		address: common.HexToAddress(info.Address),
		manager: m,
	}, nil
}

// AcquireAny locks the first free wallet in the pool. Advisory status
// only orders the candidates; a wallet marked available whose lock is
// held is skipped, and one marked locked whose lock expired is taken.
func (m *Manager) AcquireAny(ctx context.Context) (*Handle, error) {
	all, err := m.pool.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet pool: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoWalletAvailable
	}

	// Try status-available wallets first, then the rest.
	ordered := make([]Info, 0, len(all))
	for _, info := range all {
		if info.Status == StatusAvailable {
			ordered = append(ordered, info)
		}
	}
	for _, info := range all {
		if info.Status != StatusAvailable {
			ordered = append(ordered, info)
		}
	}

	for _, info := range ordered {
		lock, err := m.locker.TryAcquire(ctx, info.Address)
		if errors.Is(err, ErrLockHeld) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m.handleFor(ctx, info, lock)
	}
	return nil, fmt.Errorf("all %d pool wallets contended: %w", len(all), ErrNoWalletAvailable)
}

// AcquireSpecific locks one named wallet, waiting through the
// configured retry schedule if it is busy.
func (m *Manager) AcquireSpecific(ctx context.Context, address string) (*Handle, error) {
	info, err := m.pool.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	lock, err := m.locker.Acquire(ctx, info.Address)
	if err != nil {
		return nil, err
	}
	return m.handleFor(ctx, *info, lock)
}

// AcquireForBeacon locks the wallet designated to a beacon. Falls
// back to any free wallet when the beacon has no designation.
func (m *Manager) AcquireForBeacon(ctx context.Context, beaconAddr string) (*Handle, error) {
	walletAddr, err := m.pool.WalletForBeacon(ctx, beaconAddr)
	if err != nil {
		return nil, err
	}
	if walletAddr == "" {
		m.logger.Debug("beacon has no designated wallet, acquiring any",
			zap.String("beacon", beaconAddr))
		return m.AcquireAny(ctx)
	}
	return m.AcquireSpecific(ctx, walletAddr)
}
