package txexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
)

// ErrReverted marks a mined transaction whose status is failed.
var ErrReverted = errors.New("transaction reverted")

// ErrNotFoundOnChain marks a transaction no endpoint could find after
// the full retry ladder.
var ErrNotFoundOnChain = errors.New("transaction not found on chain")

// Retrier confirms submitted transactions through a layered ladder:
// a native receipt wait, then a direct poll, then progressively
// longer direct polls. The layers paper over endpoints whose
// subscription path lags their polling path.
type Retrier struct {
	client      chain.Client
	waitTimeout time.Duration
	pollTimeout time.Duration
	schedule    []time.Duration
	pause       time.Duration
	logger      *zap.Logger
}

// NewRetrier builds a Retrier with the production ladder: 60s native
// wait, 30s direct poll, then 15s/30s/60s polls with 3s pauses.
func NewRetrier(client chain.Client, logger *zap.Logger) *Retrier {
	return &Retrier{
		client:      client,
		waitTimeout: 60 * time.Second,
		pollTimeout: 30 * time.Second,
		schedule:    []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second},
		pause:       3 * time.Second,
		logger:      logger,
	}
}

// NewRetrierWithSchedule builds a Retrier with explicit timing, used
// by tests and the slower perp deposit path.
func NewRetrierWithSchedule(client chain.Client, waitTimeout, pollTimeout time.Duration, schedule []time.Duration, pause time.Duration, logger *zap.Logger) *Retrier {
	return &Retrier{
		client:      client,
		waitTimeout: waitTimeout,
		pollTimeout: pollTimeout,
		schedule:    schedule,
		pause:       pause,
		logger:      logger,
	}
}

func checkStatus(receipt *types.Receipt) (*types.Receipt, error) {
	if receipt.Status == types.ReceiptStatusFailed {
		block := uint64(0)
		if receipt.BlockNumber != nil {
			block = receipt.BlockNumber.Uint64()
		}
		return nil, fmt.Errorf("%w: tx %s in block %d", ErrReverted, receipt.TxHash.Hex(), block)
	}
	return receipt, nil
}

// Confirm blocks until the transaction is mined and returns its
// receipt. A mined-but-failed transaction returns ErrReverted; a
// transaction never seen returns ErrNotFoundOnChain naming the hash
// and the full retry schedule.
func (r *Retrier) Confirm(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	// Layer 1: native wait.
	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	receipt, err := r.client.WaitForReceipt(waitCtx, hash)
	cancel()
	if err == nil {
		return checkStatus(receipt)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("confirmation of %s interrupted: %w", hash.Hex(), ctx.Err())
	}

	r.logger.Warn("native receipt wait failed, falling back to direct poll",
		zap.String("hash", hash.Hex()), zap.Error(err))

	// Layer 2: one direct poll window.
	receipt, perr := r.pollOnce(ctx, hash, r.pollTimeout)
	if perr == nil && receipt != nil {
		return checkStatus(receipt)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("confirmation of %s interrupted: %w", hash.Hex(), ctx.Err())
	}

	// Layer 3: progressive poll windows.
	for i, window := range r.schedule {
		r.logger.Warn("transaction still unconfirmed, extending poll window",
			zap.String("hash", hash.Hex()),
			zap.Int("attempt", i+1),
			zap.Duration("window", window))
		receipt, perr = r.pollOnce(ctx, hash, window)
		if perr == nil && receipt != nil {
			return checkStatus(receipt)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("confirmation of %s interrupted: %w", hash.Hex(), ctx.Err())
		}
		if i < len(r.schedule)-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.pause):
			}
		}
	}

	return nil, fmt.Errorf("%w: tx %s not found after %d poll attempts (schedule %v)",
		ErrNotFoundOnChain, hash.Hex(), len(r.schedule), r.schedule)
}

// pollOnce polls ReceiptByHash for up to window, returning nil, nil
// when the transaction stayed unknown for the whole window.
func (r *Retrier) pollOnce(ctx context.Context, hash common.Hash, window time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(window)
	for {
		receipt, err := r.client.ReceiptByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
