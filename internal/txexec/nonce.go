package txexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
)

// ErrNoAlternateEndpoint is returned when nonce resync is requested
// but no alternate RPC endpoint is configured.
var ErrNoAlternateEndpoint = errors.New("no alternate rpc endpoint configured")

// noncePhrases are the exact error fragments that identify a nonce
// conflict. Matching is substring and case-insensitive; a bare
// "nonce" or "replacement" is not enough.
var noncePhrases = []string{
	"nonce too low",
	"nonce too high",
	"invalid nonce",
	"nonce is invalid",
	"replacement transaction underpriced",
	"replacement tx underpriced",
}

// IsNonceError reports whether an RPC error message indicates a
// nonce conflict with another in-flight transaction.
func IsNonceError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range noncePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Resyncer recovers from nonce conflicts by consulting an alternate
// RPC endpoint whose mempool view may differ from the primary's.
type Resyncer struct {
	primary    chain.Client
	alternate  chain.Client // nil when unconfigured
	builder    *chain.TxBuilder
	altBuilder *chain.TxBuilder
	pause      time.Duration
	logger     *zap.Logger
}

// NewResyncer builds a Resyncer. alternate and altBuilder may be nil.
func NewResyncer(primary, alternate chain.Client, builder, altBuilder *chain.TxBuilder, logger *zap.Logger) *Resyncer {
	return &Resyncer{
		primary:    primary,
		alternate:  alternate,
		builder:    builder,
		altBuilder: altBuilder,
		pause:      2 * time.Second,
		logger:     logger,
	}
}

// FreshNonce fetches the pending nonce for addr from the alternate
// endpoint.
func (r *Resyncer) FreshNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if r.alternate == nil {
		return 0, ErrNoAlternateEndpoint
	}
	nonce, err := r.alternate.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch nonce from alternate endpoint: %w", err)
	}
	return nonce, nil
}

// Submit sends a signed transaction on the primary endpoint. On a
// nonce-classified error it pauses briefly, resyncs the nonce from
// the alternate endpoint, rebuilds the call, and resubmits once on
// the alternate. Returns the hash of whichever transaction went out.
func (r *Resyncer) Submit(ctx context.Context, signer chain.TxSigner, tx *types.Transaction) (common.Hash, error) {
	err := r.primary.SubmitTransaction(ctx, tx)
	if err == nil {
		return tx.Hash(), nil
	}
	if !IsNonceError(err.Error()) {
		return common.Hash{}, err
	}

	r.logger.Warn("nonce conflict on submit, resyncing from alternate endpoint",
		zap.String("wallet", signer.Address().Hex()),
		zap.String("hash", tx.Hash().Hex()),
		zap.Error(err))

	if r.alternate == nil || r.altBuilder == nil {
		return common.Hash{}, fmt.Errorf("nonce conflict and no recovery path: %w", err)
	}

	select {
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	case <-time.After(r.pause):
	}

	nonce, nerr := r.FreshNonce(ctx, signer.Address())
	if nerr != nil {
		r.logger.Warn("nonce resync failed, resubmitting with original nonce",
			zap.String("wallet", signer.Address().Hex()),
			zap.Error(nerr))
		nonce = tx.Nonce()
	}

	if tx.To() == nil {
		return common.Hash{}, fmt.Errorf("cannot rebuild contract-creation transaction %s after nonce conflict: %w", tx.Hash().Hex(), err)
	}
	rebuilt, berr := r.altBuilder.BuildAndSignWithNonce(ctx, signer, *tx.To(), tx.Data(), tx.Value(), nonce)
	if berr != nil {
		return common.Hash{}, fmt.Errorf("primary submit failed (%v) and rebuild failed: %w", err, berr)
	}
	if serr := r.alternate.SubmitTransaction(ctx, rebuilt); serr != nil {
		return common.Hash{}, fmt.Errorf("primary submit failed (%v) and alternate submit failed: %w", err, serr)
	}

	r.logger.Info("transaction resubmitted on alternate endpoint",
		zap.String("wallet", signer.Address().Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("hash", rebuilt.Hash().Hex()))
	return rebuilt.Hash(), nil
}
