package txexec

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/perpcity/beaconator/internal/chain"
)

// Submitter is the shared single-call submission path: build, submit
// under the gate (with nonce recovery when available), confirm.
type Submitter struct {
	client   chain.Client
	builder  *chain.TxBuilder
	resyncer *Resyncer
	gate     Gate
	retrier  *Retrier
}

// NewSubmitter builds a Submitter. resyncer may be nil.
func NewSubmitter(client chain.Client, builder *chain.TxBuilder, resyncer *Resyncer, gate Gate, retrier *Retrier) *Submitter {
	return &Submitter{client: client, builder: builder, resyncer: resyncer, gate: gate, retrier: retrier}
}

// Submit sends one call and returns the hash that went out. Only the
// submission holds the gate.
func (s *Submitter) Submit(ctx context.Context, signer chain.TxSigner, to common.Address, calldata []byte, value *big.Int) (common.Hash, error) {
	var hash common.Hash
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := s.builder.BuildAndSign(ctx, signer, to, calldata, value)
		if err != nil {
			return err
		}
		if s.resyncer != nil {
			hash, err = s.resyncer.Submit(ctx, signer, tx)
			return err
		}
		if err := s.client.SubmitTransaction(ctx, tx); err != nil {
			return err
		}
		hash = tx.Hash()
		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("submission to %s failed: %w", to.Hex(), err)
	}
	return hash, nil
}

// SubmitAndConfirm submits one call and waits for its receipt. The
// returned hash is valid even when confirmation fails, so callers can
// surface it.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, signer chain.TxSigner, to common.Address, calldata []byte, value *big.Int) (common.Hash, *types.Receipt, error) {
	hash, err := s.Submit(ctx, signer, to, calldata, value)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := s.retrier.Confirm(ctx, hash)
	if err != nil {
		return hash, nil, err
	}
	return hash, receipt, nil
}

// SubmitAndConfirmWith behaves like SubmitAndConfirm but confirms
// with a caller-supplied retrier, for paths with longer deadlines.
func (s *Submitter) SubmitAndConfirmWith(ctx context.Context, retrier *Retrier, signer chain.TxSigner, to common.Address, calldata []byte, value *big.Int) (common.Hash, *types.Receipt, error) {
	hash, err := s.Submit(ctx, signer, to, calldata, value)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := retrier.Confirm(ctx, hash)
	if err != nil {
		return hash, nil, err
	}
	return hash, receipt, nil
}
