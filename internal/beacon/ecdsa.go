package beacon

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/wallet"
)

// ErrNotDesignatedSigner is returned when the wallet holding a
// beacon's signing duty does not match the verifier adapter's SIGNER.
// Retrying cannot fix it; the adapter or the designation is wrong.
var ErrNotDesignatedSigner = errors.New("wallet is not the adapter's designated signer")

// uint256PairArgs encodes the adapter's (measurement, nonce) input
// blob.
var uint256PairArgs = func() abi.Arguments {
	u256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: u256}, {Type: u256}}
}()

// ECDSAUpdateRequest carries a signature-verified index update.
type ECDSAUpdateRequest struct {
	Beacon      common.Address
	Measurement *big.Int
}

// ECDSAUpdateResult reports an index update.
type ECDSAUpdateResult struct {
	TxHash       common.Hash
	Nonce        *big.Int
	EventMissing bool
}

// UpdateWithECDSA updates an ECDSA-verified beacon: the measurement
// is signed off-chain by the beacon's designated wallet and the
// signature is verified on-chain by the beacon's adapter. Gas is paid
// by a separate pool wallet when one is free, so the signing identity
// never races its own submissions.
func (s *Service) UpdateWithECDSA(ctx context.Context, req ECDSAUpdateRequest) (*ECDSAUpdateResult, error) {
	if req.Beacon == (common.Address{}) {
		return nil, fmt.Errorf("%w: beacon address is zero", ErrInvalidAddress)
	}
	if req.Measurement == nil {
		return nil, errors.New("measurement is required")
	}

	// Resolve the beacon's verifier adapter and its expected signer.
	adapterQuery, err := chain.EncodeVerifierAdapterQuery()
	if err != nil {
		return nil, err
	}
	out, err := chain.Call(ctx, s.client, req.Beacon, adapterQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read verifier adapter from %s: %w", req.Beacon.Hex(), err)
	}
	adapter, err := chain.DecodeAddressResult(chain.EcdsaABI, "verifierAdapter", out)
	if err != nil {
		return nil, err
	}

	signerQuery, err := chain.EncodeSignerQuery()
	if err != nil {
		return nil, err
	}
	out, err = chain.Call(ctx, s.client, adapter, signerQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read SIGNER from adapter %s: %w", adapter.Hex(), err)
	}
	expectedSigner, err := chain.DecodeAddressResult(chain.AdapterABI, "SIGNER", out)
	if err != nil {
		return nil, err
	}

	// The designated wallet must be the adapter's signer. Fail before
	// burning gas when it is not.
	signing, err := s.manager.AcquireForBeacon(ctx, req.Beacon.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire signing wallet for beacon %s: %w", req.Beacon.Hex(), err)
	}
	defer signing.Close()

	if signing.Address() != expectedSigner {
		return nil, fmt.Errorf("%w: wallet %s, adapter expects %s",
			ErrNotDesignatedSigner, signing.Address().Hex(), expectedSigner.Hex())
	}

	nonce := big.NewInt(time.Now().Unix())

	digestQuery, err := chain.EncodeDigestQuery(req.Measurement, nonce)
	if err != nil {
		return nil, err
	}
	out, err = chain.Call(ctx, s.client, adapter, digestQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to compute digest on adapter %s: %w", adapter.Hex(), err)
	}
	digest, err := chain.DecodeDigestResult(out)
	if err != nil {
		return nil, err
	}

	signature, err := signing.Signer().SignDigest(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	if len(signature) != 65 {
		return nil, fmt.Errorf("signer produced %d-byte signature, want 65", len(signature))
	}

	inputs, err := uint256PairArgs.Pack(req.Measurement, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inputs: %w", err)
	}
	calldata, err := chain.EncodeUpdateIndex(signature, inputs)
	if err != nil {
		return nil, err
	}

	// Prefer a distinct gas payer; fall back to the signing wallet
	// when the rest of the pool is busy.
	payer := signing
	if gas, err := s.manager.AcquireAny(ctx); err == nil {
		payer = gas
		defer gas.Close()
	} else if !errors.Is(err, wallet.ErrNoWalletAvailable) {
		return nil, fmt.Errorf("failed to acquire gas wallet: %w", err)
	}

	hash, receipt, err := s.submitter.SubmitAndConfirm(ctx, payer, req.Beacon, calldata, nil)
	if err != nil {
		return nil, fmt.Errorf("updateIndex failed: %w", err)
	}

	result := &ECDSAUpdateResult{TxHash: hash, Nonce: nonce}
	if !chain.HasIndexUpdated(receipt, req.Beacon) {
		s.logger.Warn("updateIndex confirmed but IndexUpdated event missing",
			zap.String("beacon", req.Beacon.Hex()),
			zap.String("tx", hash.Hex()))
		result.EventMissing = true
		return result, nil
	}

	s.logger.Info("beacon index updated",
		zap.String("beacon", req.Beacon.Hex()),
		zap.String("signer", signing.Address().Hex()),
		zap.String("payer", payer.Address().Hex()),
		zap.String("tx", hash.Hex()))
	return result, nil
}
