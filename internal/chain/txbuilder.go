package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// TxSigner signs an assembled transaction for one wallet identity.
// wallet.Handle satisfies it.
type TxSigner interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// TxBuilder assembles signed legacy transactions: pending nonce from
// the node, suggested gas price with headroom, estimated gas with a
// buffer against state drift between estimate and inclusion.
type TxBuilder struct {
	client  Client
	chainID *big.Int
	logger  *zap.Logger
}

// NewTxBuilder builds a TxBuilder bound to one client and chain.
func NewTxBuilder(client Client, chainID *big.Int, logger *zap.Logger) *TxBuilder {
	return &TxBuilder{client: client, chainID: chainID, logger: logger}
}

// gas price headroom 110%, gas limit buffer 120%
var (
	gasPriceNum = big.NewInt(110)
	gasPriceDen = big.NewInt(100)
)

const gasLimitBufferPct = 120

// BuildAndSign assembles and signs a call to `to` with the wallet's
// next pending nonce.
func (b *TxBuilder) BuildAndSign(ctx context.Context, signer TxSigner, to common.Address, calldata []byte, value *big.Int) (*types.Transaction, error) {
	nonce, err := b.client.PendingNonceAt(ctx, signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending nonce for %s: %w", signer.Address().Hex(), err)
	}
	return b.BuildAndSignWithNonce(ctx, signer, to, calldata, value, nonce)
}

// BuildAndSignWithNonce assembles and signs a call with an explicit
// nonce, used when resubmitting after a nonce conflict.
func (b *TxBuilder) BuildAndSignWithNonce(ctx context.Context, signer TxSigner, to common.Address, calldata []byte, value *big.Int, nonce uint64) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, gasPriceNum), gasPriceDen)

	gasLimit, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     signer.Address(),
		To:       &to,
		Value:    value,
		Data:     calldata,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas for call to %s: %w", to.Hex(), err)
	}
	gasLimit = gasLimit * gasLimitBufferPct / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := signer.SignTx(ctx, tx, b.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	b.logger.Debug("transaction built",
		zap.String("from", signer.Address().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit),
		zap.String("hash", signed.Hash().Hex()))
	return signed, nil
}

// Call runs a read-only contract call from the zero address.
func Call(ctx context.Context, client Client, to common.Address, calldata []byte) ([]byte, error) {
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata})
	if err != nil {
		return nil, fmt.Errorf("read call to %s failed: %w", to.Hex(), err)
	}
	return out, nil
}
