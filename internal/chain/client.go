package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the chain capability the services consume. Tests swap in
// a fake; production uses the ethclient implementation from Dial.
type Client interface {
	SubmitTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitForReceipt blocks until the transaction is mined or ctx
	// is done.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// ReceiptByHash returns nil, nil when the node does not know
	// the transaction yet.
	ReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthClient implements Client over a JSON-RPC endpoint.
type EthClient struct {
	ec *ethclient.Client
}

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", url, err)
	}
	return &EthClient{ec: ec}, nil
}

func (c *EthClient) SubmitTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.ec.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to send transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

func (c *EthClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (c *EthClient) ReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.ec.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

func (c *EthClient) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, addr)
}

func (c *EthClient) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return c.ec.CodeAt(ctx, addr, nil)
}

func (c *EthClient) CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
	return c.ec.CallContract(ctx, call, nil)
}

func (c *EthClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, addr, nil)
}

func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasPrice(ctx)
}

func (c *EthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return c.ec.EstimateGas(ctx, call)
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ec.ChainID(ctx)
}
