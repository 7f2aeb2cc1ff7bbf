// Package chaintest provides a scriptable in-memory chain client for
// tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client implements chain.Client with per-method hooks. Unset hooks
// fall back to benign defaults so tests only script what they assert.
type Client struct {
	mu sync.Mutex

	SubmitFn      func(ctx context.Context, tx *types.Transaction) error
	WaitFn        func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ReceiptFn     func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	NonceFn       func(ctx context.Context, addr common.Address) (uint64, error)
	CodeFn        func(ctx context.Context, addr common.Address) ([]byte, error)
	CallFn        func(ctx context.Context, call ethereum.CallMsg) ([]byte, error)
	BalanceFn     func(ctx context.Context, addr common.Address) (*big.Int, error)
	GasPriceFn    func(ctx context.Context) (*big.Int, error)
	EstimateGasFn func(ctx context.Context, call ethereum.CallMsg) (uint64, error)

	Submitted []*types.Transaction
	ChainIDV  *big.Int
}

// NewClient returns a fake on chain id 1337.
func NewClient() *Client {
	return &Client{ChainIDV: big.NewInt(1337)}
}

func (c *Client) SubmitTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	c.Submitted = append(c.Submitted, tx)
	c.mu.Unlock()
	if c.SubmitFn != nil {
		return c.SubmitFn(ctx, tx)
	}
	return nil
}

// SubmittedCount returns how many transactions were submitted.
func (c *Client) SubmittedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submitted)
}

func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.WaitFn != nil {
		return c.WaitFn(ctx, hash)
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
}

func (c *Client) ReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.ReceiptFn != nil {
		return c.ReceiptFn(ctx, hash)
	}
	return nil, nil
}

func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	if c.NonceFn != nil {
		return c.NonceFn(ctx, addr)
	}
	return 0, nil
}

func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	if c.CodeFn != nil {
		return c.CodeFn(ctx, addr)
	}
	return []byte{0x60}, nil
}

func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
	if c.CallFn != nil {
		return c.CallFn(ctx, call)
	}
	return nil, fmt.Errorf("no call hook scripted for %v", call.To)
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	if c.BalanceFn != nil {
		return c.BalanceFn(ctx, addr)
	}
	return big.NewInt(0), nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if c.GasPriceFn != nil {
		return c.GasPriceFn(ctx)
	}
	return big.NewInt(1_000_000_000), nil
}

func (c *Client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if c.EstimateGasFn != nil {
		return c.EstimateGasFn(ctx, call)
	}
	return 100_000, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ChainIDV, nil
}
