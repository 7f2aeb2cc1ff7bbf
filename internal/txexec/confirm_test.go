package txexec

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain/chaintest"
)

func fastRetrier(client *chaintest.Client) *Retrier {
	return NewRetrierWithSchedule(client,
		50*time.Millisecond, 50*time.Millisecond,
		[]time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond},
		time.Millisecond, zap.NewNop())
}

func TestConfirmNativeWaitSucceeds(t *testing.T) {
	client := chaintest.NewClient()
	hash := common.HexToHash("0xabc")

	receipt, err := fastRetrier(client).Confirm(context.Background(), hash)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if receipt.TxHash != hash {
		t.Errorf("wrong receipt returned")
	}
}

func TestConfirmFallsBackToDirectPoll(t *testing.T) {
	client := chaintest.NewClient()
	hash := common.HexToHash("0xabc")
	client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		return nil, errors.New("websocket subscription dropped")
	}
	client.ReceiptFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(5)}, nil
	}

	receipt, err := fastRetrier(client).Confirm(context.Background(), hash)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if receipt.BlockNumber.Int64() != 5 {
		t.Errorf("wrong receipt")
	}
}

func TestConfirmReverted(t *testing.T) {
	client := chaintest.NewClient()
	hash := common.HexToHash("0xabc")
	client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: h, BlockNumber: big.NewInt(9)}, nil
	}

	_, err := fastRetrier(client).Confirm(context.Background(), hash)
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	if !strings.Contains(err.Error(), hash.Hex()) {
		t.Errorf("revert error should name the hash: %v", err)
	}
	if !strings.Contains(err.Error(), "block 9") {
		t.Errorf("revert error should name the block: %v", err)
	}
}

func TestConfirmNotFoundNamesHashAndSchedule(t *testing.T) {
	client := chaintest.NewClient()
	hash := common.HexToHash("0xdef")
	client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		return nil, errors.New("timed out")
	}
	// ReceiptFn default returns nil, nil: never found.

	_, err := fastRetrier(client).Confirm(context.Background(), hash)
	if !errors.Is(err, ErrNotFoundOnChain) {
		t.Fatalf("expected ErrNotFoundOnChain, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, hash.Hex()) {
		t.Errorf("terminal error should name the hash: %v", msg)
	}
	if !strings.Contains(msg, "3 poll attempts") {
		t.Errorf("terminal error should name the attempt count: %v", msg)
	}
}

func TestConfirmDistinguishesRevertFromNotFound(t *testing.T) {
	client := chaintest.NewClient()
	client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		return nil, errors.New("timed out")
	}
	_, err := fastRetrier(client).Confirm(context.Background(), common.HexToHash("0x1"))
	if errors.Is(err, ErrReverted) {
		t.Error("not-found must not classify as reverted")
	}
}

func TestConfirmRespectsCancellation(t *testing.T) {
	client := chaintest.NewClient()
	client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	client.ReceiptFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		return nil, nil
	}

	retrier := NewRetrierWithSchedule(client,
		time.Hour, time.Hour, []time.Duration{time.Hour}, time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := retrier.Confirm(ctx, common.HexToHash("0x1"))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
