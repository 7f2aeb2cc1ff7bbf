package perp

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/perpcity/beaconator/internal/chain"
)

func (f *fixture) emitManyPerpCreated(ids ...[32]byte) {
	f.client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		receipt := &types.Receipt{
			Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(1),
		}
		for _, id := range ids {
			payload, _ := chain.PerpABI.Events["PerpCreated"].Inputs.Pack(
				id, beaconAddr, mustSqrtPrice(50), big.NewInt(50))
			receipt.Logs = append(receipt.Logs, &types.Log{
				Address: managerAddr,
				Topics:  []common.Hash{chain.PerpABI.Events["PerpCreated"].ID},
				Data:    payload,
			})
		}
		return receipt, nil
	}
}

func (f *fixture) emitManyPositionOpened(perpIDs [][32]byte, posIDs []int64) {
	f.client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		receipt := &types.Receipt{
			Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(1),
		}
		for i, id := range perpIDs {
			payload, _ := chain.PerpABI.Events["PositionOpened"].Inputs.Pack(
				id, mustSqrtPrice(50), big.NewInt(0), big.NewInt(0),
				big.NewInt(posIDs[i]), true, big.NewInt(0))
			receipt.Logs = append(receipt.Logs, &types.Log{
				Address: managerAddr,
				Topics:  []common.Hash{chain.PerpABI.Events["PositionOpened"].ID},
				Data:    payload,
			})
		}
		return receipt, nil
	}
}

func TestBatchDeployBounds(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BatchDeploy(context.Background(), nil)
	require.ErrorIs(t, err, ErrBatchSize)

	reqs := make([]DeployRequest, MaxBatchSize+1)
	for i := range reqs {
		reqs[i] = deployReq()
	}
	_, err = f.svc.BatchDeploy(context.Background(), reqs)
	require.ErrorIs(t, err, ErrBatchSize)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestBatchDeploy(t *testing.T) {
	f := newFixture(t)
	idA, idB := [32]byte{0x0a}, [32]byte{0x0b}
	f.emitManyPerpCreated(idA, idB)

	res, err := f.svc.BatchDeploy(context.Background(), []DeployRequest{deployReq(), deployReq()})
	require.NoError(t, err)
	require.Equal(t, [][32]byte{idA, idB}, res.PerpIDs)
	require.Equal(t, 2, res.Summary.Requested)
	require.Equal(t, 2, res.Summary.Succeeded)
	require.Equal(t, 0, res.Summary.Failed)
	for _, r := range res.Results {
		require.True(t, r.OK)
		require.Equal(t, res.TxHash, r.TxHash)
	}

	require.Equal(t, 1, f.client.SubmittedCount())
	require.Equal(t, mc3Addr, *f.client.Submitted[0].To())
}

func TestBatchDeployMixedValidation(t *testing.T) {
	f := newFixture(t)
	id := [32]byte{0x0a}
	f.emitManyPerpCreated(id)

	bad := deployReq()
	bad.Fees = common.Address{}

	res, err := f.svc.BatchDeploy(context.Background(), []DeployRequest{bad, deployReq()})
	require.NoError(t, err)
	require.Equal(t, [][32]byte{id}, res.PerpIDs)
	require.False(t, res.Results[0].OK)
	require.Contains(t, res.Results[0].Err, "fees")
	require.True(t, res.Results[1].OK)
	require.Equal(t, 1, res.Summary.Succeeded)
	require.Equal(t, 1, res.Summary.Failed)
	require.Equal(t, 1, f.client.SubmittedCount())
}

func TestBatchDeployAllInvalid(t *testing.T) {
	f := newFixture(t)
	bad := deployReq()
	bad.StartingSqrtPriceX96 = nil

	res, err := f.svc.BatchDeploy(context.Background(), []DeployRequest{bad, bad})
	require.NoError(t, err)
	require.Empty(t, res.PerpIDs)
	require.Equal(t, 2, res.Summary.Failed)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestBatchDeployEventCountMismatch(t *testing.T) {
	f := newFixture(t)
	f.emitManyPerpCreated([32]byte{0x0a})

	_, err := f.svc.BatchDeploy(context.Background(), []DeployRequest{deployReq(), deployReq()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unparseable")
}

func TestBatchDeposit(t *testing.T) {
	f := newFixture(t)
	idA, idB := [32]byte{0x0a}, [32]byte{0x0b}
	f.emitManyPositionOpened([][32]byte{idA, idB}, []int64{7, 8})
	f.scriptERC20Reads(t, big.NewInt(100_000_000), big.NewInt(100_000_000))

	res, err := f.svc.BatchDeposit(context.Background(), []DepositRequest{
		depositReq(idA), depositReq(idB),
	})
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, res.ApproveTxHash)
	require.NotEqual(t, common.Hash{}, res.DepositTxHash)
	require.Equal(t, int64(7), res.Items[0].PositionID.Int64())
	require.Equal(t, int64(8), res.Items[1].PositionID.Int64())
	require.Equal(t, 2, res.Summary.Succeeded)

	require.Equal(t, 1, f.client.SubmittedCount())
	require.Equal(t, mc3Addr, *f.client.Submitted[0].To())
}

func TestBatchDepositApprovesTotal(t *testing.T) {
	f := newFixture(t)
	id := [32]byte{0x0a}
	f.emitManyPositionOpened([][32]byte{id, id}, []int64{7, 8})
	f.scriptERC20Reads(t, big.NewInt(100_000_000), big.NewInt(0))

	res, err := f.svc.BatchDeposit(context.Background(), []DepositRequest{
		depositReq(id), depositReq(id),
	})
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, res.ApproveTxHash)
	require.Equal(t, 2, f.client.SubmittedCount())

	approve := f.client.Submitted[0]
	require.Equal(t, usdcAddr, *approve.To())
	require.True(t, bytes.Equal(approve.Data()[:4], chain.ERC20ABI.Methods["approve"].ID))
	require.Equal(t, mc3Addr, *f.client.Submitted[1].To())
}

func TestBatchDepositInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	id := [32]byte{0x0a}
	// Two 10 USDC margins against a 15 USDC balance.
	f.scriptERC20Reads(t, big.NewInt(15_000_000), big.NewInt(0))

	_, err := f.svc.BatchDeposit(context.Background(), []DepositRequest{
		depositReq(id), depositReq(id),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient USDC balance")
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestBatchDepositMixedValidation(t *testing.T) {
	f := newFixture(t)
	id := [32]byte{0x0a}
	f.emitManyPositionOpened([][32]byte{id}, []int64{7})
	f.scriptERC20Reads(t, big.NewInt(100_000_000), big.NewInt(100_000_000))

	bad := depositReq(id)
	bad.TickLower = 5

	res, err := f.svc.BatchDeposit(context.Background(), []DepositRequest{bad, depositReq(id)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items[0].Err)
	require.Nil(t, res.Items[0].PositionID)
	require.Equal(t, int64(7), res.Items[1].PositionID.Int64())
	require.Equal(t, 1, res.Summary.Succeeded)
	require.Equal(t, 1, res.Summary.Failed)
	require.Equal(t, 1, f.client.SubmittedCount())
}

func TestBatchDepositEventPerpMismatch(t *testing.T) {
	f := newFixture(t)
	idA, idB := [32]byte{0x0a}, [32]byte{0x0b}
	f.emitManyPositionOpened([][32]byte{idB, idA}, []int64{7, 8})
	f.scriptERC20Reads(t, big.NewInt(100_000_000), big.NewInt(100_000_000))

	_, err := f.svc.BatchDeposit(context.Background(), []DepositRequest{
		depositReq(idA), depositReq(idB),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unparseable")
}

func TestBatchDepositBounds(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BatchDeposit(context.Background(), nil)
	require.ErrorIs(t, err, ErrBatchSize)

	reqs := make([]DepositRequest, MaxBatchSize+1)
	for i := range reqs {
		reqs[i] = depositReq([32]byte{0x0a})
	}
	_, err = f.svc.BatchDeposit(context.Background(), reqs)
	require.ErrorIs(t, err, ErrBatchSize)
	require.Equal(t, 0, f.client.SubmittedCount())
}
