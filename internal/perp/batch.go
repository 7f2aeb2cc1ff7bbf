package perp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/txexec"
)

// MaxBatchSize bounds one perp batch. Markets and maker positions
// are gas-heavy, so the cap is much lower than the beacon batch cap.
const MaxBatchSize = 10

// ErrBatchSize is returned when a batch count falls outside
// [1, MaxBatchSize].
var ErrBatchSize = errors.New("perp batch size out of range")

// BatchDeployResult reports a deployment batch. PerpIDs aligns with
// the valid items in input order; Results covers every input.
type BatchDeployResult struct {
	PerpIDs [][32]byte
	TxHash  common.Hash
	Results []txexec.BatchResult
	Summary txexec.BatchSummary
}

// BatchDeploy creates up to MaxBatchSize perps in one atomic
// multicall from one wallet. Requests that fail validation become
// failure entries; the valid remainder deploys all-or-nothing.
func (s *Service) BatchDeploy(ctx context.Context, reqs []DeployRequest) (*BatchDeployResult, error) {
	if len(reqs) < 1 || len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrBatchSize, len(reqs), MaxBatchSize)
	}

	results := make([]txexec.BatchResult, len(reqs))
	var items []txexec.BatchItem
	var validIdx []int
	for i, req := range reqs {
		results[i] = txexec.BatchResult{Key: "deploy-" + strconv.Itoa(i)}
		if err := s.validateDeploy(ctx, req); err != nil {
			results[i].Err = err.Error()
			continue
		}
		calldata, err := chain.EncodeCreatePerp(chain.CreatePerpParams{
			Beacon:               req.Beacon,
			Fees:                 req.Fees,
			MarginRatios:         req.MarginRatios,
			LockupPeriod:         req.LockupPeriod,
			SqrtPriceImpactLimit: req.SqrtPriceImpactLimit,
			StartingSqrtPriceX96: req.StartingSqrtPriceX96,
		})
		if err != nil {
			results[i].Err = err.Error()
			continue
		}
		items = append(items, txexec.BatchItem{
			Key:      results[i].Key,
			Target:   s.perpManager,
			CallData: calldata,
		})
		validIdx = append(validIdx, i)
	}

	out := &BatchDeployResult{Results: results}
	if len(items) == 0 {
		out.Summary = summarize(results)
		return out, nil
	}

	handle, err := s.manager.AcquireAny(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire wallet: %w", err)
	}
	defer handle.Close()

	hash, receipt, err := s.executor.ExecuteAtomic(ctx, handle, items)
	if err != nil {
		if reason := TryDecodeRevertReason(err); reason != "" {
			return nil, fmt.Errorf("perp batch deployment failed: %s: %w", reason, err)
		}
		return nil, fmt.Errorf("perp batch deployment failed: %w", err)
	}
	out.TxHash = hash

	ids, err := chain.ParseAllPerpCreated(receipt, s.perpManager)
	if err != nil {
		return nil, fmt.Errorf("perp batch succeeded in tx %s but events are unparseable: %w", hash.Hex(), err)
	}
	if len(ids) != len(items) {
		return nil, fmt.Errorf("perp batch %s emitted %d creation events for %d items; results unparseable",
			hash.Hex(), len(ids), len(items))
	}

	out.PerpIDs = ids
	for _, i := range validIdx {
		results[i].OK = true
		results[i].TxHash = hash
	}
	out.Summary = summarize(results)

	s.logger.Info("perp batch deployed",
		zap.Int("requested", out.Summary.Requested),
		zap.Int("succeeded", out.Summary.Succeeded),
		zap.Int("failed", out.Summary.Failed),
		zap.String("tx", hash.Hex()))
	return out, nil
}

// BatchDepositItem reports one deposit of a batch.
type BatchDepositItem struct {
	PerpID     [32]byte
	PositionID *big.Int
	Liquidity  *big.Int
	Err        string
}

// BatchDepositResult reports a deposit batch with one entry per
// input, in input order.
type BatchDepositResult struct {
	Items         []BatchDepositItem
	ApproveTxHash common.Hash
	DepositTxHash common.Hash
	Summary       txexec.BatchSummary
}

// BatchDeposit opens up to MaxBatchSize maker positions in one atomic
// multicall from one wallet. Per-item validation failures become
// failure entries before any network call; the valid remainder shares
// one balance check, at most one approval sized to the margin total,
// and one aggregate transaction.
func (s *Service) BatchDeposit(ctx context.Context, reqs []DepositRequest) (*BatchDepositResult, error) {
	if len(reqs) < 1 || len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrBatchSize, len(reqs), MaxBatchSize)
	}

	out := &BatchDepositResult{Items: make([]BatchDepositItem, len(reqs))}
	margins := make([]*big.Int, len(reqs))
	liquidities := make([]*big.Int, len(reqs))
	total := new(big.Int)
	var validIdx []int
	for i, req := range reqs {
		out.Items[i].PerpID = req.PerpID
		margin, liquidity, err := s.validateDeposit(req)
		if err != nil {
			out.Items[i].Err = err.Error()
			continue
		}
		margins[i] = margin
		liquidities[i] = liquidity
		total.Add(total, margin)
		validIdx = append(validIdx, i)
	}

	if len(validIdx) == 0 {
		out.Summary = depositSummary(out.Items)
		return out, nil
	}

	handle, err := s.manager.AcquireAny(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire wallet: %w", err)
	}
	defer handle.Close()
	holder := handle.Address()

	balance, err := s.readUint(ctx, s.usdc, chain.EncodeBalanceOfQuery, holder, "balanceOf")
	if err != nil {
		return nil, fmt.Errorf("failed to check USDC balance: %w", err)
	}
	if balance.Cmp(total) < 0 {
		return nil, fmt.Errorf("insufficient USDC balance: have %.6f, need %.6f", usdc(balance), usdc(total))
	}

	out.ApproveTxHash, err = s.ensureAllowance(ctx, handle, total)
	if err != nil {
		return nil, err
	}

	items := make([]txexec.BatchItem, 0, len(validIdx))
	for _, i := range validIdx {
		openCall, err := chain.EncodeOpenMakerPos(reqs[i].PerpID, chain.OpenMakerPositionParams{
			Holder:    holder,
			Margin:    margins[i],
			Liquidity: liquidities[i],
			TickLower: big.NewInt(int64(reqs[i].TickLower)),
			TickUpper: big.NewInt(int64(reqs[i].TickUpper)),
			MaxAmt0In: maxAmountIn,
			MaxAmt1In: maxAmountIn,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, txexec.BatchItem{
			Key:      "deposit-" + strconv.Itoa(i),
			Target:   s.perpManager,
			CallData: openCall,
		})
	}

	hash, receipt, err := s.executor.ExecuteAtomic(ctx, handle, items)
	if err != nil {
		if reason := TryDecodeRevertReason(err); reason != "" {
			return nil, fmt.Errorf("batch liquidity deposit failed: %s: %w", reason, err)
		}
		return nil, fmt.Errorf("batch liquidity deposit failed: %w", err)
	}
	out.DepositTxHash = hash

	opened, err := chain.ParseAllPositionOpened(receipt, s.perpManager)
	if err != nil {
		return nil, fmt.Errorf("batch deposit succeeded in tx %s but events are unparseable: %w", hash.Hex(), err)
	}
	if len(opened) != len(validIdx) {
		return nil, fmt.Errorf("batch deposit %s emitted %d position events for %d items; results unparseable",
			hash.Hex(), len(opened), len(validIdx))
	}

	// Calls execute in input order, so events align positionally.
	for pos, i := range validIdx {
		if opened[pos].PerpID != reqs[i].PerpID {
			return nil, fmt.Errorf("batch deposit %s event %d is for perp %x, expected %x; results unparseable",
				hash.Hex(), pos, opened[pos].PerpID, reqs[i].PerpID)
		}
		out.Items[i].PositionID = opened[pos].PosID
		out.Items[i].Liquidity = liquidities[i]
	}
	out.Summary = depositSummary(out.Items)

	s.logger.Info("batch liquidity deposited",
		zap.Int("requested", out.Summary.Requested),
		zap.Int("succeeded", out.Summary.Succeeded),
		zap.Int("failed", out.Summary.Failed),
		zap.String("margin_total", total.String()),
		zap.String("tx", hash.Hex()))
	return out, nil
}

func summarize(results []txexec.BatchResult) txexec.BatchSummary {
	s := txexec.BatchSummary{Requested: len(results)}
	for _, r := range results {
		if r.OK {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

func depositSummary(items []BatchDepositItem) txexec.BatchSummary {
	s := txexec.BatchSummary{Requested: len(items)}
	for _, it := range items {
		if it.Err == "" {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}
