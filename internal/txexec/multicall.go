package txexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
)

// BatchItem is one call of a multicall batch. Key identifies the item
// in results; it is never interpreted.
type BatchItem struct {
	Key          string
	Target       common.Address
	CallData     []byte
	AllowFailure bool
}

// BatchResult is the outcome of one batch item. Unverified marks
// results reported optimistically because the aggregate succeeded but
// per-item outcomes could not be decoded.
type BatchResult struct {
	Key        string
	OK         bool
	TxHash     common.Hash
	ReturnData []byte
	Err        string
	Unverified bool
}

// BatchSummary counts outcomes over the requested items. The optional
// diagnostic entry is excluded.
type BatchSummary struct {
	Requested int
	Succeeded int
	Failed    int
}

// Executor submits atomic multicall batches and accounts for every
// item individually.
type Executor struct {
	client     chain.Client
	builder    *chain.TxBuilder
	resyncer   *Resyncer
	gate       Gate
	retrier    *Retrier
	multicall3 common.Address
	logger     *zap.Logger
}

// NewExecutor builds an Executor. resyncer may be nil when no
// alternate endpoint exists.
func NewExecutor(client chain.Client, builder *chain.TxBuilder, resyncer *Resyncer, gate Gate, retrier *Retrier, multicall3 common.Address, logger *zap.Logger) *Executor {
	return &Executor{
		client:     client,
		builder:    builder,
		resyncer:   resyncer,
		gate:       gate,
		retrier:    retrier,
		multicall3: multicall3,
		logger:     logger,
	}
}

func validateItem(item BatchItem) error {
	if item.Target == (common.Address{}) {
		return errors.New("item has zero target address")
	}
	if len(item.CallData) == 0 {
		return errors.New("item has empty call data")
	}
	return nil
}

func summarize(results []BatchResult, requested int) BatchSummary {
	s := BatchSummary{Requested: requested}
	for _, r := range results {
		if r.Key == "" && r.Err != "" && !r.OK {
			continue // diagnostic entry
		}
		if r.OK {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// Execute packs the items into one aggregate3 transaction, submits it
// under the serialization gate, confirms it, then re-simulates the
// same call set read-only to recover per-item outcomes. The result
// slice always has one entry per item, in input order.
func (e *Executor) Execute(ctx context.Context, signer chain.TxSigner, items []BatchItem) ([]BatchResult, BatchSummary, error) {
	results := make([]BatchResult, len(items))
	var calls []chain.Call3
	var validIdx []int

	for i, item := range items {
		results[i] = BatchResult{Key: item.Key}
		if err := validateItem(item); err != nil {
			results[i].Err = err.Error()
			continue
		}
		calls = append(calls, chain.Call3{
			Target:       item.Target,
			AllowFailure: item.AllowFailure,
			CallData:     item.CallData,
		})
		validIdx = append(validIdx, i)
	}

	if len(calls) == 0 {
		return results, summarize(results, len(items)), nil
	}

	calldata, err := chain.EncodeAggregate3(calls)
	if err != nil {
		return nil, BatchSummary{}, err
	}

	var hash common.Hash
	err = e.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := e.builder.BuildAndSign(ctx, signer, e.multicall3, calldata, nil)
		if err != nil {
			return err
		}
		if e.resyncer != nil {
			hash, err = e.resyncer.Submit(ctx, signer, tx)
			return err
		}
		if err := e.client.SubmitTransaction(ctx, tx); err != nil {
			return err
		}
		hash = tx.Hash()
		return nil
	})
	if err != nil {
		return nil, BatchSummary{}, fmt.Errorf("batch submission failed: %w", err)
	}

	e.logger.Info("multicall batch submitted",
		zap.String("hash", hash.Hex()),
		zap.Int("calls", len(calls)))

	receipt, err := e.retrier.Confirm(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrReverted) {
			msg := fmt.Sprintf("transaction reverted: %s", hash.Hex())
			for _, i := range validIdx {
				results[i].OK = false
				results[i].TxHash = hash
				results[i].Err = msg
			}
			return results, summarize(results, len(items)), nil
		}
		return nil, BatchSummary{}, fmt.Errorf("batch confirmation failed: %w", err)
	}

	// The aggregate succeeded; recover per-item outcomes by running
	// the identical call set read-only against the mined state.
	perItem, simErr := e.simulate(ctx, calls)
	if simErr != nil || len(perItem) != len(calls) {
		if simErr == nil {
			simErr = fmt.Errorf("simulation returned %d results for %d calls", len(perItem), len(calls))
		}
		e.logger.Warn("per-item verification unavailable, reporting batch optimistically",
			zap.String("hash", hash.Hex()), zap.Error(simErr))
		for _, i := range validIdx {
			results[i].OK = true
			results[i].TxHash = hash
			results[i].Unverified = true
		}
		results = append(results, BatchResult{
			Err:        fmt.Sprintf("per-item results unavailable: %v", simErr),
			TxHash:     hash,
			Unverified: true,
		})
		return results, summarize(results, len(items)), nil
	}

	for pos, i := range validIdx {
		results[i].TxHash = hash
		results[i].OK = perItem[pos].Success
		results[i].ReturnData = perItem[pos].ReturnData
		if !perItem[pos].Success {
			results[i].Err = "call failed in batch"
		}
	}

	summary := summarize(results, len(items))
	e.logger.Info("multicall batch confirmed",
		zap.String("hash", receipt.TxHash.Hex()),
		zap.Int("requested", summary.Requested),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return results, summary, nil
}

func (e *Executor) simulate(ctx context.Context, calls []chain.Call3) ([]chain.Call3Result, error) {
	calldata, err := chain.EncodeAggregate3(calls)
	if err != nil {
		return nil, err
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.multicall3, Data: calldata})
	if err != nil {
		return nil, err
	}
	return chain.DecodeAggregate3Results(out)
}

// ExecuteAtomic runs an all-or-nothing batch and returns the mined
// receipt so callers can recover outcomes from their own contract
// events. Items must not allow failure.
func (e *Executor) ExecuteAtomic(ctx context.Context, signer chain.TxSigner, items []BatchItem) (common.Hash, *types.Receipt, error) {
	calls := make([]chain.Call3, 0, len(items))
	for i, item := range items {
		if item.AllowFailure {
			return common.Hash{}, nil, fmt.Errorf("atomic batch item %d allows failure; atomic batches are all-or-nothing", i)
		}
		if err := validateItem(item); err != nil {
			return common.Hash{}, nil, fmt.Errorf("atomic batch item %d invalid: %v", i, err)
		}
		calls = append(calls, chain.Call3{
			Target:   item.Target,
			CallData: item.CallData,
		})
	}

	calldata, err := chain.EncodeAggregate3(calls)
	if err != nil {
		return common.Hash{}, nil, err
	}

	var hash common.Hash
	err = e.gate.Do(ctx, func(ctx context.Context) error {
		tx, err := e.builder.BuildAndSign(ctx, signer, e.multicall3, calldata, nil)
		if err != nil {
			return err
		}
		if e.resyncer != nil {
			hash, err = e.resyncer.Submit(ctx, signer, tx)
			return err
		}
		if err := e.client.SubmitTransaction(ctx, tx); err != nil {
			return err
		}
		hash = tx.Hash()
		return nil
	})
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("batch submission failed: %w", err)
	}

	receipt, err := e.retrier.Confirm(ctx, hash)
	if err != nil {
		return hash, nil, fmt.Errorf("batch confirmation failed: %w", err)
	}
	return hash, receipt, nil
}

// CreationOutcome is the result of a creation batch: the batch
// results plus the addresses recovered from factory events, index-
// aligned with the valid items.
type CreationOutcome struct {
	Results   []BatchResult
	Summary   BatchSummary
	TxHash    common.Hash
	Addresses []common.Address
}

// ExecuteCreation runs a creation batch where every item must succeed
// and new contract addresses are recovered from the factory's
// creation events in emission order. An event count that does not
// match the item count is an unparseable-result failure, distinct
// from a revert.
func (e *Executor) ExecuteCreation(ctx context.Context, signer chain.TxSigner, factory common.Address, items []BatchItem) (*CreationOutcome, error) {
	hash, receipt, err := e.ExecuteAtomic(ctx, signer, items)
	if err != nil {
		return nil, fmt.Errorf("creation batch: %w", err)
	}

	addrs, err := chain.ParseAllBeaconCreated(receipt, factory)
	if err != nil {
		return nil, fmt.Errorf("creation batch succeeded but events are unparseable: %w", err)
	}
	if len(addrs) != len(items) {
		return nil, fmt.Errorf("creation batch %s emitted %d creation events for %d items; results unparseable",
			hash.Hex(), len(addrs), len(items))
	}

	results := make([]BatchResult, len(items))
	for i, item := range items {
		results[i] = BatchResult{Key: item.Key, OK: true, TxHash: hash}
	}
	return &CreationOutcome{
		Results:   results,
		Summary:   BatchSummary{Requested: len(items), Succeeded: len(items)},
		TxHash:    hash,
		Addresses: addrs,
	}, nil
}
