package beacon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/txexec"
)

// MaxBatchSize bounds one multicall batch. Larger batches risk the
// block gas limit.
const MaxBatchSize = 100

// ErrBatchSize is returned when a batch count falls outside
// [1, MaxBatchSize].
var ErrBatchSize = errors.New("batch size out of range")

// BatchCreateResult reports a creation batch: the new beacon
// addresses in creation order, the aggregate hashes, and per-item
// accounting.
type BatchCreateResult struct {
	Addresses      []common.Address
	CreateTxHash   common.Hash
	RegisterTxHash common.Hash
	Results        []txexec.BatchResult
	Summary        txexec.BatchSummary
}

// BatchCreate creates count beacons in one atomic multicall from one
// wallet. Creation never tolerates partial failure; registration,
// when a registry is configured, is idempotent and warn-only.
func (s *Service) BatchCreate(ctx context.Context, req CreateRequest, count int) (*BatchCreateResult, error) {
	if count < 1 || count > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrBatchSize, count, MaxBatchSize)
	}
	factory := req.Factory
	if factory == (common.Address{}) {
		factory = s.factory
	}
	if factory == (common.Address{}) {
		return nil, fmt.Errorf("%w: no factory configured", ErrInvalidAddress)
	}
	registry := req.Registry
	if registry == (common.Address{}) {
		registry = s.registry
	}

	handle, err := s.manager.AcquireAny(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire wallet: %w", err)
	}
	defer handle.Close()

	owner := req.Owner
	if owner == (common.Address{}) {
		owner = handle.Address()
	}
	calldata, err := chain.EncodeCreateBeacon(owner)
	if err != nil {
		return nil, err
	}

	items := make([]txexec.BatchItem, count)
	for i := range items {
		items[i] = txexec.BatchItem{
			Key:      "create-" + strconv.Itoa(i),
			Target:   factory,
			CallData: calldata,
		}
	}

	outcome, err := s.executor.ExecuteCreation(ctx, handle, factory, items)
	if err != nil {
		return nil, fmt.Errorf("batch creation failed: %w", err)
	}

	s.logger.Info("beacon batch created",
		zap.Int("count", count),
		zap.String("wallet", handle.Address().Hex()),
		zap.String("tx", outcome.TxHash.Hex()))

	for _, beacon := range outcome.Addresses {
		if err := s.pool.SetDesignatedBeacon(ctx, handle.Address().Hex(), beacon.Hex()); err != nil {
			s.logger.Warn("failed to designate created beacon",
				zap.String("beacon", beacon.Hex()), zap.Error(err))
		}
	}

	result := &BatchCreateResult{
		Addresses:    outcome.Addresses,
		CreateTxHash: outcome.TxHash,
		Results:      outcome.Results,
		Summary:      outcome.Summary,
	}

	if registry != (common.Address{}) {
		regHash, err := s.batchRegister(ctx, handle, registry, outcome.Addresses)
		if err != nil {
			// Creation already landed; registration can be replayed.
			s.logger.Warn("batch registration failed, beacons remain unregistered",
				zap.String("registry", registry.Hex()), zap.Error(err))
		} else {
			result.RegisterTxHash = regHash
		}
	}
	return result, nil
}

// batchRegister registers the beacons in one multicall. registerBeacon
// is idempotent on the registry side, so items tolerate failure.
func (s *Service) batchRegister(ctx context.Context, handle chain.TxSigner, registry common.Address, beacons []common.Address) (common.Hash, error) {
	items := make([]txexec.BatchItem, len(beacons))
	for i, beacon := range beacons {
		calldata, err := chain.EncodeRegisterBeacon(beacon)
		if err != nil {
			return common.Hash{}, err
		}
		items[i] = txexec.BatchItem{
			Key:          beacon.Hex(),
			Target:       registry,
			CallData:     calldata,
			AllowFailure: true,
		}
	}
	results, summary, err := s.executor.Execute(ctx, handle, items)
	if err != nil {
		return common.Hash{}, err
	}
	if summary.Failed > 0 {
		s.logger.Warn("some batch registrations failed",
			zap.Int("failed", summary.Failed),
			zap.Int("succeeded", summary.Succeeded))
	}
	for _, r := range results {
		if r.TxHash != (common.Hash{}) {
			return r.TxHash, nil
		}
	}
	return common.Hash{}, nil
}

// UpdateItem is one entry of a batch update. Invalid, when set,
// marks an item that failed decoding upstream; it becomes a failure
// entry instead of going on chain.
type UpdateItem struct {
	Beacon        common.Address
	Proof         []byte
	PublicSignals []byte
	Invalid       string
}

// BatchUpdateResult reports a batch update with one result per input
// item, in input order.
type BatchUpdateResult struct {
	Results []txexec.BatchResult
	Summary txexec.BatchSummary
}

// BatchUpdate applies up to MaxBatchSize updates, grouped by the
// wallet designated to each beacon so every group's multicall runs
// from the wallet that owns those beacons. Items tolerate individual
// failure; the per-item accounting always covers every input.
func (s *Service) BatchUpdate(ctx context.Context, updates []UpdateItem) (*BatchUpdateResult, error) {
	if len(updates) == 0 {
		return &BatchUpdateResult{Results: []txexec.BatchResult{}}, nil
	}
	if len(updates) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrBatchSize, len(updates), MaxBatchSize)
	}

	// Group input indexes by designated wallet. Beacons with no
	// designation share the "" group and run from any free wallet.
	groups := make(map[string][]int)
	order := make([]string, 0)
	finalResults := make([]txexec.BatchResult, len(updates))
	for i, u := range updates {
		key := strconv.Itoa(i)
		finalResults[i] = txexec.BatchResult{Key: key}
		if u.Invalid != "" {
			finalResults[i].Err = u.Invalid
			continue
		}
		if u.Beacon == (common.Address{}) {
			finalResults[i].Err = "beacon address is zero"
			continue
		}
		walletAddr, err := s.pool.WalletForBeacon(ctx, u.Beacon.Hex())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve wallet for beacon %s: %w", u.Beacon.Hex(), err)
		}
		if _, seen := groups[walletAddr]; !seen {
			order = append(order, walletAddr)
		}
		groups[walletAddr] = append(groups[walletAddr], i)
	}

	for _, walletAddr := range order {
		idxs := groups[walletAddr]
		if err := s.updateGroup(ctx, walletAddr, idxs, updates, finalResults); err != nil {
			// Wallet acquisition or submission failed for the whole
			// group; every item in it fails with the same cause.
			for _, i := range idxs {
				finalResults[i].Err = err.Error()
			}
			s.logger.Warn("batch update group failed",
				zap.String("wallet", walletAddr),
				zap.Int("items", len(idxs)),
				zap.Error(err))
		}
	}

	summary := txexec.BatchSummary{Requested: len(updates)}
	for _, r := range finalResults {
		if r.OK {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	s.logger.Info("batch update finished",
		zap.Int("requested", summary.Requested),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return &BatchUpdateResult{Results: finalResults, Summary: summary}, nil
}

func (s *Service) updateGroup(ctx context.Context, walletAddr string, idxs []int, updates []UpdateItem, finalResults []txexec.BatchResult) error {
	var handle interface {
		chain.TxSigner
		Close()
	}
	var err error
	if walletAddr == "" {
		handle, err = s.manager.AcquireAny(ctx)
	} else {
		handle, err = s.manager.AcquireSpecific(ctx, walletAddr)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire wallet: %w", err)
	}
	defer handle.Close()

	items := make([]txexec.BatchItem, 0, len(idxs))
	for _, i := range idxs {
		calldata, cerr := chain.EncodeUpdateData(updates[i].Proof, updates[i].PublicSignals)
		if cerr != nil {
			finalResults[i].Err = cerr.Error()
			continue
		}
		items = append(items, txexec.BatchItem{
			Key:          strconv.Itoa(i),
			Target:       updates[i].Beacon,
			CallData:     calldata,
			AllowFailure: true,
		})
	}
	if len(items) == 0 {
		return nil
	}

	results, _, err := s.executor.Execute(ctx, handle, items)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Key == "" {
			continue // executor diagnostic entry
		}
		i, perr := strconv.Atoi(r.Key)
		if perr != nil || i < 0 || i >= len(finalResults) {
			continue
		}
		finalResults[i] = r
	}
	return nil
}
