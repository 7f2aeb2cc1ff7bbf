// Package beacon implements the beacon lifecycle operations: create,
// register, and the single and batched data update paths.
package beacon

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/txexec"
	"github.com/perpcity/beaconator/internal/wallet"
)

// ErrInvalidAddress is returned for requests naming a zero or
// malformed contract address.
var ErrInvalidAddress = errors.New("invalid contract address")

// Service runs beacon operations with wallets drawn from the pool.
type Service struct {
	manager   *wallet.Manager
	pool      *wallet.Pool
	client    chain.Client
	submitter *txexec.Submitter
	executor  *txexec.Executor
	codeCache *chain.CodeCache
	factory   common.Address
	registry  common.Address // zero when no registry is configured
	logger    *zap.Logger
}

// NewService builds a beacon Service. registry may be the zero
// address when registration is disabled.
func NewService(manager *wallet.Manager, pool *wallet.Pool, client chain.Client, submitter *txexec.Submitter, executor *txexec.Executor, codeCache *chain.CodeCache, factory, registry common.Address, logger *zap.Logger) *Service {
	return &Service{
		manager:   manager,
		pool:      pool,
		client:    client,
		submitter: submitter,
		executor:  executor,
		codeCache: codeCache,
		factory:   factory,
		registry:  registry,
		logger:    logger,
	}
}

// CreateRequest configures a beacon creation. Zero Factory/Registry
// fall back to the service defaults; a zero Owner defaults to the
// acquired wallet.
type CreateRequest struct {
	Owner    common.Address
	Factory  common.Address
	Registry common.Address
}

// CreateResult reports a creation. RegisterTxHash is the zero hash
// when the beacon was already registered or no registry is
// configured.
type CreateResult struct {
	Beacon            common.Address
	CreateTxHash      common.Hash
	RegisterTxHash    common.Hash
	AlreadyRegistered bool
}

// CreateAndRegister creates a beacon through the factory and, when a
// registry is configured, registers it idempotently: the registry is
// read first and an already-registered beacon short-circuits to a
// no-op with the zero hash.
func (s *Service) CreateAndRegister(ctx context.Context, req CreateRequest) (*CreateResult, error) {
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
	hash, receipt, err := s.submitter.SubmitAndConfirm(ctx, handle, factory, calldata, nil)
	if err != nil {
		return nil, fmt.Errorf("beacon creation failed: %w", err)
	}

	beacon, err := chain.ParseBeaconCreated(receipt, factory)
	if err != nil {
		return nil, fmt.Errorf("beacon created in tx %s but address unrecoverable: %w", hash.Hex(), err)
	}

	s.logger.Info("beacon created",
		zap.String("beacon", beacon.Hex()),
		zap.String("wallet", handle.Address().Hex()),
		zap.String("tx", hash.Hex()))

	if err := s.pool.SetDesignatedBeacon(ctx, handle.Address().Hex(), beacon.Hex()); err != nil {
		s.logger.Warn("failed to designate beacon to creating wallet",
			zap.String("beacon", beacon.Hex()), zap.Error(err))
	}

	result := &CreateResult{Beacon: beacon, CreateTxHash: hash}
	if registry == (common.Address{}) {
		return result, nil
	}

	registered, regHash, err := s.register(ctx, handle, registry, beacon)
	if err != nil {
		return nil, err
	}
	result.AlreadyRegistered = registered
	result.RegisterTxHash = regHash
	return result, nil
}

// register adds the beacon to the registry unless it is already
// there. Returns alreadyRegistered and the registration tx hash (zero
// on the no-op path).
func (s *Service) register(ctx context.Context, handle *wallet.Handle, registry, beacon common.Address) (bool, common.Hash, error) {
	query, err := chain.EncodeBeaconsQuery(beacon)
	if err != nil {
		return false, common.Hash{}, err
	}
	out, err := chain.Call(ctx, s.client, registry, query)
	if err != nil {
		return false, common.Hash{}, fmt.Errorf("failed to check registration of %s: %w", beacon.Hex(), err)
	}
	registered, err := chain.DecodeBeaconsResult(out)
	if err != nil {
		return false, common.Hash{}, err
	}
	if registered {
		s.logger.Info("beacon already registered, skipping",
			zap.String("beacon", beacon.Hex()))
		return true, common.Hash{}, nil
	}

	if err := s.codeCache.RequireCode(ctx, s.client, beacon); err != nil {
		return false, common.Hash{}, fmt.Errorf("refusing to register: %w", err)
	}

	calldata, err := chain.EncodeRegisterBeacon(beacon)
	if err != nil {
		return false, common.Hash{}, err
	}
	hash, _, err := s.submitter.SubmitAndConfirm(ctx, handle, registry, calldata, nil)
	if err != nil {
		return false, common.Hash{}, fmt.Errorf("beacon registration failed: %w", err)
	}
	s.logger.Info("beacon registered",
		zap.String("beacon", beacon.Hex()),
		zap.String("tx", hash.Hex()))
	return false, hash, nil
}

// UpdateRequest carries a proof-backed data update.
type UpdateRequest struct {
	Beacon        common.Address
	Proof         []byte
	PublicSignals []byte
}

// UpdateResult reports an update. EventMissing means the transaction
// confirmed but the expected event never showed in the receipt; the
// update most likely applied.
type UpdateResult struct {
	TxHash       common.Hash
	NewData      *big.Int
	EventMissing bool
}

// UpdateWithProof pushes new data to a beacon using its designated
// wallet.
func (s *Service) UpdateWithProof(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	if req.Beacon == (common.Address{}) {
		return nil, fmt.Errorf("%w: beacon address is zero", ErrInvalidAddress)
	}

	handle, err := s.manager.AcquireForBeacon(ctx, req.Beacon.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire wallet for beacon %s: %w", req.Beacon.Hex(), err)
	}
	defer handle.Close()

	calldata, err := chain.EncodeUpdateData(req.Proof, req.PublicSignals)
	if err != nil {
		return nil, err
	}
	hash, receipt, err := s.submitter.SubmitAndConfirm(ctx, handle, req.Beacon, calldata, nil)
	if err != nil {
		return nil, fmt.Errorf("beacon update failed: %w", err)
	}

	result := &UpdateResult{TxHash: hash}
	newData, err := chain.ParseDataUpdated(receipt, req.Beacon)
	if err != nil {
		// Confirmed without the event. Treated as applied; flagged so
		// operators notice.
		s.logger.Warn("update confirmed but DataUpdated event missing",
			zap.String("beacon", req.Beacon.Hex()),
			zap.String("tx", hash.Hex()))
		result.EventMissing = true
		return result, nil
	}
	result.NewData = newData

	s.logger.Info("beacon updated",
		zap.String("beacon", req.Beacon.Hex()),
		zap.String("tx", hash.Hex()),
		zap.String("data", newData.String()))
	return result, nil
}
