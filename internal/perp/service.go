// Package perp deploys perpetual markets against beacon feeds and
// funds them with maker liquidity.
package perp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/txexec"
	"github.com/perpcity/beaconator/internal/wallet"
)

var (
	// ErrInvalidTicks is returned when a deposit's tick range is
	// misaligned or inverted.
	ErrInvalidTicks = errors.New("invalid tick range")

	// ErrMarginOutOfBounds is returned when a deposit margin falls
	// outside the configured bounds.
	ErrMarginOutOfBounds = errors.New("margin out of bounds")
)

// Bounds carries the deposit validation limits.
type Bounds struct {
	LiquidityScalingFactor uint64
	MinMarginUSDC          uint64
	MaxMarginUSDC          uint64
	DefaultTickSpacing     int32
}

// Service runs perp deployment and liquidity deposits with wallets
// drawn from the pool.
type Service struct {
	manager        *wallet.Manager
	client         chain.Client
	submitter      *txexec.Submitter
	executor       *txexec.Executor
	codeCache      *chain.CodeCache
	perpManager    common.Address
	usdc           common.Address
	bounds         Bounds
	depositRetrier *txexec.Retrier
	logger         *zap.Logger
}

// NewService builds a perp Service. Deposit confirmations get a
// longer native wait than the submitter default because maker
// positions routinely take more than a block to land.
func NewService(manager *wallet.Manager, client chain.Client, submitter *txexec.Submitter, executor *txexec.Executor, codeCache *chain.CodeCache, perpManager, usdc common.Address, bounds Bounds, logger *zap.Logger) *Service {
	return &Service{
		manager:     manager,
		client:      client,
		submitter:   submitter,
		executor:    executor,
		codeCache:   codeCache,
		perpManager: perpManager,
		usdc:        usdc,
		bounds:      bounds,
		depositRetrier: txexec.NewRetrierWithSchedule(client,
			120*time.Second, 30*time.Second,
			[]time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second},
			3*time.Second, logger),
		logger: logger,
	}
}

// DeployRequest names the beacon and the plugin module contracts a
// new perp is assembled from.
type DeployRequest struct {
	Beacon               common.Address
	Fees                 common.Address
	MarginRatios         common.Address
	LockupPeriod         common.Address
	SqrtPriceImpactLimit common.Address
	StartingSqrtPriceX96 *big.Int
}

// DeployResult reports a perp deployment.
type DeployResult struct {
	PerpID [32]byte
	TxHash common.Hash
}

// validateDeploy checks the starting price and that every module
// contract already has deployed code.
func (s *Service) validateDeploy(ctx context.Context, req DeployRequest) error {
	if req.StartingSqrtPriceX96 == nil || req.StartingSqrtPriceX96.Sign() <= 0 {
		return fmt.Errorf("starting sqrt price must be positive")
	}
	modules := []struct {
		name string
		addr common.Address
	}{
		{"beacon", req.Beacon},
		{"fees", req.Fees},
		{"margin ratios", req.MarginRatios},
		{"lockup period", req.LockupPeriod},
		{"sqrt price impact limit", req.SqrtPriceImpactLimit},
	}
	for _, m := range modules {
		if m.addr == (common.Address{}) {
			return fmt.Errorf("%s address is zero", m.name)
		}
		if err := s.codeCache.RequireCode(ctx, s.client, m.addr); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return nil
}

// Deploy creates a perp through the manager contract. Every contract
// address in the request must already have deployed code.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	if err := s.validateDeploy(ctx, req); err != nil {
		return nil, err
	}

	handle, err := s.manager.AcquireAny(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire wallet: %w", err)
	}
	defer handle.Close()

	calldata, err := chain.EncodeCreatePerp(chain.CreatePerpParams{
		Beacon:               req.Beacon,
		Fees:                 req.Fees,
		MarginRatios:         req.MarginRatios,
		LockupPeriod:         req.LockupPeriod,
		SqrtPriceImpactLimit: req.SqrtPriceImpactLimit,
		StartingSqrtPriceX96: req.StartingSqrtPriceX96,
	})
	if err != nil {
		return nil, err
	}

	hash, receipt, err := s.submitter.SubmitAndConfirm(ctx, handle, s.perpManager, calldata, nil)
	if err != nil {
		if reason := TryDecodeRevertReason(err); reason != "" {
			return nil, fmt.Errorf("perp deployment failed: %s: %w", reason, err)
		}
		return nil, fmt.Errorf("perp deployment failed: %w", err)
	}

	perpID, err := chain.ParsePerpCreated(receipt, s.perpManager)
	if err != nil {
		return nil, fmt.Errorf("perp created in tx %s but id unrecoverable: %w", hash.Hex(), err)
	}

	s.logger.Info("perp deployed",
		zap.String("perp", common.Hash(perpID).Hex()),
		zap.String("beacon", req.Beacon.Hex()),
		zap.String("wallet", handle.Address().Hex()),
		zap.String("tx", hash.Hex()))

	return &DeployResult{PerpID: perpID, TxHash: hash}, nil
}

// DepositRequest configures a maker liquidity deposit. A zero
// TickSpacing falls back to the configured default.
type DepositRequest struct {
	PerpID      [32]byte
	MarginUSDC  *big.Int
	TickLower   int32
	TickUpper   int32
	TickSpacing int32
}

// DepositResult reports a deposit. ApproveTxHash is the zero hash
// when the standing allowance already covered the margin.
type DepositResult struct {
	PositionID    *big.Int
	Liquidity     *big.Int
	ApproveTxHash common.Hash
	DepositTxHash common.Hash
}

// maxAmountIn disables slippage limits on openMakerPos.
var maxAmountIn = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// validateDeposit checks ticks and margin bounds and computes the
// scaled liquidity. No network calls.
func (s *Service) validateDeposit(req DepositRequest) (margin, liquidity *big.Int, err error) {
	spacing := req.TickSpacing
	if spacing == 0 {
		spacing = s.bounds.DefaultTickSpacing
	}
	if spacing <= 0 {
		return nil, nil, fmt.Errorf("%w: tick spacing %d must be positive", ErrInvalidTicks, spacing)
	}
	if req.TickLower%spacing != 0 {
		return nil, nil, fmt.Errorf("%w: tick lower %d is not a multiple of spacing %d", ErrInvalidTicks, req.TickLower, spacing)
	}
	if req.TickUpper%spacing != 0 {
		return nil, nil, fmt.Errorf("%w: tick upper %d is not a multiple of spacing %d", ErrInvalidTicks, req.TickUpper, spacing)
	}
	if req.TickLower >= req.TickUpper {
		return nil, nil, fmt.Errorf("%w: tick lower %d must be below tick upper %d", ErrInvalidTicks, req.TickLower, req.TickUpper)
	}

	margin = req.MarginUSDC
	if margin == nil || margin.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: margin must be positive", ErrMarginOutOfBounds)
	}
	if margin.Cmp(new(big.Int).SetUint64(s.bounds.MinMarginUSDC)) < 0 {
		return nil, nil, fmt.Errorf("%w: margin %s below minimum %d", ErrMarginOutOfBounds, margin, s.bounds.MinMarginUSDC)
	}
	if margin.Cmp(new(big.Int).SetUint64(s.bounds.MaxMarginUSDC)) > 0 {
		return nil, nil, fmt.Errorf("%w: margin %s above maximum %d", ErrMarginOutOfBounds, margin, s.bounds.MaxMarginUSDC)
	}

	liquidity, err = LiquidityForMargin(margin, s.bounds.LiquidityScalingFactor)
	if err != nil {
		return nil, nil, err
	}
	return margin, liquidity, nil
}

// DepositLiquidity validates the request, approves USDC when the
// standing allowance is short, and opens a maker position. All
// validation runs before the first network call.
func (s *Service) DepositLiquidity(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	margin, liquidity, err := s.validateDeposit(req)
	if err != nil {
		return nil, err
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
	if balance.Cmp(margin) < 0 {
		return nil, fmt.Errorf("insufficient USDC balance: have %.6f, need %.6f", usdc(balance), usdc(margin))
	}

	result := &DepositResult{Liquidity: liquidity}

	approveHash, err := s.ensureAllowance(ctx, handle, margin)
	if err != nil {
		return nil, err
	}
	result.ApproveTxHash = approveHash

	openCall, err := chain.EncodeOpenMakerPos(req.PerpID, chain.OpenMakerPositionParams{
		Holder:    holder,
		Margin:    margin,
		Liquidity: liquidity,
		TickLower: big.NewInt(int64(req.TickLower)),
		TickUpper: big.NewInt(int64(req.TickUpper)),
		MaxAmt0In: maxAmountIn,
		MaxAmt1In: maxAmountIn,
	})
	if err != nil {
		return nil, err
	}

	hash, receipt, err := s.submitter.SubmitAndConfirmWith(ctx, s.depositRetrier, handle, s.perpManager, openCall, nil)
	if err != nil {
		if reason := TryDecodeRevertReason(err); reason != "" {
			return nil, fmt.Errorf("liquidity deposit failed: %s: %w", reason, err)
		}
		return nil, fmt.Errorf("liquidity deposit failed: %w", err)
	}
	result.DepositTxHash = hash

	opened, err := chain.ParsePositionOpened(receipt, s.perpManager, req.PerpID)
	if err != nil {
		return nil, fmt.Errorf("deposit confirmed in tx %s but position id unrecoverable: %w", hash.Hex(), err)
	}
	result.PositionID = opened.PosID

	s.logger.Info("maker position opened",
		zap.String("perp", common.Hash(req.PerpID).Hex()),
		zap.String("position", opened.PosID.String()),
		zap.String("margin", margin.String()),
		zap.String("liquidity", liquidity.String()),
		zap.String("tx", hash.Hex()))

	return result, nil
}

// ensureAllowance approves the manager to spend required USDC when
// the standing allowance is short. Returns the zero hash when the
// allowance already covered it.
func (s *Service) ensureAllowance(ctx context.Context, handle *wallet.Handle, required *big.Int) (common.Hash, error) {
	holder := handle.Address()
	allowanceCall, err := chain.EncodeAllowanceQuery(holder, s.perpManager)
	if err != nil {
		return common.Hash{}, err
	}
	allowanceData, err := chain.Call(ctx, s.client, s.usdc, allowanceCall)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to check USDC allowance: %w", err)
	}
	allowance, err := chain.DecodeUint256Result(chain.ERC20ABI, "allowance", allowanceData)
	if err != nil {
		return common.Hash{}, err
	}
	if allowance.Cmp(required) >= 0 {
		return common.Hash{}, nil
	}

	s.logger.Info("allowance short, approving USDC",
		zap.String("allowance", allowance.String()),
		zap.String("required", required.String()),
		zap.String("wallet", holder.Hex()))
	approveCall, err := chain.EncodeApprove(s.perpManager, required)
	if err != nil {
		return common.Hash{}, err
	}
	hash, _, err := s.submitter.SubmitAndConfirm(ctx, handle, s.usdc, approveCall, nil)
	if err != nil {
		if reason := TryDecodeRevertReason(err); reason != "" {
			return common.Hash{}, fmt.Errorf("USDC approval failed: %s: %w", reason, err)
		}
		return common.Hash{}, fmt.Errorf("USDC approval failed: %w", err)
	}
	return hash, nil
}

func (s *Service) readUint(ctx context.Context, to common.Address, encode func(common.Address) ([]byte, error), arg common.Address, method string) (*big.Int, error) {
	calldata, err := encode(arg)
	if err != nil {
		return nil, err
	}
	data, err := chain.Call(ctx, s.client, to, calldata)
	if err != nil {
		return nil, err
	}
	return chain.DecodeUint256Result(chain.ERC20ABI, method, data)
}
