// Package funding transfers USDC and native ETH from a pool wallet
// to guest wallets, bounded by configured per-request limits.
package funding

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

var (
	// ErrTransferLimit is returned when a requested amount exceeds
	// the configured per-request limit.
	ErrTransferLimit = errors.New("transfer amount exceeds limit")

	// ErrInvalidRecipient is returned for a zero recipient address.
	ErrInvalidRecipient = errors.New("invalid recipient address")
)

// Limits caps a single funding request. A nil limit disables that
// asset entirely.
type Limits struct {
	MaxUSDC *big.Int
	MaxETH  *big.Int // wei
}

// Service funds guest wallets from the pool. When FundingWallet is
// set, transfers always come from that wallet; otherwise any free
// pool wallet serves.
type Service struct {
	manager       *wallet.Manager
	client        chain.Client
	submitter     *txexec.Submitter
	usdc          common.Address
	fundingWallet common.Address
	limits        Limits
	logger        *zap.Logger
}

// NewService builds a funding Service.
func NewService(manager *wallet.Manager, client chain.Client, submitter *txexec.Submitter, usdc, fundingWallet common.Address, limits Limits, logger *zap.Logger) *Service {
	return &Service{
		manager:       manager,
		client:        client,
		submitter:     submitter,
		usdc:          usdc,
		fundingWallet: fundingWallet,
		limits:        limits,
		logger:        logger,
	}
}

// FundRequest asks for a USDC and/or ETH transfer to a guest wallet.
// A nil or zero amount skips that asset.
type FundRequest struct {
	Recipient  common.Address
	USDCAmount *big.Int
	ETHAmount  *big.Int // wei
}

// FundResult reports the transfer hashes. A zero hash means that
// asset was not requested.
type FundResult struct {
	ETHTxHash  common.Hash
	USDCTxHash common.Hash
}

func amountOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Fund validates limits and balances, then sends ETH first and USDC
// second from the funding wallet, each confirmed before the next.
// The wallet lock serializes concurrent funding requests.
func (s *Service) Fund(ctx context.Context, req FundRequest) (*FundResult, error) {
	if req.Recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	usdcAmount := amountOf(req.USDCAmount)
	ethAmount := amountOf(req.ETHAmount)
	if usdcAmount.Sign() < 0 || ethAmount.Sign() < 0 {
		return nil, fmt.Errorf("transfer amounts must not be negative")
	}
	if usdcAmount.Sign() == 0 && ethAmount.Sign() == 0 {
		return nil, fmt.Errorf("nothing to transfer")
	}
	if usdcAmount.Sign() > 0 && (s.limits.MaxUSDC == nil || usdcAmount.Cmp(s.limits.MaxUSDC) > 0) {
		return nil, fmt.Errorf("%w: %s USDC requested, limit %s", ErrTransferLimit, usdcAmount, limitString(s.limits.MaxUSDC))
	}
	if ethAmount.Sign() > 0 && (s.limits.MaxETH == nil || ethAmount.Cmp(s.limits.MaxETH) > 0) {
		return nil, fmt.Errorf("%w: %s wei requested, limit %s", ErrTransferLimit, ethAmount, limitString(s.limits.MaxETH))
	}

	handle, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire funding wallet: %w", err)
	}
	defer handle.Close()
	source := handle.Address()

	if ethAmount.Sign() > 0 {
		balance, err := s.client.BalanceAt(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to check ETH balance: %w", err)
		}
		if balance.Cmp(ethAmount) < 0 {
			return nil, fmt.Errorf("insufficient ETH balance: have %s wei, need %s wei", balance, ethAmount)
		}
	}
	if usdcAmount.Sign() > 0 {
		calldata, err := chain.EncodeBalanceOfQuery(source)
		if err != nil {
			return nil, err
		}
		data, err := chain.Call(ctx, s.client, s.usdc, calldata)
		if err != nil {
			return nil, fmt.Errorf("failed to check USDC balance: %w", err)
		}
		balance, err := chain.DecodeUint256Result(chain.ERC20ABI, "balanceOf", data)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(usdcAmount) < 0 {
			return nil, fmt.Errorf("insufficient USDC balance: have %s, need %s", balance, usdcAmount)
		}
	}

	result := &FundResult{}
	if ethAmount.Sign() > 0 {
		hash, _, err := s.submitter.SubmitAndConfirm(ctx, handle, req.Recipient, nil, ethAmount)
		if err != nil {
			return nil, fmt.Errorf("ETH transfer failed: %w", err)
		}
		result.ETHTxHash = hash
	}
	if usdcAmount.Sign() > 0 {
		calldata, err := chain.EncodeTransfer(req.Recipient, usdcAmount)
		if err != nil {
			return nil, err
		}
		hash, _, err := s.submitter.SubmitAndConfirm(ctx, handle, s.usdc, calldata, nil)
		if err != nil {
			return nil, fmt.Errorf("USDC transfer failed: %w", err)
		}
		result.USDCTxHash = hash
	}

	s.logger.Info("guest wallet funded",
		zap.String("recipient", req.Recipient.Hex()),
		zap.String("source", source.Hex()),
		zap.String("usdc", usdcAmount.String()),
		zap.String("eth_wei", ethAmount.String()))
	return result, nil
}

func (s *Service) acquire(ctx context.Context) (*wallet.Handle, error) {
	if s.fundingWallet != (common.Address{}) {
		return s.manager.AcquireSpecific(ctx, s.fundingWallet.Hex())
	}
	return s.manager.AcquireAny(ctx)
}

func limitString(limit *big.Int) string {
	if limit == nil {
		return "disabled"
	}
	return limit.String()
}
