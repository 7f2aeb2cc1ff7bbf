package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/config"
	"github.com/perpcity/beaconator/internal/api"
	"github.com/perpcity/beaconator/internal/beacon"
	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/funding"
	"github.com/perpcity/beaconator/internal/perp"
	"github.com/perpcity/beaconator/internal/store"
	"github.com/perpcity/beaconator/internal/txexec"
	"github.com/perpcity/beaconator/internal/wallet"
)

func main() {
	configPath := flag.String("config", "config/config.json", "Path to config file")
	port := flag.Int("port", 0, "HTTP port (0 = use config)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("no config file found, using defaults with env overrides",
			zap.String("path", *configPath), zap.Error(err))
		cfg = config.Default()
	}
	applyEnvOverrides(cfg)
	if *port != 0 {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("beaconator exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer st.Close()
	keys := store.NewKeys(cfg.KeyPrefix)

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	pool := wallet.NewPool(st, keys, logger)
	locker := wallet.NewLocker(st, keys, instanceID,
		cfg.LockTTL(), cfg.LockRetryCount, cfg.LockRetryDelay(), logger)

	signers, err := buildSignerFactory(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	manager := wallet.NewManager(pool, locker, signers, logger)

	primary, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial primary rpc: %w", err)
	}
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	builder := chain.NewTxBuilder(primary, chainID, logger)

	var alternate chain.Client
	var altBuilder *chain.TxBuilder
	if cfg.AlternateRPCURL != "" {
		alt, err := chain.Dial(ctx, cfg.AlternateRPCURL)
		if err != nil {
			return fmt.Errorf("failed to dial alternate rpc: %w", err)
		}
		alternate = alt
		altBuilder = chain.NewTxBuilder(alt, chainID, logger)
	}

	resyncer := txexec.NewResyncer(primary, alternate, builder, altBuilder, logger)
	gate := txexec.NewSerialGate()
	retrier := txexec.NewRetrier(primary, logger)
	submitter := txexec.NewSubmitter(primary, builder, resyncer, gate, retrier)
	executor := txexec.NewExecutor(primary, builder, resyncer, gate, retrier,
		common.HexToAddress(cfg.Multicall3Address), logger)
	codeCache := chain.NewCodeCache(32 << 20)

	beacons := beacon.NewService(manager, pool, primary, submitter, executor, codeCache,
		common.HexToAddress(cfg.BeaconFactoryAddress),
		common.HexToAddress(cfg.BeaconRegistryAddress), logger)

	typeReg := beacon.NewTypeRegistry(st, keys, logger)
	if len(cfg.BeaconTypes) > 0 {
		seeds := make([]beacon.TypeConfig, 0, len(cfg.BeaconTypes))
		for _, s := range cfg.BeaconTypes {
			seeds = append(seeds, beacon.TypeConfig{
				Slug:        s.Slug,
				Factory:     s.Factory,
				Registry:    s.Registry,
				Description: s.Description,
			})
		}
		if err := typeReg.Seed(ctx, seeds); err != nil {
			return fmt.Errorf("failed to seed beacon types: %w", err)
		}
	}

	perps := perp.NewService(manager, primary, submitter, executor, codeCache,
		common.HexToAddress(cfg.PerpManagerAddress),
		common.HexToAddress(cfg.USDCAddress),
		perp.Bounds{
			LiquidityScalingFactor: cfg.LiquidityScalingFactor,
			MinMarginUSDC:          cfg.MinMarginUSDC,
			MaxMarginUSDC:          cfg.MaxMarginUSDC,
			DefaultTickSpacing:     cfg.DefaultTickSpacing,
		}, logger)

	ethLimit, ok := new(big.Int).SetString(cfg.ETHTransferLimitWei, 10)
	if !ok {
		return fmt.Errorf("eth_transfer_limit_wei is not a decimal integer: %q", cfg.ETHTransferLimitWei)
	}
	funder := funding.NewService(manager, primary, submitter,
		common.HexToAddress(cfg.USDCAddress),
		common.HexToAddress(cfg.FundingWalletAddress),
		funding.Limits{
			MaxUSDC: new(big.Int).SetUint64(cfg.USDCTransferLimit),
			MaxETH:  ethLimit,
		}, logger)

	srv := api.NewServer(beacons, typeReg, perps, funder, pool, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // confirmation waits can be slow
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("beaconator listening",
			zap.Int("port", cfg.Port),
			zap.Uint64("chain_id", cfg.ChainID),
			zap.String("instance_id", instanceID))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}
	return nil
}

// buildSignerFactory wires signing for the pool. With a custody API
// configured, key material stays remote and wallets are provisioned
// out of band. Otherwise WALLET_KEYS supplies local hex keys and the
// derived addresses are added to the pool.
func buildSignerFactory(ctx context.Context, cfg *config.Config, pool *wallet.Pool, logger *zap.Logger) (wallet.SignerFactory, error) {
	if cfg.CustodyAPIURL != "" {
		custody := wallet.NewCustodyClient(cfg.CustodyAPIURL, cfg.CustodyOrgID,
			cfg.CustodyAPIKey, cfg.CustodyAPISecret)
		return func(info wallet.Info) (wallet.Signer, error) {
			return wallet.NewRemoteSigner(custody, info.KeyRef,
				common.HexToAddress(info.Address)), nil
		}, nil
	}

	raw := os.Getenv("WALLET_KEYS")
	if raw == "" {
		return nil, fmt.Errorf("no custody API configured and WALLET_KEYS is not set")
	}
	local := make(map[string]*wallet.LocalSigner)
	for _, keyHex := range strings.Split(raw, ",") {
		signer, err := wallet.NewLocalSignerFromHex(strings.TrimSpace(keyHex))
		if err != nil {
			return nil, fmt.Errorf("bad entry in WALLET_KEYS: %w", err)
		}
		addr := signer.Address().Hex()
		local[addr] = signer

		exists, err := pool.Exists(ctx, addr)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := pool.Add(ctx, wallet.Info{Address: addr, KeyRef: "local"}); err != nil {
				return nil, err
			}
			logger.Info("added local wallet to pool", zap.String("address", addr))
		}
	}
	return func(info wallet.Info) (wallet.Signer, error) {
		signer, ok := local[common.HexToAddress(info.Address).Hex()]
		if !ok {
			return nil, fmt.Errorf("no local key for wallet %s", info.Address)
		}
		return signer, nil
	}, nil
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("ALTERNATE_RPC_URL"); v != "" {
		cfg.AlternateRPCURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ChainID = id
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("CUSTODY_API_URL"); v != "" {
		cfg.CustodyAPIURL = v
	}
	if v := os.Getenv("CUSTODY_API_KEY"); v != "" {
		cfg.CustodyAPIKey = v
	}
	if v := os.Getenv("CUSTODY_API_SECRET"); v != "" {
		cfg.CustodyAPISecret = v
	}
	if v := os.Getenv("CUSTODY_ORG_ID"); v != "" {
		cfg.CustodyOrgID = v
	}
}
