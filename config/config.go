package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all configurable parameters for the application
type Config struct {
	// Chain endpoints
	RPCURL          string `json:"rpc_url"`
	AlternateRPCURL string `json:"alternate_rpc_url"`
	ChainID         uint64 `json:"chain_id"`

	// Wallet pool store
	RedisURL   string `json:"redis_url"`
	KeyPrefix  string `json:"key_prefix"`
	InstanceID string `json:"instance_id"`

	// Wallet locking
	LockTTLSeconds   int `json:"lock_ttl_seconds"`
	LockRetryCount   int `json:"lock_retry_count"`
	LockRetryDelayMs int `json:"lock_retry_delay_ms"`

	// Remote custody signer API, empty URL means local keys only
	CustodyAPIURL    string `json:"custody_api_url"`
	CustodyOrgID     string `json:"custody_org_id"`
	CustodyAPIKey    string `json:"custody_api_key"`
	CustodyAPISecret string `json:"custody_api_secret"`

	// Contract addresses
	BeaconFactoryAddress  string `json:"beacon_factory_address"`
	BeaconRegistryAddress string `json:"beacon_registry_address"`
	Multicall3Address     string `json:"multicall3_address"`
	PerpManagerAddress    string `json:"perp_manager_address"`
	USDCAddress           string `json:"usdc_address"`

	// Perp deposit bounds
	LiquidityScalingFactor uint64 `json:"liquidity_scaling_factor"`
	MinMarginUSDC          uint64 `json:"min_margin_usdc"`
	MaxMarginUSDC          uint64 `json:"max_margin_usdc"`
	DefaultTickSpacing     int32  `json:"default_tick_spacing"`

	// Guest wallet funding. Empty funding wallet means any free pool
	// wallet serves; limits are decimal strings, wei for ETH.
	FundingWalletAddress string `json:"funding_wallet_address"`
	USDCTransferLimit    uint64 `json:"usdc_transfer_limit"`
	ETHTransferLimitWei  string `json:"eth_transfer_limit_wei"`

	// HTTP API
	Port int `json:"port"`

	// Beacon types seeded into the registry at startup.
	BeaconTypes []BeaconTypeSeed `json:"beacon_types"`
}

// BeaconTypeSeed is a beacon type entry from the config file.
type BeaconTypeSeed struct {
	Slug        string `json:"slug"`
	Factory     string `json:"factory"`
	Registry    string `json:"registry,omitempty"`
	Description string `json:"description,omitempty"`
}

// Load reads and parses the config.json file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// LoadDefault loads the default config from config.json in the current directory
func LoadDefault() (*Config, error) {
	return Load("config/config.json")
}

// Default returns a config with only defaults applied, for env-only deployments.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.RedisURL == "" {
		c.RedisURL = "redis://127.0.0.1:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "beaconator:"
	}
	if c.LockTTLSeconds == 0 {
		c.LockTTLSeconds = 60
	}
	if c.LockRetryCount == 0 {
		c.LockRetryCount = 10
	}
	if c.LockRetryDelayMs == 0 {
		c.LockRetryDelayMs = 500
	}
	if c.LiquidityScalingFactor == 0 {
		c.LiquidityScalingFactor = 500_000
	}
	if c.MinMarginUSDC == 0 {
		c.MinMarginUSDC = 1_000_000 // 1 USDC
	}
	if c.MaxMarginUSDC == 0 {
		c.MaxMarginUSDC = 1_000_000_000_000 // 1M USDC
	}
	if c.DefaultTickSpacing == 0 {
		c.DefaultTickSpacing = 60
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.USDCTransferLimit == 0 {
		c.USDCTransferLimit = 100_000_000 // 100 USDC
	}
	if c.ETHTransferLimitWei == "" {
		c.ETHTransferLimitWei = "100000000000000000" // 0.1 ETH
	}
}

// Validate checks that the parameters required to submit transactions are present.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if c.BeaconFactoryAddress == "" {
		return fmt.Errorf("beacon_factory_address is required")
	}
	return nil
}

// LockTTL returns the wallet lock TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LockRetryDelay returns the delay between lock acquisition attempts.
func (c *Config) LockRetryDelay() time.Duration {
	return time.Duration(c.LockRetryDelayMs) * time.Millisecond
}
