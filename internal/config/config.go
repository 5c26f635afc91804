package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/clearmesh/clearmesh/pkg/types"
)

// Config represents the complete node configuration
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	API      APIConfig      `yaml:"api"`
	Chain    ChainConfig    `yaml:"chain"`
	Protocol ProtocolConfig `yaml:"protocol"`
}

// DaemonConfig contains daemon settings
type DaemonConfig struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
}

// APIConfig contains API server settings
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// Rate limiting
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max requests per window (default: 100)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	// Connection limits
	MaxRequestSize int `yaml:"max_request_size"` // Max request body size in bytes (default: 1MB)

	// Timeouts
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`  // Read timeout (default: 30)
	WriteTimeoutSecs int `yaml:"write_timeout_secs"` // Write timeout (default: 30)
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`  // Idle connection timeout (default: 120)
}

// DefaultAPIConfig returns the default API configuration
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		ListenAddr:          "127.0.0.1:8990",
		RateLimitRequests:   100,
		RateLimitWindowSecs: 60,
		MaxRequestSize:      1 * 1024 * 1024, // 1MB
		ReadTimeoutSecs:     30,
		WriteTimeoutSecs:    30,
		IdleTimeoutSecs:     120,
	}
}

// ChainConfig contains settlement-ledger connection settings
type ChainConfig struct {
	ChainID            int64  `yaml:"chain_id"`
	RPCURL             string `yaml:"rpc_url"`
	WSEndpoint         string `yaml:"ws_endpoint"`
	TokenAddress       string `yaml:"token_address"`
	BlockConfirmations int    `yaml:"block_confirmations"`

	// MockMode runs the value ledger in-memory instead of against a chain
	MockMode bool `yaml:"mock_mode"`
}

// ProtocolConfig holds the read-only protocol parameters consumed by the
// settlement engine: fee percentages, tier thresholds, expiry windows,
// well-known addresses, and the supported-asset whitelist.
type ProtocolConfig struct {
	Fees  types.FeeConfig    `yaml:"fees"`
	Tiers types.TierSchedule `yaml:"tiers"`

	// Expiry windows, in seconds
	OrderExpirySecs  int64 `yaml:"order_expiry_secs"`  // Window before an unfulfilled order becomes refundable
	ProposalTimeout  int64 `yaml:"proposal_timeout_secs"`
	IntentExpirySecs int64 `yaml:"intent_expiry_secs"` // Default lifetime for provider intents

	// Well-known addresses
	TreasuryAddress   string `yaml:"treasury_address"`
	AggregatorAddress string `yaml:"aggregator_address"`

	// Supported settlement assets (hex addresses)
	SupportedAssets []string `yaml:"supported_assets"`
}

// DefaultProtocolConfig returns the default protocol parameters
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		Fees:             types.DefaultFeeConfig(),
		Tiers:            types.DefaultTierSchedule(),
		OrderExpirySecs:  3600,  // 1 hour
		ProposalTimeout:  300,   // 5 minutes
		IntentExpirySecs: 86400, // 24 hours
	}
}

// DefaultConfig returns the complete default configuration
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			DataDir:   "~/.clearmesh/data",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API:   DefaultAPIConfig(),
		Chain: ChainConfig{
			ChainID:            8453,
			BlockConfirmations: 3,
			MockMode:           true,
		},
		Protocol: DefaultProtocolConfig(),
	}
}

// Load reads and parses a config file, applying defaults for absent fields
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if c.API.RateLimitRequests <= 0 {
		return fmt.Errorf("api.rate_limit_requests must be positive")
	}
	if c.API.RateLimitWindowSecs <= 0 {
		return fmt.Errorf("api.rate_limit_window_secs must be positive")
	}

	if !c.Chain.MockMode {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url is required outside mock mode")
		}
		if err := validateEthAddress("chain.token_address", c.Chain.TokenAddress); err != nil {
			return err
		}
	}

	if err := c.Protocol.Validate(); err != nil {
		return err
	}

	return nil
}

// Validate checks the protocol parameters for errors
func (p *ProtocolConfig) Validate() error {
	if err := p.Fees.Validate(); err != nil {
		return fmt.Errorf("protocol.fees: %w", err)
	}
	if err := p.Tiers.Parse(); err != nil {
		return fmt.Errorf("protocol.tiers: %w", err)
	}
	if p.OrderExpirySecs <= 0 {
		return fmt.Errorf("protocol.order_expiry_secs must be positive")
	}
	if p.ProposalTimeout <= 0 {
		return fmt.Errorf("protocol.proposal_timeout_secs must be positive")
	}
	if p.IntentExpirySecs <= 0 {
		return fmt.Errorf("protocol.intent_expiry_secs must be positive")
	}
	if err := validateEthAddress("protocol.treasury_address", p.TreasuryAddress); err != nil {
		return err
	}
	if err := validateEthAddress("protocol.aggregator_address", p.AggregatorAddress); err != nil {
		return err
	}
	if len(p.SupportedAssets) == 0 {
		return fmt.Errorf("protocol.supported_assets must list at least one asset")
	}
	for _, asset := range p.SupportedAssets {
		if err := validateEthAddress("protocol.supported_assets", asset); err != nil {
			return err
		}
	}
	return nil
}

// validateEthAddress checks that addr is a well-formed hex address
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%s is not a valid address: %s", name, addr)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
}

// expandPath expands a leading ~ to the user home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default location of the config file
func DefaultConfigPath() string {
	return expandPath("~/.clearmesh/config.yaml")
}

// EnsureDirectories creates the directories the daemon needs at startup
func (c *Config) EnsureDirectories() error {
	if c.Daemon.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Daemon.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}
