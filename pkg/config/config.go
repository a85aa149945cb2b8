package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	JWT        JWTConfig        `yaml:"jwt"`
	Solana     SolanaConfig     `yaml:"solana"`
	Staking    StakingConfig    `yaml:"staking"`
	Settlement SettlementConfig `yaml:"settlement"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            string `yaml:"port"`
	User            string `yaml:"user"`
	DBName          string `yaml:"name"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	TimeFormat string `yaml:"time_format"`
	Pretty     bool   `yaml:"pretty"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// SolanaConfig carries the chain endpoint and the custodial signer identity.
// It is built once at process start and injected; nothing resolves it through
// ambient globals.
type SolanaConfig struct {
	RPCURL              string        `yaml:"rpc_url"`
	Cluster             string        `yaml:"cluster"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	CustodialKey        string        `yaml:"custodial_key"`
	CustodialAddress    string        `yaml:"custodial_address"`
	RewardMint          string        `yaml:"reward_mint"`
	TokenDecimals       int           `yaml:"token_decimals"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`
}

// StakingConfig holds the reward-rate table. APRTable maps lock period
// (flexible, 30d, 60d, 90d) to APY percent.
type StakingConfig struct {
	APRTable  map[string]float64 `yaml:"apr_table"`
	MaxWeight float64            `yaml:"max_weight"`
}

type SettlementConfig struct {
	Epsilon           string        `yaml:"epsilon"`
	MaxLedgerAttempts int           `yaml:"max_ledger_attempts"`
	PendingTimeout    time.Duration `yaml:"pending_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`
	ClaimHistoryLimit int           `yaml:"claim_history_limit"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	CheckOrigin     bool          `yaml:"check_origin"`
	PingPeriod      time.Duration `yaml:"ping_period"`
}

func Load() (*Config, error) {
	return LoadFrom("./config.yaml")
}

func LoadFrom(path string) (*Config, error) {
	_ = godotenv.Load()

	configData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets come from the environment when present so the yaml file can be
	// committed without them.
	if v := os.Getenv("RSE_DB_PASSWORD"); v != "" {
		config.Database.Password = v
	}
	if v := os.Getenv("RSE_JWT_SECRET"); v != "" {
		config.JWT.Secret = v
	}
	if v := os.Getenv("RSE_CUSTODIAL_KEY"); v != "" {
		config.Solana.CustodialKey = v
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Settlement.Epsilon == "" {
		c.Settlement.Epsilon = "0.001"
	}
	if c.Settlement.MaxLedgerAttempts == 0 {
		c.Settlement.MaxLedgerAttempts = 5
	}
	if c.Settlement.PendingTimeout == 0 {
		c.Settlement.PendingTimeout = 10 * time.Minute
	}
	if c.Settlement.SweepInterval == 0 {
		c.Settlement.SweepInterval = time.Minute
	}
	if c.Settlement.IdempotencyWindow == 0 {
		c.Settlement.IdempotencyWindow = 24 * time.Hour
	}
	if c.Settlement.ClaimHistoryLimit == 0 {
		c.Settlement.ClaimHistoryLimit = 10
	}
	if c.Staking.MaxWeight == 0 {
		c.Staking.MaxWeight = 2.0
	}
	if c.Solana.ConfirmTimeout == 0 {
		c.Solana.ConfirmTimeout = 60 * time.Second
	}
	if c.Solana.ConfirmPollInterval == 0 {
		c.Solana.ConfirmPollInterval = 2 * time.Second
	}
	if c.Solana.Timeout == 0 {
		c.Solana.Timeout = 30 * time.Second
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "realmkin"
	}
}
