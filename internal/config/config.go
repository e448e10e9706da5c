// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Trading modes.
const (
	ModePaper  = "paper"
	ModeQuoted = "quoted"
)

// feeDenominator is the pool fee scale, 1e6 hundredths of a bip = 100%.
const feeDenominator = 1_000_000

// Event log drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Uniswap   UniswapConfig   `mapstructure:"uniswap"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Market    MarketConfig    `mapstructure:"market"`
	EventLog  EventLogConfig  `mapstructure:"event_log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Health    HealthConfig    `mapstructure:"health"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// EthereumConfig holds Ethereum node configuration. The node is only
// dialed in quoted mode.
type EthereumConfig struct {
	HTTPURL        string        `mapstructure:"http_url"`
	ChainID        uint64        `mapstructure:"chain_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// UniswapConfig holds Uniswap V3 deployment parameters used in quoted mode.
type UniswapConfig struct {
	QuoterAddress    string        `mapstructure:"quoter_address"`
	FactoryAddress   string        `mapstructure:"factory_address"`
	PoolInitCodeHash string        `mapstructure:"pool_init_code_hash"`
	PoolCacheTTL     time.Duration `mapstructure:"pool_cache_ttl"`
}

// QuoterAddressHex returns the quoter address as common.Address.
func (c *UniswapConfig) QuoterAddressHex() common.Address {
	return common.HexToAddress(c.QuoterAddress)
}

// FactoryAddressHex returns the factory address as common.Address.
func (c *UniswapConfig) FactoryAddressHex() common.Address {
	return common.HexToAddress(c.FactoryAddress)
}

// PoolInitCodeHashHex returns the configured init code hash, zero if unset.
func (c *UniswapConfig) PoolInitCodeHashHex() common.Hash {
	if c.PoolInitCodeHash == "" {
		return common.Hash{}
	}
	return common.HexToHash(c.PoolInitCodeHash)
}

// TradingConfig configures the coordinator and its service façade.
type TradingConfig struct {
	Mode              string        `mapstructure:"mode"`
	BaseAsset         string        `mapstructure:"base_asset"`
	EngineAddress     string        `mapstructure:"engine_address"`
	InitiatorAddress  string        `mapstructure:"initiator_address"`
	LenderVenue       string        `mapstructure:"lender_venue"`
	DefaultDeadline   time.Duration `mapstructure:"default_deadline"`
	AttemptsPerMinute int           `mapstructure:"attempts_per_minute"`
	ReconcileOnStart  bool          `mapstructure:"reconcile_on_start"`
	Tokens            []TokenConfig `mapstructure:"tokens"`
}

// EngineAddressHex returns the engine account.
func (c *TradingConfig) EngineAddressHex() common.Address {
	return common.HexToAddress(c.EngineAddress)
}

// InitiatorAddressHex returns the only account allowed to trade.
func (c *TradingConfig) InitiatorAddressHex() common.Address {
	return common.HexToAddress(c.InitiatorAddress)
}

// TokenConfig registers an asset beyond the built-in ones.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// MarketConfig describes the venues legs can be routed to and the balances
// seeded at startup. Amounts are decimal strings in whole units.
type MarketConfig struct {
	Venues   []VenueConfig   `mapstructure:"venues"`
	Balances []BalanceConfig `mapstructure:"balances"`
}

// VenueConfig is one exchange deployment. In quoted mode Quoter prices the
// venue's legs; in paper mode the pools are constant-product books.
type VenueConfig struct {
	Name    string       `mapstructure:"name"`
	Router  string       `mapstructure:"router"`
	Factory string       `mapstructure:"factory"`
	Quoter  string       `mapstructure:"quoter"`
	Pools   []PoolConfig `mapstructure:"pools"`
}

// PoolConfig lists a pool and seeds its reserves.
type PoolConfig struct {
	TokenA   string `mapstructure:"token_a"`
	TokenB   string `mapstructure:"token_b"`
	Fee      uint32 `mapstructure:"fee"`
	ReserveA string `mapstructure:"reserve_a"`
	ReserveB string `mapstructure:"reserve_b"`
}

// BalanceConfig credits an account at startup.
type BalanceConfig struct {
	Account string `mapstructure:"account"`
	Asset   string `mapstructure:"asset"`
	Amount  string `mapstructure:"amount"`
}

// EventLogConfig selects the record store and optional sinks.
type EventLogConfig struct {
	Driver     string          `mapstructure:"driver"`
	SQLitePath string          `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig  `mapstructure:"postgres"`
	Redis      RedisConfig     `mapstructure:"redis"`
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
}

// PostgresConfig holds the shared store connection.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig enables the stream sink when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

// WebSocketConfig enables the monitoring sink when URL is set.
type WebSocketConfig struct {
	URL            string        `mapstructure:"url"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// HealthConfig controls the probe server.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")

	// Ethereum
	v.BindEnv("ethereum.http_url", "ARB_ETH_HTTP_URL", "ETH_HTTP_URL")
	v.BindEnv("ethereum.chain_id", "ARB_ETH_CHAIN_ID", "ETH_CHAIN_ID")

	// Uniswap
	v.BindEnv("uniswap.quoter_address", "ARB_UNISWAP_QUOTER", "UNISWAP_QUOTER")
	v.BindEnv("uniswap.factory_address", "ARB_UNISWAP_FACTORY", "UNISWAP_FACTORY")

	// Trading
	v.BindEnv("trading.mode", "ARB_TRADING_MODE")
	v.BindEnv("trading.engine_address", "ARB_ENGINE_ADDRESS")
	v.BindEnv("trading.initiator_address", "ARB_INITIATOR_ADDRESS")

	// Event log
	v.BindEnv("event_log.driver", "ARB_EVENT_LOG_DRIVER")
	v.BindEnv("event_log.sqlite_path", "ARB_EVENT_LOG_SQLITE_PATH")
	v.BindEnv("event_log.postgres.dsn", "ARB_POSTGRES_DSN", "DATABASE_URL")
	v.BindEnv("event_log.redis.addr", "ARB_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("event_log.redis.password", "ARB_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("event_log.websocket.url", "ARB_RECORDS_WS_URL")

	// Telemetry
	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.otlp_headers", "ARB_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "flash-arbitrage")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Ethereum defaults
	v.SetDefault("ethereum.chain_id", 1)
	v.SetDefault("ethereum.request_timeout", "10s")

	// Uniswap V3 Mainnet defaults
	v.SetDefault("uniswap.quoter_address", "0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	v.SetDefault("uniswap.factory_address", "0x1F98431c8aD98523631AE4a59f267346ea31F984")
	v.SetDefault("uniswap.pool_init_code_hash", "0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
	v.SetDefault("uniswap.pool_cache_ttl", "10m")

	// Trading defaults
	v.SetDefault("trading.mode", ModePaper)
	v.SetDefault("trading.base_asset", "USDC")
	v.SetDefault("trading.default_deadline", "2m")
	v.SetDefault("trading.attempts_per_minute", 60)
	v.SetDefault("trading.reconcile_on_start", true)

	// Event log defaults
	v.SetDefault("event_log.driver", DriverMemory)
	v.SetDefault("event_log.sqlite_path", "trades.db")
	v.SetDefault("event_log.postgres.max_conns", 4)
	v.SetDefault("event_log.redis.stream", "trade:records")
	v.SetDefault("event_log.websocket.initial_backoff", "1s")
	v.SetDefault("event_log.websocket.max_backoff", "30s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "flash-arbitrage")
	v.SetDefault("telemetry.trace_provider", "zipkin")
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Health defaults
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8081)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModePaper:
	case ModeQuoted:
		if c.Ethereum.HTTPURL == "" {
			return fmt.Errorf("ethereum.http_url is required in %s mode", ModeQuoted)
		}
		if !common.IsHexAddress(c.Uniswap.QuoterAddress) {
			return fmt.Errorf("invalid uniswap.quoter_address: %s", c.Uniswap.QuoterAddress)
		}
	default:
		return fmt.Errorf("trading.mode must be %q or %q, got %q", ModePaper, ModeQuoted, c.Trading.Mode)
	}

	if !common.IsHexAddress(c.Trading.EngineAddress) {
		return fmt.Errorf("invalid trading.engine_address: %q", c.Trading.EngineAddress)
	}
	if !common.IsHexAddress(c.Trading.InitiatorAddress) {
		return fmt.Errorf("invalid trading.initiator_address: %q", c.Trading.InitiatorAddress)
	}
	if c.Trading.BaseAsset == "" {
		return fmt.Errorf("trading.base_asset is required")
	}
	if c.Trading.AttemptsPerMinute < 0 {
		return fmt.Errorf("trading.attempts_per_minute cannot be negative")
	}
	for _, t := range c.Trading.Tokens {
		if t.Symbol == "" || !common.IsHexAddress(t.Address) {
			return fmt.Errorf("invalid trading.tokens entry %q (%s)", t.Symbol, t.Address)
		}
	}

	if err := c.Market.validate(c.Trading.LenderVenue); err != nil {
		return err
	}

	switch c.EventLog.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.EventLog.SQLitePath == "" {
			return fmt.Errorf("event_log.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.EventLog.Postgres.DSN == "" {
			return fmt.Errorf("event_log.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown event_log.driver %q", c.EventLog.Driver)
	}
	return nil
}

func (m *MarketConfig) validate(lender string) error {
	if len(m.Venues) == 0 {
		return fmt.Errorf("market.venues cannot be empty")
	}

	names := make(map[string]bool, len(m.Venues))
	routers := make(map[string]bool, len(m.Venues))
	for _, v := range m.Venues {
		if v.Name == "" {
			return fmt.Errorf("market venue without a name")
		}
		if names[v.Name] {
			return fmt.Errorf("duplicate market venue %q", v.Name)
		}
		names[v.Name] = true

		if !common.IsHexAddress(v.Router) || !common.IsHexAddress(v.Factory) {
			return fmt.Errorf("venue %q: router and factory must be addresses", v.Name)
		}
		key := strings.ToLower(v.Router)
		if routers[key] {
			return fmt.Errorf("venue %q: router %s already in use", v.Name, v.Router)
		}
		routers[key] = true

		if v.Quoter != "" && !common.IsHexAddress(v.Quoter) {
			return fmt.Errorf("venue %q: invalid quoter %s", v.Name, v.Quoter)
		}
		for _, p := range v.Pools {
			if p.TokenA == "" || p.TokenB == "" || p.Fee == 0 {
				return fmt.Errorf("venue %q: pool needs token_a, token_b and fee", v.Name)
			}
			if p.Fee >= feeDenominator {
				return fmt.Errorf("venue %q: pool fee %d must be below %d", v.Name, p.Fee, feeDenominator)
			}
		}
	}

	if lender == "" {
		return fmt.Errorf("trading.lender_venue is required")
	}
	if !names[lender] {
		return fmt.Errorf("trading.lender_venue %q is not a market venue", lender)
	}

	for _, b := range m.Balances {
		if !common.IsHexAddress(b.Account) || b.Asset == "" {
			return fmt.Errorf("invalid market balance for %q", b.Account)
		}
	}
	return nil
}
