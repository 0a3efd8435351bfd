package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/punchamoorthee/faktor/internal/fees"
	"github.com/spf13/viper"
)

type Config struct {
	DBSource string `mapstructure:"DB_SOURCE"`
	Port     string `mapstructure:"SERVER_PORT"`
	Env      string `mapstructure:"ENVIRONMENT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DistributorFee    int64  `mapstructure:"DISTRIBUTOR_FEE"`
	TreasuryFee       int64  `mapstructure:"TREASURY_FEE"`
	BaseReserve       int64  `mapstructure:"BASE_RESERVE"`
	TreasuryAuthority string `mapstructure:"TREASURY_AUTHORITY"`

	KeeperIdentity  string `mapstructure:"KEEPER_IDENTITY"`
	KeeperSchedule  string `mapstructure:"KEEPER_SCHEDULE"`
	KeeperBatchSize int    `mapstructure:"KEEPER_BATCH_SIZE"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	AMQPURL        string `mapstructure:"AMQP_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
}

var keys = []string{
	"DB_SOURCE", "SERVER_PORT", "ENVIRONMENT", "LOG_LEVEL",
	"DISTRIBUTOR_FEE", "TREASURY_FEE", "BASE_RESERVE", "TREASURY_AUTHORITY",
	"KEEPER_IDENTITY", "KEEPER_SCHEDULE", "KEEPER_BATCH_SIZE",
	"REDIS_URL", "AMQP_URL", "EVENTS_EXCHANGE",
}

// Load reads configuration from the environment, after loading a .env file if
// one is present. An empty DB_SOURCE selects the in-memory store.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DISTRIBUTOR_FEE", fees.DefaultDistributorFee)
	viper.SetDefault("TREASURY_FEE", fees.DefaultTreasuryFee)
	viper.SetDefault("BASE_RESERVE", fees.DefaultBaseReserve)
	viper.SetDefault("TREASURY_AUTHORITY", "treasury-authority")
	viper.SetDefault("KEEPER_IDENTITY", "keeper")
	viper.SetDefault("KEEPER_SCHEDULE", "@every 5s")
	viper.SetDefault("KEEPER_BATCH_SIZE", 100)
	viper.SetDefault("EVENTS_EXCHANGE", "payment_events")
	viper.AutomaticEnv()

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	cfg.KeeperSchedule = strings.TrimSpace(cfg.KeeperSchedule)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.FeePolicy().Validate(); err != nil {
		return err
	}
	if c.KeeperSchedule == "" {
		return fmt.Errorf("KEEPER_SCHEDULE must not be empty")
	}
	if c.KeeperBatchSize <= 0 {
		return fmt.Errorf("KEEPER_BATCH_SIZE must be positive, got %d", c.KeeperBatchSize)
	}
	if strings.TrimSpace(c.TreasuryAuthority) == "" {
		return fmt.Errorf("TREASURY_AUTHORITY must not be empty")
	}
	return nil
}

func (c *Config) FeePolicy() fees.Policy {
	return fees.Policy{
		DistributorFee: c.DistributorFee,
		TreasuryFee:    c.TreasuryFee,
		BaseReserve:    c.BaseReserve,
	}
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether a database was configured.
func (c *Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DBSource) != ""
}

// RequireDatabase fails for binaries that only work against a shared database,
// such as the keeper and the seeder.
func (c *Config) RequireDatabase(binary string) error {
	if !c.UsesPostgres() {
		return fmt.Errorf("%s: DB_SOURCE must be set", binary)
	}
	return nil
}
