package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"CardVault/service/cards/internal/claim"
)

// Config contiene le impostazioni runtime per cards-svc.
type Config struct {
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50061"`
	DBDSN       string `env:"DB_DSN"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	Log   LogConfig
	DB    DBConfig
	Redis RedisConfig
	Lock  LockConfig
	Claim ClaimConfig
	Trade TradeConfig

	OwnerUserID  string `env:"OWNER_USER_ID" envDefault:"166001619735937024"`
	CatalogDir   string `env:"CATALOG_DIR" envDefault:"service/cards/data"`
	DiscordToken string `env:"DISCORD_TOKEN"`
	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// DBConfig sono i pezzi del DSN quando DB_DSN non e' impostato.
type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"require"`
}

// RedisConfig: indirizzo vuoto significa lock locali in-process.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LogConfig: file vuoto significa log su stdout.
type LogConfig struct {
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`
}

type LockConfig struct {
	TTL     time.Duration `env:"LOCK_TTL" envDefault:"5s"`
	Retries int           `env:"LOCK_RETRIES" envDefault:"3"`
	Backoff time.Duration `env:"LOCK_BACKOFF" envDefault:"100ms"`
}

type ClaimConfig struct {
	Cooldown        time.Duration `env:"CLAIM_COOLDOWN" envDefault:"20s"`
	WeightCommon    int           `env:"CLAIM_WEIGHT_COMMON" envDefault:"300"`
	WeightRare      int           `env:"CLAIM_WEIGHT_RARE" envDefault:"40"`
	WeightEpic      int           `env:"CLAIM_WEIGHT_EPIC" envDefault:"5"`
	WeightLegendary int           `env:"CLAIM_WEIGHT_LEGENDARY" envDefault:"1"`
}

// Weights converte la configurazione nei pesi del motore di claim.
func (c ClaimConfig) Weights() claim.Weights {
	return claim.Weights{
		Common:    c.WeightCommon,
		Rare:      c.WeightRare,
		Epic:      c.WeightEpic,
		Legendary: c.WeightLegendary,
	}
}

type TradeConfig struct {
	CategoryName  string        `env:"TRADE_CATEGORY_NAME" envDefault:"Trading"`
	IdleTimeout   time.Duration `env:"TRADE_IDLE_TIMEOUT" envDefault:"15m"`
	SweepInterval time.Duration `env:"TRADE_SWEEP_INTERVAL" envDefault:"1m"`
}

// Load legge le variabili d'ambiente e applica i default.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = buildDSN(cfg.DB)
	}
	return cfg, cfg.Validate()
}

// Validate rifiuta le combinazioni che renderebbero il servizio inutilizzabile.
func (c Config) Validate() error {
	if err := c.Claim.Weights().Validate(); err != nil {
		return err
	}
	if c.Claim.Cooldown <= 0 {
		return errors.New("CLAIM_COOLDOWN must be positive")
	}
	switch c.StoreDriver {
	case "postgres":
		if c.DBDSN == "" {
			return errors.New("DB_DSN (or DB_HOST/DB_USER/DB_NAME) is required with STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Lock.TTL <= 0 {
		return errors.New("LOCK_TTL must be positive")
	}
	if c.Lock.Retries < 0 {
		return errors.New("LOCK_RETRIES must not be negative")
	}
	return nil
}

// SlogLevel traduce LOG_LEVEL; valori sconosciuti diventano info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildDSN(db DBConfig) string {
	if db.Host == "" || db.User == "" || db.Name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", db.User, db.Password, db.Host, db.Port, db.Name, db.SSLMode)
}
