package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	IdentityLocal  = "local"
	IdentityRemote = "remote"
)

type Config struct {
	Env              string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort          int    `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost          string `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	JWT              `yaml:"jwt"`
	Identity         `yaml:"identity"`
	BalanceAuthority `yaml:"balance_authority"`
	Storage          `yaml:"storage"`
	Ledger           `yaml:"ledger"`
	Redis            `yaml:"redis"`
	RabbitMQ         `yaml:"rabbitmq"`
	Mongo            `yaml:"mongo"`
}

type JWT struct {
	Secret string `yaml:"secret" env:"JWT_SECRET"`
}

// Identity selects how bearer tokens are checked: locally with the JWT secret, or by
// asking the identity service at URL.
type Identity struct {
	Mode    string        `yaml:"mode" env:"IDENTITY_MODE" env-default:"local"`
	URL     string        `yaml:"url" env:"IDENTITY_URL"`
	Timeout time.Duration `yaml:"timeout" env:"IDENTITY_TIMEOUT" env-default:"3s"`
}

type BalanceAuthority struct {
	URL     string        `yaml:"url" env:"BALANCE_AUTHORITY_URL" env-required:"true"`
	Timeout time.Duration `yaml:"timeout" env:"BALANCE_AUTHORITY_TIMEOUT" env-default:"5s"`
	APIKey  string        `yaml:"api_key" env:"BALANCE_AUTHORITY_API_KEY"`
}

type Storage struct {
	Driver   string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	WALPath  string `yaml:"wal_path" env:"STORAGE_WAL_PATH"`
	Postgres `yaml:"postgres"`
}

type Postgres struct {
	Host string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User string `yaml:"user" env:"POSTGRES_USER" env-default:"ledger"`
	Pass string `yaml:"pass" env:"POSTGRES_PASS" env-default:"ledger"`
	Db   string `yaml:"db" env:"POSTGRES_DB" env-default:"ledger"`
}

func (p Postgres) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Pass, p.Host, p.Port, p.Db)
}

type Ledger struct {
	AppendTimeout    time.Duration `yaml:"append_timeout" env:"LEDGER_APPEND_TIMEOUT" env-default:"5s"`
	SerializePerUser bool          `yaml:"serialize_per_user" env:"LEDGER_SERIALIZE_PER_USER" env-default:"false"`
	CompareAndSwap   bool          `yaml:"compare_and_swap" env:"LEDGER_COMPARE_AND_SWAP" env-default:"false"`
	// LeaseTTL must cover a balance read and a balance write.
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"LEDGER_LEASE_TTL" env-default:"15s"`
}

// Redis is optional. It backs the idempotency cache and, when enabled, per-user leases.
type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RabbitMQ is optional. Recorded movements are published when URL is set.
type RabbitMQ struct {
	URL      string `yaml:"url" env:"RABBITMQ_URL"`
	Exchange string `yaml:"exchange" env:"RABBITMQ_EXCHANGE" env-default:"ledger_events"`
}

// Mongo is optional. Unreconciled movements are journaled when URI is set.
type Mongo struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"ledger"`
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path. Environment variables, including those from a .env
// file in the working directory, override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	switch c.Identity.Mode {
	case IdentityLocal:
		if c.JWT.Secret == "" {
			return errors.New("jwt.secret is required when identity.mode is local")
		}
	case IdentityRemote:
		if c.Identity.URL == "" {
			return errors.New("identity.url is required when identity.mode is remote")
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.Identity.Mode)
	}

	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Ledger.AppendTimeout <= 0 {
		return errors.New("ledger.append_timeout must be positive")
	}

	if c.Ledger.SerializePerUser {
		if minTTL := 2 * c.BalanceAuthority.Timeout; c.Ledger.LeaseTTL <= minTTL {
			return fmt.Errorf("ledger.lease_ttl %s must exceed twice balance_authority.timeout (%s)",
				c.Ledger.LeaseTTL, minTTL)
		}
	}

	return nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
