// Package config defines the top-level configuration for the bitpredict
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BPENGINE_* environment
// variables.
type Config struct {
	Authority  AuthorityConfig  `toml:"authority"`
	Engine     EngineConfig     `toml:"engine"`
	Governance GovernanceConfig `toml:"governance"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Events     EventsConfig     `toml:"events"`
	Archive    ArchiveConfig    `toml:"archive"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// AuthorityConfig holds the operator signing key. Either a raw hex key or an
// encrypted key file plus password.
type AuthorityConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// EngineConfig holds the market-engine bootstrap accounts. These seed the
// persisted singleton engine config on first start.
type EngineConfig struct {
	Owner             string `toml:"owner"`
	BaseToken         string `toml:"base_token"`
	ServiceFeeAccount string `toml:"service_fee_account"`
	CharityFeeAccount string `toml:"charity_fee_account"`
	RemainderAccount  string `toml:"remainder_account"`
}

// GovernanceConfig holds the governance bootstrap parameters. These seed the
// persisted singleton governance config on first start.
type GovernanceConfig struct {
	Authority      string   `toml:"authority"`
	BaseToken      string   `toml:"base_token"`
	NFTCollection  string   `toml:"nft_collection"`
	Treasury       string   `toml:"treasury"`
	MinTotalVote   uint64   `toml:"min_total_vote"`
	MaxTotalVote   uint64   `toml:"max_total_vote"`
	MinRequiredNFT uint64   `toml:"min_required_nft"`
	MaxVotableNFT  uint64   `toml:"max_votable_nft"`
	VoteWindow     duration `toml:"vote_window"`
	RewardPerVote  uint64   `toml:"reward_per_vote"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EventsConfig holds the shared secret used to sign published events.
// Signing is disabled when the secret is empty.
type EventsConfig struct {
	SigningKey    string `toml:"signing_key"`
	SigningSecret string `toml:"signing_secret"`
}

// ArchiveConfig controls the background settlement archiver.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// RetainFor is how long a resolved market stays out of the archive
	// before it is swept into object storage.
	RetainFor duration `toml:"retain_for"`
}

// duration wraps time.Duration so TOML can parse strings like "5m" or "24h".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with built-in defaults. The result is
// not valid on its own: deployment accounts and credentials must come from
// the TOML file or environment.
func Defaults() Config {
	return Config{
		Governance: GovernanceConfig{
			MinTotalVote:   1,
			MaxTotalVote:   100,
			MinRequiredNFT: 1,
			MaxVotableNFT:  10,
			VoteWindow:     duration{24 * time.Hour},
			RewardPerVote:  1,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "require",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			RetainFor: duration{90 * 24 * time.Hour},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true, // postgres + redis + s3
	"dev":     true, // in-memory stores, no external services
	"migrate": true, // run migrations then exit
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, dev, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Authority key: raw key and encrypted file are mutually exclusive
	// sources; the password only makes sense with the file.
	if c.Authority.PrivateKey != "" && c.Authority.EncryptedKeyPath != "" {
		errs = append(errs, "authority: private_key and encrypted_key_path are mutually exclusive")
	}
	if c.Authority.EncryptedKeyPath != "" && c.Authority.KeyPassword == "" {
		errs = append(errs, "authority: key_password is required when encrypted_key_path is set")
	}

	// Engine bootstrap accounts.
	if c.Engine.Owner == "" {
		errs = append(errs, "engine: owner must not be empty")
	}
	if c.Engine.BaseToken == "" {
		errs = append(errs, "engine: base_token must not be empty")
	}
	if c.Engine.ServiceFeeAccount == "" {
		errs = append(errs, "engine: service_fee_account must not be empty")
	}
	if c.Engine.CharityFeeAccount == "" {
		errs = append(errs, "engine: charity_fee_account must not be empty")
	}
	if c.Engine.RemainderAccount == "" {
		errs = append(errs, "engine: remainder_account must not be empty")
	}

	// Governance bootstrap.
	if c.Governance.Authority == "" {
		errs = append(errs, "governance: authority must not be empty")
	}
	if c.Governance.Treasury == "" {
		errs = append(errs, "governance: treasury must not be empty")
	}
	if c.Governance.NFTCollection == "" {
		errs = append(errs, "governance: nft_collection must not be empty")
	}
	if c.Governance.MaxTotalVote == 0 {
		errs = append(errs, "governance: max_total_vote must be >= 1")
	}
	if c.Governance.MaxVotableNFT == 0 {
		errs = append(errs, "governance: max_votable_nft must be >= 1")
	}
	if c.Governance.MinTotalVote > c.Governance.MaxTotalVote {
		errs = append(errs, "governance: min_total_vote must not exceed max_total_vote")
	}
	if c.Governance.VoteWindow.Duration <= 0 {
		errs = append(errs, "governance: vote_window must be positive")
	}

	// External services are only required outside dev mode.
	if strings.ToLower(c.Mode) != "dev" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetainFor.Duration <= 0 {
			errs = append(errs, "archive: retain_for must be positive")
		}
	}

	// Event signing wants both halves or neither.
	sk := c.Events.SigningKey != ""
	ss := c.Events.SigningSecret != ""
	if sk != ss {
		errs = append(errs, "events: signing_key and signing_secret must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
