package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BPENGINE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BPENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "BPENGINE_MODE")
	setStr(&cfg.LogLevel, "BPENGINE_LOG_LEVEL")

	setStr(&cfg.Authority.PrivateKey, "BPENGINE_AUTHORITY_PRIVATE_KEY")
	setStr(&cfg.Authority.EncryptedKeyPath, "BPENGINE_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "BPENGINE_AUTHORITY_KEY_PASSWORD")

	setStr(&cfg.Engine.Owner, "BPENGINE_ENGINE_OWNER")
	setStr(&cfg.Engine.BaseToken, "BPENGINE_ENGINE_BASE_TOKEN")
	setStr(&cfg.Engine.ServiceFeeAccount, "BPENGINE_ENGINE_SERVICE_FEE_ACCOUNT")
	setStr(&cfg.Engine.CharityFeeAccount, "BPENGINE_ENGINE_CHARITY_FEE_ACCOUNT")
	setStr(&cfg.Engine.RemainderAccount, "BPENGINE_ENGINE_REMAINDER_ACCOUNT")

	setStr(&cfg.Governance.Authority, "BPENGINE_GOVERNANCE_AUTHORITY")
	setStr(&cfg.Governance.BaseToken, "BPENGINE_GOVERNANCE_BASE_TOKEN")
	setStr(&cfg.Governance.NFTCollection, "BPENGINE_GOVERNANCE_NFT_COLLECTION")
	setStr(&cfg.Governance.Treasury, "BPENGINE_GOVERNANCE_TREASURY")
	setUint64(&cfg.Governance.MinTotalVote, "BPENGINE_GOVERNANCE_MIN_TOTAL_VOTE")
	setUint64(&cfg.Governance.MaxTotalVote, "BPENGINE_GOVERNANCE_MAX_TOTAL_VOTE")
	setUint64(&cfg.Governance.MinRequiredNFT, "BPENGINE_GOVERNANCE_MIN_REQUIRED_NFT")
	setUint64(&cfg.Governance.MaxVotableNFT, "BPENGINE_GOVERNANCE_MAX_VOTABLE_NFT")
	setDuration(&cfg.Governance.VoteWindow, "BPENGINE_GOVERNANCE_VOTE_WINDOW")
	setUint64(&cfg.Governance.RewardPerVote, "BPENGINE_GOVERNANCE_REWARD_PER_VOTE")

	setStr(&cfg.Postgres.DSN, "BPENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BPENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BPENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BPENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BPENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BPENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BPENGINE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BPENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BPENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BPENGINE_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "BPENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BPENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BPENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BPENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BPENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BPENGINE_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "BPENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BPENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BPENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BPENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BPENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BPENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BPENGINE_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Events.SigningKey, "BPENGINE_EVENTS_SIGNING_KEY")
	setStr(&cfg.Events.SigningSecret, "BPENGINE_EVENTS_SIGNING_SECRET")

	setBool(&cfg.Archive.Enabled, "BPENGINE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BPENGINE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.RetainFor, "BPENGINE_ARCHIVE_RETAIN_FOR")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
