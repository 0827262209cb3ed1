package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a config that passes Validate in dev mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "dev"
	cfg.Engine.Owner = "0xOwner"
	cfg.Engine.BaseToken = "usd-token"
	cfg.Engine.ServiceFeeAccount = "service-fees"
	cfg.Engine.CharityFeeAccount = "charity-fees"
	cfg.Engine.RemainderAccount = "remainder"
	cfg.Governance.Authority = "0xAuthority"
	cfg.Governance.BaseToken = "usd-token"
	cfg.Governance.NFTCollection = "governance-pass"
	cfg.Governance.Treasury = "treasury"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.True(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, time.Hour, cfg.Archive.Interval.Duration)
	assert.Equal(t, 90*24*time.Hour, cfg.Archive.RetainFor.Duration)
}

func TestValidateDevMode(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "replay"
	cfg.Engine.Owner = ""
	cfg.Governance.Treasury = ""
	cfg.Governance.MinTotalVote = 20
	cfg.Governance.MaxTotalVote = 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "engine: owner")
	assert.Contains(t, err.Error(), "governance: treasury")
	assert.Contains(t, err.Error(), "min_total_vote")
}

func TestValidateServeNeedsExternalServices(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "serve"
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateKeySourcesExclusive(t *testing.T) {
	cfg := validConfig()
	cfg.Authority.PrivateKey = "deadbeef"
	cfg.Authority.EncryptedKeyPath = "key.json"
	cfg.Authority.KeyPassword = "pw"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "dev"

[engine]
owner = "0xFileOwner"

[governance]
vote_window = "36h"

[redis]
addr = "redis.internal:6380"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("BPENGINE_ENGINE_OWNER", "0xEnvOwner")
	t.Setenv("BPENGINE_POSTGRES_PORT", "15432")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file, file beats defaults.
	assert.Equal(t, "0xEnvOwner", cfg.Engine.Owner)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 36*time.Hour, cfg.Governance.VoteWindow.Duration)
	assert.Equal(t, 15432, cfg.Postgres.Port)
	assert.Equal(t, "dev", cfg.Mode)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Authority.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Events.SigningSecret = "topsecret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Authority.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Events.SigningSecret)
	assert.Equal(t, "0xOwner", red.Engine.Owner)
}
