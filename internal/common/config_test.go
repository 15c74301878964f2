package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.GRPCAddr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Engine.StageTimeout)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, cfg.LLM.RetryDelays)
	assert.Equal(t, 60, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, 4000, cfg.LLM.CorrectionTokens)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doctranslate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
engine:
  stage_timeout: 5m
llm:
  model: file-model
`), 0o600))

	t.Setenv("OPENAI_MODEL", "legacy-model")
	t.Setenv("DOCTR_LLM__MODEL", "env-model")
	t.Setenv("DOCTR_ENGINE__MAX_ACTIVE", "9")
	t.Setenv("GRPC_ADDR", ":9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("grpc-addr", "", "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	cfg, err := LoadConfig(LoadOptions{
		File:     path,
		Flags:    flags,
		FlagKeys: map[string]string{"grpc-addr": "server.grpc_addr", "log-level": "log.level"},
	})
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Engine.StageTimeout)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.EqualValues(t, 9, cfg.Engine.MaxActive)
	assert.Equal(t, ":9000", cfg.Server.GRPCAddr, "unchanged flag must not override env")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Equal(t, CodeConfig, ErrorCode(err))
}

func TestConfigValidate(t *testing.T) {
	cfg, err := LoadConfig(LoadOptions{})
	require.NoError(t, err)

	cfg.Store.Driver = "postgres"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidInput)

	cfg.Store.DSN = "postgres://localhost/jobs"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "mysql"
	err = cfg.Validate()
	require.ErrorIs(t, err, ErrValidation)

	cfg.Store.Driver = "memory"
	cfg.Ingest.InboxDir = "/tmp/inbox"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
}
