package config

import (
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var cfg Config
	parser := flags.NewParser(&cfg, flags.None)
	parser.NamespaceDelimiter = "-"
	_, err := parser.ParseArgs(args)
	require.NoError(t, err)

	return &cfg, cfg.Validate()
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t, "--auth-token", "secret")
	require.NoError(t, err)

	assert.Equal(t, "vigil.db", cfg.Storage.Path)
	assert.Equal(t, 0.85, cfg.Identity.AutoConfirm)
	assert.Equal(t, 0.55, cfg.Identity.Review)
	assert.Equal(t, "America/New_York", cfg.Pattern.Timezone)
	assert.Equal(t, 24, cfg.Pattern.MinSamples)
	assert.Equal(t, 1.5, cfg.Pattern.Multiplier)
	assert.Equal(t, 8, cfg.Ingest.Workers)
}

func TestValidate(t *testing.T) {
	_, err := parse(t)
	assert.ErrorContains(t, err, "auth-token", "serving requires a token")

	_, err = parse(t, "--input", "scrape.json")
	assert.NoError(t, err, "one-shot tasks run without a token")

	_, err = parse(t, "-t", "x", "--identity-review", "0.9", "--identity-auto-confirm", "0.8")
	assert.ErrorContains(t, err, "thresholds")

	_, err = parse(t, "-t", "x", "--pattern-timezone", "Mars/Olympus")
	assert.ErrorContains(t, err, "timezone")
}

func TestEnvNamespace(t *testing.T) {
	t.Setenv("VIGIL_AUTH_TOKEN", "from-env")
	t.Setenv("VIGIL_INGEST_WORKERS", "3")

	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AuthToken)
	assert.Equal(t, 3, cfg.Ingest.Workers)
}
