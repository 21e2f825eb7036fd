package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nsroll.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
depth: 16
batch_size: 8
log_level: debug
debug_modules: trie_mod,aggregator_mod
db_path: /tmp/nsroll-db
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, c.Depth)
	assert.Equal(t, 8, c.BatchSize)
	assert.Equal(t, DefaultWorkers, c.Workers)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "trie_mod,aggregator_mod", c.DebugModules)
	assert.Equal(t, "/tmp/nsroll-db", c.DBPath)
	assert.Equal(t, DefaultProverSeed, c.ProverSeed)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "depth: 16\nworkers: 2\n")
	t.Setenv("NSROLL_DEPTH", "20")
	t.Setenv("NSROLL_OTLP_ENDPOINT", "localhost:4318")
	t.Setenv("NSROLL_PROVER_SEED", "ci-seed")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, c.Depth)
	assert.Equal(t, 2, c.Workers)
	assert.Equal(t, "localhost:4318", c.OTLPEndpoint)
	assert.Equal(t, "ci-seed", c.ProverSeed)
}

func TestEnvOverrideNotANumber(t *testing.T) {
	t.Setenv("NSROLL_BATCH_SIZE", "lots")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Depth = 254
	assert.True(t, errors.Is(c.Validate(), rollerrors.ErrInvalidDepth))

	c = Default()
	c.BatchSize = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.LogLevel = "chatty"
	assert.Error(t, c.Validate())

	c = Default()
	c.ProverSeed = ""
	assert.Error(t, c.Validate())

	_, err := Load(writeConfig(t, "workers: 0\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
