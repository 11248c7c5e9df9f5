package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraj/minicoredumper/internal/errkind"
)

func TestResolveNoReceiptsMatchesEverything(t *testing.T) {
	cfg := &Config{BaseDir: "/tmp"}
	r, err := cfg.Resolve("myapp", "/usr/bin/myapp")
	require.NoError(t, err)
	require.Equal(t, "myapp", r.Comm)
}

func TestResolveMatchesCommAndExe(t *testing.T) {
	cfg := &Config{
		Receipts: []Receipt{
			{Comm: "other"},
			{Comm: "myapp", Exe: "/usr/bin/myapp"},
		},
	}
	r, err := cfg.Resolve("myapp", "/usr/bin/myapp")
	require.NoError(t, err)
	require.Equal(t, "myapp", r.Comm)
}

// TestResolveNoMatchIsCleanNoOp covers §8 end-to-end scenario 1: a
// configuration with receipts that match nothing yields ErrNoReceipt, the
// signal the caller uses to exit 0 without creating an output directory.
func TestResolveNoMatchIsCleanNoOp(t *testing.T) {
	cfg := &Config{
		Receipts: []Receipt{{Comm: "other"}},
	}
	_, err := cfg.Resolve("myapp", "/usr/bin/myapp")
	require.ErrorIs(t, err, ErrNoReceipt)
}

func TestApplyDefaultsSetsDumpScope(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	require.Equal(t, 1, cfg.DumpScope)
}

func TestApplyDefaultsPreservesExplicitNonZero(t *testing.T) {
	cfg := &Config{DumpScope: 5}
	ApplyDefaults(cfg)
	require.Equal(t, 5, cfg.DumpScope)
}

func TestValidateRequiresBaseDir(t *testing.T) {
	cfg := &Config{}
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateRequiresBufferSymName(t *testing.T) {
	cfg := &Config{BaseDir: "/tmp", Buffers: []BufferSpec{{DataLen: 8}}}
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateJoinsMultipleFailures(t *testing.T) {
	cfg := &Config{Buffers: []BufferSpec{{}, {}}}
	err := Validate(cfg)
	require.Error(t, err)
	// base_dir plus two buffer errors should all survive errors.Join.
	require.GreaterOrEqual(t, len(unwrapJoined(err)), 3)
}

func unwrapJoined(err error) []error {
	type joined interface{ Unwrap() []error }
	if j, ok := err.(joined); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_dir: /var/lib/minicoredumper\ndump_scope: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/minicoredumper", cfg.BaseDir)
	require.Equal(t, 2, cfg.DumpScope)
}

func TestLoadInvalidConfigIsClassifiedConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dump_scope: 2\n"), 0o600)) // missing base_dir

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrConfigInvalid))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
