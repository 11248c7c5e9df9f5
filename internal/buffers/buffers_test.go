package buffers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraj/minicoredumper/internal/config"
	"github.com/kraj/minicoredumper/internal/coretypes"
	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/symtab"
	"github.com/kraj/minicoredumper/internal/vmastore"
)

// TestDumpAllReportsMissingSymbol covers §4.10's "warns+skips on missing
// symbol" rule: a spec naming a symbol absent from every registered
// object must invoke onMissing exactly once and must not panic trying to
// dump from a zero address.
func TestDumpAllReportsMissingSymbol(t *testing.T) {
	mem, err := remote.Open(os.Getpid())
	require.NoError(t, err)
	defer mem.Close()

	res := symtab.New()
	defer res.Close()

	dir := t.TempDir()
	core, err := os.OpenFile(filepath.Join(dir, "core"), os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer core.Close()
	store := vmastore.New(nil, core, mem)

	var missing []string
	DumpAll([]config.BufferSpec{{SymName: "definitely_not_registered", DataLen: 8}}, mem, res, store, func(symname string) {
		missing = append(missing, symname)
	})
	require.Equal(t, []string{"definitely_not_registered"}, missing)
}

func TestDumpAllEmptySpecsIsNoop(t *testing.T) {
	mem, err := remote.Open(os.Getpid())
	require.NoError(t, err)
	defer mem.Close()

	res := symtab.New()
	defer res.Close()

	store := vmastore.New([]coretypes.VMA{}, os.Stdout, mem)

	require.NotPanics(t, func() {
		DumpAll(nil, mem, res, store, nil)
	})
}
