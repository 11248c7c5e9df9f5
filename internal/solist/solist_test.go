package solist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAuxvSelfHasPhdrAndPhnum(t *testing.T) {
	pairs, err := ParseAuxv(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, pairs)

	_, ok := auxvLookup(pairs, atPhdr)
	require.True(t, ok, "AT_PHDR should be present in every process's auxv")
	_, ok = auxvLookup(pairs, atPhnum)
	require.True(t, ok, "AT_PHNUM should be present in every process's auxv")
}

func TestAuxvLookupMissingType(t *testing.T) {
	pairs := []AuxvPair{{Type: atPhdr, Value: 1}}
	_, ok := auxvLookup(pairs, 0xdead)
	require.False(t, ok)
}

// TestDumpBytesNilStoreIsNoop ensures the dump_auxv_so_list wiring is
// purely additive: a nil store (the flag disabled) must never be
// dereferenced.
func TestDumpBytesNilStoreIsNoop(t *testing.T) {
	require.NotPanics(t, func() {
		dumpBytes(nil, 0x1000, 8)
	})
}
