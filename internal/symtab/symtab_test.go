package symtab

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRegisterAndLookupSelf exercises the resolver against the test
// binary's own on-disk ELF symbol table (every `go test` binary carries
// one unless built with -ldflags=-s), the same self-inspection trick
// internal/remote's tests use against /proc/self/mem.
func TestRegisterAndLookupSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	r := New()
	if err := r.Register(exe, 0); err != nil {
		t.Skipf("test binary has no symbol table (likely stripped): %v", err)
	}
	defer r.Close()

	require.NotEmpty(t, r.Objects())

	addr, ok := r.Lookup("runtime.main")
	require.True(t, ok, "runtime.main should be present in an unstripped test binary")
	require.NotZero(t, addr)
}

func TestLookupMissingSymbol(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	r := New()
	if err := r.Register(exe, 0); err != nil {
		t.Skipf("test binary has no symbol table (likely stripped): %v", err)
	}
	defer r.Close()

	_, ok := r.Lookup("definitely_not_a_real_symbol_xyz")
	require.False(t, ok)
}

func TestLookupAppliesLoadBase(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	r := New()
	if err := r.Register(exe, 0x1000); err != nil {
		t.Skipf("test binary has no symbol table (likely stripped): %v", err)
	}
	defer r.Close()

	withoutBase := New()
	require.NoError(t, withoutBase.Register(exe, 0))
	defer withoutBase.Close()

	a1, ok1 := r.Lookup("runtime.main")
	a2, ok2 := withoutBase.Lookup("runtime.main")
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, a2+0x1000, a1)
}
