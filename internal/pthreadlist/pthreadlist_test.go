package pthreadlist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/symtab"
)

// TestTryPreferredWithNilProbeReturnsStatusError covers the no-cgo-binding
// case (§9): without a probe wired in, the preferred path must report
// StatusError so callers always fall through to the symbol-scan fallback.
func TestTryPreferredWithNilProbeReturnsStatusError(t *testing.T) {
	status, err := TryPreferred(nil)
	require.NoError(t, err)
	require.Equal(t, StatusError, status)
}

// TestTryPreferredDelegatesToProbe covers the happy path: a non-nil probe's
// result is returned verbatim.
func TestTryPreferredDelegatesToProbe(t *testing.T) {
	status, err := TryPreferred(func() (Status, error) { return StatusNoLibThread, nil })
	require.NoError(t, err)
	require.Equal(t, StatusNoLibThread, status)
}

// TestFallbackWithNoRegisteredSymbolsReturnsNoThreads covers the case where
// neither stack_used nor __stack_user resolved in the target: the fallback
// must return an empty, non-error result rather than panicking on the
// missing lookups.
func TestFallbackWithNoRegisteredSymbolsReturnsNoThreads(t *testing.T) {
	mem, err := remote.Open(os.Getpid())
	require.NoError(t, err)
	defer mem.Close()

	res := symtab.New()
	defer res.Close()

	threads, err := Fallback(mem, res, nil)
	require.NoError(t, err)
	require.Empty(t, threads)
}
