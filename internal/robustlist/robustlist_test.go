package robustlist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetHeadOnSelf(t *testing.T) {
	// Go programs don't use glibc's robust pthread mutexes, so the kernel
	// is expected to report either no robust list or one with head==0;
	// the call itself must not error on a live pid.
	_, _, err := GetHead(os.Getpid())
	require.NoError(t, err)
}

func TestGetHeadInvalidPid(t *testing.T) {
	_, ok, err := GetHead(-1)
	if err == nil {
		require.False(t, ok)
	}
}
