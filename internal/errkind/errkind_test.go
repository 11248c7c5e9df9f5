package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesIs(t *testing.T) {
	underlying := errors.New("boom")
	wrapped := Wrap(ErrIOSyscall, underlying)

	require.True(t, errors.Is(wrapped, ErrIOSyscall))
	require.True(t, errors.Is(wrapped, underlying))
	require.False(t, errors.Is(wrapped, ErrELFParse))
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap(ErrIOSyscall, nil))
}

func TestWrapSurvivesFmtWrap(t *testing.T) {
	underlying := errors.New("short read")
	wrapped := Wrap(ErrIOSyscall, underlying)
	reWrapped := fmt.Errorf("context: %w", wrapped)

	require.True(t, errors.Is(reWrapped, ErrIOSyscall))
}
