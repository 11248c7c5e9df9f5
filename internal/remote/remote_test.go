package remote

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestReadFullSelf(t *testing.T) {
	r, err := Open(os.Getpid())
	require.NoError(t, err)
	defer r.Close()

	payload := []byte("0123456789abcdef")
	addr := uintptr(unsafe.Pointer(&payload[0]))

	got, err := r.ReadFull(addr, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadUint64Self(t *testing.T) {
	r, err := Open(os.Getpid())
	require.NoError(t, err)
	defer r.Close()

	var v uint64 = 0x1122334455667788
	addr := uintptr(unsafe.Pointer(&v))

	got, err := r.ReadUint64(addr)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestReadCStringSelf(t *testing.T) {
	r, err := Open(os.Getpid())
	require.NoError(t, err)
	defer r.Close()

	payload := append([]byte("hello\x00"), 0xAA, 0xAA) // trailing garbage past NUL
	addr := uintptr(unsafe.Pointer(&payload[0]))

	s, err := r.ReadCString(addr, 4095)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestPid(t *testing.T) {
	r, err := Open(os.Getpid())
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, os.Getpid(), r.Pid())
}
