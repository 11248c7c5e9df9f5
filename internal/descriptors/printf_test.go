package descriptors

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	bytes   map[uintptr][]byte
	strings map[uintptr]string
}

func newFakeReader() *fakeReader {
	return &fakeReader{bytes: map[uintptr][]byte{}, strings: map[uintptr]string{}}
}

func (f *fakeReader) ReadFull(addr uintptr, n int) ([]byte, error) {
	b, ok := f.bytes[addr]
	if !ok {
		return nil, fmt.Errorf("no data at %#x", addr)
	}
	if len(b) < n {
		return nil, fmt.Errorf("short data at %#x", addr)
	}
	return b[:n], nil
}

func (f *fakeReader) ReadCString(addr uintptr, maxLen int) (string, error) {
	s, ok := f.strings[addr]
	if !ok {
		return "", fmt.Errorf("no string at %#x", addr)
	}
	return s, nil
}

func intBytes(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func TestRenderTextIntAndLiteral(t *testing.T) {
	mem := newFakeReader()
	mem.bytes[0x1000] = intBytes(42)

	out, err := renderText(mem, "count=%d!\n", []Element{
		{DataAddr: 0x1000, Length: 4, ArgType: ArgInt},
	})
	require.NoError(t, err)
	require.Equal(t, "count=42!\n", out)
}

func TestRenderTextEscapedPercent(t *testing.T) {
	out, err := renderText(newFakeReader(), "100%% done", nil)
	require.NoError(t, err)
	require.Equal(t, "100% done", out)
}

func TestRenderTextString(t *testing.T) {
	mem := newFakeReader()
	ptrBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptrBuf, 0x2000)
	mem.bytes[0x1000] = ptrBuf
	mem.strings[0x2000] = "hello"

	out, err := renderText(mem, "name=%s", []Element{
		{DataAddr: 0x1000, Length: 8, ArgType: ArgString},
	})
	require.NoError(t, err)
	require.Equal(t, "name=hello", out)
}

func TestRenderTextSurplusSpecifierFallsBackToLiteral(t *testing.T) {
	out, err := renderText(newFakeReader(), "a=%d b=%d", []Element{
		{DataAddr: 0x1000, Length: 0, ArgType: ArgInt}, // Length<1 forces literal fallback
	})
	require.NoError(t, err)
	require.Equal(t, "a=%d b=%d", out)
}

func TestRenderTextUnreadableElementFallsBackToLiteral(t *testing.T) {
	out, err := renderText(newFakeReader(), "v=%d", []Element{
		{DataAddr: 0xdead, Length: 4, ArgType: ArgInt}, // no data registered -> ReadFull errors
	})
	require.NoError(t, err)
	require.Equal(t, "v=%d", out)
}

func TestGoVerbStripsLengthModifiers(t *testing.T) {
	require.Equal(t, "%d", goVerb("%ld", 'd'))
	require.Equal(t, "%5d", goVerb("%5ld", 'd'))
	require.Equal(t, "%s", goVerb("%s", 's'))
	require.Equal(t, "%#x", goVerb("%p", 'p'))
}
