package descriptors

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/kraj/minicoredumper/internal/coretypes"
	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/symbolmap"
	"github.com/kraj/minicoredumper/internal/vmastore"
)

// rawDescriptor lays out one in-memory descriptor node plus its backing
// ident/format strings and element array, matching descSize/elemSize
// exactly, so readDescriptor/Run can be exercised against real
// /proc/self/mem reads without a synthetic target process.
type rawDescriptor struct {
	ident   [16]byte
	format  [16]byte
	elems   [2]rawElement
	node    rawNode
}

type rawElement struct {
	dataPtr uint64
	length  uint64
	flags   uint32
	argType uint32
}

type rawNode struct {
	identPtr  uint64
	formatPtr uint64
	elemsPtr  uint64
	count     uint64
	dtype     uint32
	scope     uint32
	next      uint64
}

func addrOf(v interface{}) uintptr {
	switch p := v.(type) {
	case *rawDescriptor:
		return uintptr(unsafe.Pointer(p))
	case *rawNode:
		return uintptr(unsafe.Pointer(p))
	case *[2]rawElement:
		return uintptr(unsafe.Pointer(p))
	case *[16]byte:
		return uintptr(unsafe.Pointer(p))
	default:
		panic("unsupported")
	}
}

func newSelfReader(t *testing.T) *remote.Reader {
	t.Helper()
	r, err := remote.Open(os.Getpid())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReadDescriptorCoreElements(t *testing.T) {
	mem := newSelfReader(t)

	var d rawDescriptor
	copy(d.ident[:], "myident\x00")
	copy(d.format[:], "\x00")

	payload := uint64(0xdeadbeefcafebabe)
	d.elems[0] = rawElement{
		dataPtr: uint64(addrOf(&payload)),
		length:  8,
		argType: ArgInt,
	}
	d.node = rawNode{
		identPtr: uint64(addrOf(&d.ident)),
		formatPtr: 0,
		elemsPtr:  uint64(addrOf(&d.elems)),
		count:     1,
		dtype:     typeBinary,
		scope:     0,
		next:      0,
	}

	got, err := readDescriptor(mem, addrOf(&d.node))
	require.NoError(t, err)
	require.Equal(t, "myident", got.Ident)
	require.True(t, got.IsBinary)
	require.Len(t, got.Elements, 1)
	require.EqualValues(t, 8, got.Elements[0].Length)
	require.EqualValues(t, ArgInt, got.Elements[0].ArgType)
}

func TestReadDescriptorIndirectElement(t *testing.T) {
	mem := newSelfReader(t)

	var target uint64 = 0x1122334455667788
	var ptrSlot uint64 = uint64(uintptr(unsafe.Pointer(&target)))

	var d rawDescriptor
	d.elems[0] = rawElement{
		dataPtr: uint64(addrOf(&ptrSlot)),
		length:  8,
		flags:   flagDataIndirect,
		argType: ArgInt,
	}
	d.node = rawNode{
		elemsPtr: uint64(addrOf(&d.elems)),
		count:    1,
	}

	got, err := readDescriptor(mem, addrOf(&d.node))
	require.NoError(t, err)
	require.Len(t, got.Elements, 1)
	require.Equal(t, uintptr(unsafe.Pointer(&target)), got.Elements[0].DataAddr)
	require.Equal(t, addrOf(&ptrSlot), got.Elements[0].IndirectAt)
}

func TestInterpreterRunVersionMismatch(t *testing.T) {
	mem := newSelfReader(t)

	var version uint64 = 2
	var head uint64 = 0

	in := New(mem, nil, 0, t.TempDir(), nil, nil)
	err := in.Run(uintptr(unsafe.Pointer(&version)), uintptr(unsafe.Pointer(&head)))
	require.Error(t, err)
}

func TestInterpreterRunNilHeadIsCleanSuccess(t *testing.T) {
	mem := newSelfReader(t)

	var version uint64 = DumpDataVersion
	var head uint64 = 0

	in := New(mem, nil, 0, t.TempDir(), nil, nil)
	err := in.Run(uintptr(unsafe.Pointer(&version)), uintptr(unsafe.Pointer(&head)))
	require.NoError(t, err)
}

func TestInterpreterRunDumpsBinaryFileAndSymbolMap(t *testing.T) {
	mem := newSelfReader(t)

	var payload uint64 = 0xcafebabedeadbeef

	var d rawDescriptor
	copy(d.ident[:], "blob\x00")
	d.elems[0] = rawElement{
		dataPtr: uint64(uintptr(unsafe.Pointer(&payload))),
		length:  8,
		argType: ArgInt,
	}
	d.node = rawNode{
		identPtr: uint64(addrOf(&d.ident)),
		elemsPtr: uint64(addrOf(&d.elems)),
		count:    1,
		dtype:    typeBinary,
	}

	var version uint64 = DumpDataVersion
	head := uint64(addrOf(&d.node))

	dumpsDir := t.TempDir()
	mapPath := filepath.Join(t.TempDir(), "symbol.map")
	symMap, err := symbolmap.Open(mapPath)
	require.NoError(t, err)

	vmas := []coretypes.VMA{
		{Start: 0, FileEnd: 1 << 40, MemEnd: 1 << 40, FileOff: 0, Flags: coretypes.PermRead},
	}
	corePath := filepath.Join(t.TempDir(), "core")
	core, err := os.OpenFile(corePath, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer core.Close()
	store := vmastore.New(vmas, core, mem)

	in := New(mem, store, 0, dumpsDir, symMap, nil)
	err = in.Run(uintptr(unsafe.Pointer(&version)), uintptr(unsafe.Pointer(&head)))
	require.NoError(t, err)
	require.NoError(t, symMap.Close())

	dumped, err := os.ReadFile(filepath.Join(dumpsDir, "blob"))
	require.NoError(t, err)
	require.Len(t, dumped, 8)
	require.Equal(t, payload, binary.LittleEndian.Uint64(dumped))

	mf, err := os.Open(mapPath)
	require.NoError(t, err)
	defer mf.Close()
	sc := bufio.NewScanner(mf)
	var lines int
	for sc.Scan() {
		lines++
	}
	require.Equal(t, 1, lines)
}

func TestInterpreterRunScopeFilterSkipsDescriptor(t *testing.T) {
	mem := newSelfReader(t)

	var payload uint64 = 42
	var d rawDescriptor
	copy(d.ident[:], "scoped\x00")
	d.elems[0] = rawElement{
		dataPtr: uint64(uintptr(unsafe.Pointer(&payload))),
		length:  8,
		argType: ArgInt,
	}
	d.node = rawNode{
		identPtr: uint64(addrOf(&d.ident)),
		elemsPtr: uint64(addrOf(&d.elems)),
		count:    1,
		dtype:    typeBinary,
		scope:    5, // exceeds configured dumpScope below
	}

	var version uint64 = DumpDataVersion
	head := uint64(addrOf(&d.node))

	dumpsDir := t.TempDir()
	in := New(mem, nil, 1, dumpsDir, nil, nil)
	err := in.Run(uintptr(unsafe.Pointer(&version)), uintptr(unsafe.Pointer(&head)))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dumpsDir, "scoped"))
	require.True(t, os.IsNotExist(err))
}
