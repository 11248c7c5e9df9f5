package srccore

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraj/minicoredumper/internal/coretypes"
)

func syntheticCoreBytes() []byte {
	const ehdrSize = 64
	const phdrSize = 56
	const numPhdrs = 1

	loadOffset := uint64(ehdrSize + numPhdrs*phdrSize)
	loadData := bytes.Repeat([]byte{0xAB}, 4096)
	loadVAddr := uint64(0x10000)

	buf := make([]byte, loadOffset+uint64(len(loadData)))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1
	const ET_CORE = 4
	binary.LittleEndian.PutUint16(buf[16:18], ET_CORE)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[32:40], ehdrSize)
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], numPhdrs)

	p0 := buf[ehdrSize : ehdrSize+phdrSize]
	binary.LittleEndian.PutUint32(p0[0:4], coretypes.PT_LOAD)
	binary.LittleEndian.PutUint32(p0[4:8], coretypes.PF_R)
	binary.LittleEndian.PutUint64(p0[8:16], loadOffset)
	binary.LittleEndian.PutUint64(p0[16:24], loadVAddr)
	binary.LittleEndian.PutUint64(p0[32:40], uint64(len(loadData)))
	binary.LittleEndian.PutUint64(p0[40:48], uint64(len(loadData)))

	copy(buf[loadOffset:], loadData)
	return buf
}

func TestImportParsesAndExtends(t *testing.T) {
	src := bytes.NewReader(syntheticCoreBytes())
	outPath := filepath.Join(t.TempDir(), "core")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer out.Close()

	result, err := Import(src, out, nil)
	require.NoError(t, err)
	require.Len(t, result.VMAs, 1)
	require.EqualValues(t, 0x10000, result.VMAs[0].Start)

	info, err := out.Stat()
	require.NoError(t, err)
	require.EqualValues(t, result.Length, info.Size())
}

func TestImportFailsOnGarbage(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0x00}, pageSize*MaxTries*2+16))
	outPath := filepath.Join(t.TempDir(), "core")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer out.Close()

	_, err = Import(src, out, nil)
	require.Error(t, err)
}
