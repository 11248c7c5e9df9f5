// Package buffer provides an mmap-backed scratch area used to assemble a
// dump-descriptor or interesting-buffer payload before it is written out
// in one shot, either into the sparse core or appended to a
// dumps/<ident> file. Adapted from bradfitz-livecore's Manager, which
// staged every VMA's bytes ahead of a single ELF core write; here the
// same staging trick serves a narrower job — assembling the
// [indirection-pointer][payload] byte sequence the binary dump file
// format calls for (§6) so the append to disk is one write, not two,
// and so test code can assert on the assembled bytes before anything
// touches the filesystem.
package buffer

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// TmpOffset is an offset into the staging file.
type TmpOffset int64

// key identifies one staged payload by its originating target address and
// length, the same (offset, size) identity the teacher used for VMAs.
type key struct {
	Addr uint64
	Size uint64
}

// Manager owns one mmap-backed staging file.
type Manager struct {
	file *os.File

	mu          sync.Mutex
	allocations map[key]TmpOffset
	nextOffset  TmpOffset
	fsBlockSize uint64

	mmapData []byte
	mmapSize int64
}

// defaultMmapSize is far smaller than the teacher's 512GB livecore
// buffer: that repo staged every byte of every VMA of a live multi-GB
// process ahead of one ELF write, where this package only ever stages
// one descriptor or interesting-buffer payload at a time (§4.9, §4.10).
const defaultMmapSize = 1 << 30 // 1GB

// NewManager creates a Manager backed by a temp file in dir (typically
// the dump's output directory, keeping the staging area on the same
// filesystem as the eventual destination).
func NewManager(dir string) (*Manager, error) {
	tempFile, err := os.CreateTemp(dir, "minicoredumper-stage-*")
	if err != nil {
		return nil, fmt.Errorf("buffer: create staging file: %w", err)
	}
	tempPath := tempFile.Name()
	os.Remove(tempPath) // unlink immediately; the open fd keeps it alive

	fsBlockSize, err := getFilesystemBlockSize(tempFile)
	if err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("buffer: stat staging file: %w", err)
	}

	if err := tempFile.Truncate(defaultMmapSize); err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("buffer: grow staging file: %w", err)
	}
	mmapData, err := unix.Mmap(int(tempFile.Fd()), 0, defaultMmapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("buffer: mmap staging file: %w", err)
	}

	return &Manager{
		file:        tempFile,
		allocations: make(map[key]TmpOffset),
		fsBlockSize: fsBlockSize,
		mmapData:    mmapData,
		mmapSize:    defaultMmapSize,
	}, nil
}

func getFilesystemBlockSize(file *os.File) (uint64, error) {
	var stat syscall.Stat_t
	if err := syscall.Fstat(int(file.Fd()), &stat); err != nil {
		return 0, err
	}
	if stat.Blksize <= 0 {
		return 4096, nil
	}
	return uint64(stat.Blksize), nil
}

// Stage writes data into the mmap buffer for (addr, len(data)),
// reusing any prior allocation for the same identity, and returns the
// staging offset. Writes go straight to the mapped memory (WriteDataTo's
// counterpart): no separate WriteAt syscall is needed, fixing the
// teacher's writer.go, which called a WriteDataTo method that was never
// defined on Manager.
func (m *Manager) Stage(addr uint64, data []byte) (TmpOffset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{Addr: addr, Size: uint64(len(data))}
	offset, ok := m.allocations[k]
	if !ok {
		offset = TmpOffset((m.nextOffset + TmpOffset(m.fsBlockSize) - 1) &^ (TmpOffset(m.fsBlockSize) - 1))
		m.allocations[k] = offset
		m.nextOffset = offset + TmpOffset(len(data))
	}
	if int64(offset)+int64(len(data)) > m.mmapSize {
		return 0, fmt.Errorf("buffer: staged payload at %#x exceeds staging area size %d", addr, m.mmapSize)
	}
	copy(m.mmapData[offset:], data)
	return offset, nil
}

// Read returns a copy of size bytes staged at offset.
func (m *Manager) Read(offset TmpOffset, size uint64) ([]byte, error) {
	if int64(offset) < 0 || int64(offset)+int64(size) > m.mmapSize {
		return nil, fmt.Errorf("buffer: read [%d:%d) out of bounds (size %d)", offset, int64(offset)+int64(size), m.mmapSize)
	}
	out := make([]byte, size)
	copy(out, m.mmapData[offset:int64(offset)+int64(size)])
	return out, nil
}

// WriteDataTo writes the size bytes staged at offset directly to w. This
// is the method the teacher's writer.go called on its Manager without
// ever defining it; here it is implemented for real, backed by the
// mmap'd region rather than a redundant file read.
func (m *Manager) WriteDataTo(w interface{ Write([]byte) (int, error) }, offset TmpOffset, size uint64) error {
	buf, err := m.Read(offset, size)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// PunchHole releases the backing pages for [offset, offset+length) once
// a payload has been flushed and no longer needs to stay resident.
func (m *Manager) PunchHole(offset TmpOffset, length uint64) error {
	return unix.Fallocate(int(m.file.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(offset), int64(length))
}

// Close unmaps and closes the staging file.
func (m *Manager) Close() error {
	if m.mmapData != nil {
		unix.Munmap(m.mmapData)
		m.mmapData = nil
	}
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}
