// Package vmastore implements the VMA-scoped writer (§4.3): given a target
// virtual address and length, it finds the covering loadable segment,
// computes the file offset, reads from /proc/<pid>/mem, and writes at the
// segment-relative file offset, clipping ranges that spill outside the
// segment. Grounded on original_source's dump_vma/get_vma_pos and
// parse_vma_info (vma_start/vma_end/file-offset arithmetic); no teacher
// file does on-demand clipped remote-to-core copies since
// bradfitz-livecore pre-buffers every byte of every VMA up front via its
// mmap-backed buffer.Manager rather than writing selectively.
package vmastore

import (
	"fmt"
	"sort"

	"github.com/kraj/minicoredumper/internal/coretypes"
	"github.com/kraj/minicoredumper/internal/remote"
)

// Store holds the VMA list (a copy of the collector's list, sorted into
// ascending-address order for binary search) and the open output core
// handle.
type Store struct {
	vmas []coretypes.VMA
	core writerAt
	mem  *remote.Reader
}

type writerAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// New builds a Store from the collected VMA list, open core file, and
// remote-memory reader.
func New(vmas []coretypes.VMA, core writerAt, mem *remote.Reader) *Store {
	sorted := append([]coretypes.VMA(nil), vmas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return &Store{vmas: sorted, core: core, mem: mem}
}

// VMAs returns the VMA list in ascending-address order.
func (s *Store) VMAs() []coretypes.VMA { return s.vmas }

// Find returns the VMA containing addr, matching the §3 containment
// invariant (at most one VMA satisfies start <= a < mem_end).
func (s *Store) Find(addr uintptr) (coretypes.VMA, bool) {
	i := sort.Search(len(s.vmas), func(i int) bool { return s.vmas[i].MemEnd > addr })
	if i < len(s.vmas) && s.vmas[i].Contains(addr) {
		return s.vmas[i], true
	}
	return coretypes.VMA{}, false
}

// DumpVMA is dump_vma(addr, len, balloon, ...): resolves the covering VMA,
// optionally expands the requested range by balloon bytes on both sides
// (used by the pthread-list fallback, which doesn't know the exact size
// of the opaque thread structure it's capturing), clips against the
// VMA's file-backed range, and copies the clipped bytes from the target's
// memory into the core at the corresponding file offset.
//
// Read failures are logged by the caller and abort only this call (no
// partial writes occur before the read). The write goes out in page-sized
// chunks; a failed chunk does not stop the later ones, the core remains
// sparse wherever a write failed, and the first write error is returned
// once every chunk has been tried. No covering VMA is a non-fatal, logged
// error.
func (s *Store) DumpVMA(addr uintptr, length uint64, balloon uint64) (uint64, error) {
	start := addr
	end := addr + uintptr(length)
	if balloon > 0 {
		if start > uintptr(balloon) {
			start -= uintptr(balloon)
		} else {
			start = 0
		}
		end += uintptr(balloon)
	}

	vma, ok := s.Find(start)
	if !ok {
		return 0, fmt.Errorf("vmastore: no VMA covers address %#x", start)
	}

	clippedStart := start
	if clippedStart < vma.Start {
		clippedStart = vma.Start
	}
	clippedEnd := end
	if clippedEnd > vma.FileEnd {
		clippedEnd = vma.FileEnd
	}
	if clippedEnd <= clippedStart {
		return 0, nil
	}
	n := uint64(clippedEnd - clippedStart)

	buf, err := s.mem.ReadFull(clippedStart, int(n))
	if err != nil {
		return 0, fmt.Errorf("vmastore: read target memory at %#x: %w", clippedStart, err)
	}

	fileOff := int64(vma.FileOff) + int64(clippedStart-vma.Start)
	const pageSize = 4096
	var werr error
	for off := uint64(0); off < n; off += pageSize {
		chunkEnd := off + pageSize
		if chunkEnd > n {
			chunkEnd = n
		}
		if _, err := s.core.WriteAt(buf[off:chunkEnd], fileOff+int64(off)); err != nil && werr == nil {
			werr = fmt.Errorf("vmastore: write core at offset %#x: %w", fileOff+int64(off), err)
		}
	}
	if werr != nil {
		return 0, werr
	}

	return n, nil
}

// CorePos returns the core file offset at which target address addr would
// land (get_core_pos in the original), used by tests asserting the
// round-trip property and by the descriptor interpreter when recording
// symbol-map entries.
func (s *Store) CorePos(addr uintptr) (uint64, error) {
	vma, ok := s.Find(addr)
	if !ok {
		return 0, fmt.Errorf("vmastore: no VMA covers address %#x", addr)
	}
	return vma.FileOff + uint64(addr-vma.Start), nil
}
