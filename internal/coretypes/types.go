// Package coretypes holds the VMA/permission/note types shared by every
// component that touches the sparse output core. The teacher
// (bradfitz-livecore) defines near-identical VMA/Perm types three times
// independently (internal/elfcore/types.go, internal/proc/maps.go,
// internal/copy/precopy.go) — organic looseness appropriate for a small
// single-binary live-dumper, but this repo has many more consumers of the
// same VMA concept (walker, writer, thread/stack capture, maps dumper,
// fat-core writer, descriptor interpreter), so they are consolidated here
// once. See DESIGN.md for this deliberate tightening.
package coretypes

// Perm represents the r/w/x permission bits of a PT_LOAD segment.
type Perm uint8

const (
	PermRead  Perm = 1 << 0
	PermWrite Perm = 1 << 1
	PermExec  Perm = 1 << 2
)

// VMA is one PT_LOAD | PF_R program header of the streamed-in source
// core (§3 "Core VMA"). FileOff is the offset of the segment within the
// core file; FileEnd is the end of the portion backed by file bytes
// (start + p_filesz); MemEnd is the end of the full mapped region
// (start + p_memsz, which may exceed FileEnd for bss-like segments).
type VMA struct {
	Start   uintptr
	FileEnd uintptr
	MemEnd  uintptr
	FileOff uint64
	Flags   Perm
}

// Size returns the in-core (file-backed) length of the segment.
func (v VMA) Size() uint64 { return uint64(v.FileEnd - v.Start) }

// Contains reports whether addr falls within [Start, MemEnd) — the
// containment invariant from §3: "for any target virtual address a, at
// most one VMA satisfies start <= a < mem_end".
func (v VMA) Contains(addr uintptr) bool {
	return addr >= v.Start && addr < v.MemEnd
}

// Note is a PT_NOTE entry as read back out of the source core (used by
// the NT_PRSTATUS scanner to find the crashing thread's pid).
type Note struct {
	Name string
	Type uint32
	Data []byte
}

const (
	NT_PRSTATUS = 1
	NT_PRPSINFO = 3
	NT_AUXV     = 6
)

// ELF64 program header type/flag constants used by the walker and writer.
const (
	PT_NULL    = 0
	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_NOTE    = 4
	PT_PHDR    = 6

	PF_X = 1
	PF_W = 2
	PF_R = 4
)
