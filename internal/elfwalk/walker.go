// Package elfwalk implements the ELF program-header walker (§4.2): opens
// the partial core already written to disk, iterates program headers by
// (type, flag) filter, and invokes a visitor per match. This generalizes
// the original's do_elf_ph_parse (a generic three-valued visitor walker)
// which the teacher has no equivalent of — bradfitz-livecore always knows
// exactly what it is building and writes headers directly
// (internal/elfcore/writer.go's writeProgramHeaders) rather than walking
// an already-on-disk core. The byte-level Elf64_Phdr layout here follows
// that file's manual encoding/binary style.
package elfwalk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/kraj/minicoredumper/internal/coretypes"
)

// Status is the three-valued result a Visitor returns per §4.2: continue,
// stop-success, or fatal.
type Status int

const (
	Continue Status = iota
	StopSuccess
	Fatal
)

// Visitor is invoked once per program header matching a Walk's filter.
type Visitor func(phdr Phdr) (Status, error)

// Phdr is a parsed Elf64_Phdr entry.
type Phdr struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uintptr
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

const (
	ehdrSize = 64
	phdrSize = 56
)

// Header holds the fields of the ELF64 header relevant to the walker.
type Header struct {
	Type      uint16
	Machine   uint16
	PhOff     uint64
	PhEntSize uint16
	PhNum     uint16
}

// ReadHeader parses the 64-byte ELF64 header from r.
func ReadHeader(r io.ReaderAt) (Header, error) {
	var h Header
	buf := make([]byte, ehdrSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return h, fmt.Errorf("elfwalk: read ehdr: %w", err)
	}
	if buf[0] != 0x7f || buf[1] != 'E' || buf[2] != 'L' || buf[3] != 'F' {
		return h, fmt.Errorf("elfwalk: not an ELF file")
	}
	if buf[4] != 2 {
		return h, fmt.Errorf("elfwalk: not ELF64")
	}
	h.Type = binary.LittleEndian.Uint16(buf[16:18])
	h.Machine = binary.LittleEndian.Uint16(buf[18:20])
	h.PhOff = binary.LittleEndian.Uint64(buf[32:40])
	h.PhEntSize = binary.LittleEndian.Uint16(buf[54:56])
	h.PhNum = binary.LittleEndian.Uint16(buf[56:58])
	const ET_CORE = 4
	if h.Type != ET_CORE {
		return h, fmt.Errorf("elfwalk: not ET_CORE (type=%d)", h.Type)
	}
	return h, nil
}

// Walk iterates every program header in f, invoking visit only for
// headers whose p_type equals wantType (or any type, if wantType < 0) and
// whose flags satisfy (phdr.flags & wantFlags) == wantFlags.
func Walk(f *os.File, wantType int, wantFlags uint32, visit Visitor) error {
	hdr, err := ReadHeader(f)
	if err != nil {
		return err
	}
	entSize := uint64(hdr.PhEntSize)
	if entSize == 0 {
		entSize = phdrSize
	}
	buf := make([]byte, entSize)
	for i := 0; i < int(hdr.PhNum); i++ {
		off := int64(hdr.PhOff) + int64(uint64(i)*entSize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return fmt.Errorf("elfwalk: read phdr %d: %w", i, err)
		}
		p := Phdr{
			Type:   binary.LittleEndian.Uint32(buf[0:4]),
			Flags:  binary.LittleEndian.Uint32(buf[4:8]),
			Offset: binary.LittleEndian.Uint64(buf[8:16]),
			VAddr:  uintptr(binary.LittleEndian.Uint64(buf[16:24])),
			PAddr:  binary.LittleEndian.Uint64(buf[24:32]),
			FileSz: binary.LittleEndian.Uint64(buf[32:40]),
			MemSz:  binary.LittleEndian.Uint64(buf[40:48]),
			Align:  binary.LittleEndian.Uint64(buf[48:56]),
		}
		if wantType >= 0 && p.Type != uint32(wantType) {
			continue
		}
		if p.Flags&wantFlags != wantFlags {
			continue
		}
		status, err := visit(p)
		if err != nil {
			return err
		}
		switch status {
		case StopSuccess:
			return nil
		case Fatal:
			return fmt.Errorf("elfwalk: visitor reported fatal error")
		}
	}
	return nil
}

// CollectLoadableVMAs is the VMA-collector visitor (§4.3): inserts a VMA
// for each PT_LOAD|PF_R header, in program-header order.
func CollectLoadableVMAs(f *os.File) ([]coretypes.VMA, error) {
	var vmas []coretypes.VMA
	err := Walk(f, coretypes.PT_LOAD, coretypes.PF_R, func(p Phdr) (Status, error) {
		vmas = append(vmas, coretypes.VMA{
			Start:   p.VAddr,
			FileEnd: p.VAddr + uintptr(p.FileSz),
			MemEnd:  p.VAddr + uintptr(p.MemSz),
			FileOff: p.Offset,
			Flags:   coretypes.Perm(p.Flags & 0x7),
		})
		return Continue, nil
	})
	return vmas, err
}

// FindFirstPRStatusPid is the PT_NOTE scanner (§4.2): finds the first
// NT_PRSTATUS note and returns its pr_pid field, read as a 32-bit value
// at offset 32 of the note payload, where the x86-64 prstatus_t places
// pr_pid.
func FindFirstPRStatusPid(f *os.File) (int, error) {
	var pid int
	found := false
	err := Walk(f, coretypes.PT_NOTE, 0, func(p Phdr) (Status, error) {
		buf := make([]byte, p.FileSz)
		if _, err := f.ReadAt(buf, int64(p.Offset)); err != nil {
			return Fatal, fmt.Errorf("elfwalk: read note segment: %w", err)
		}
		off := 0
		for off+12 <= len(buf) {
			nameSz := int(binary.LittleEndian.Uint32(buf[off : off+4]))
			descSz := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
			ntype := binary.LittleEndian.Uint32(buf[off+8 : off+12])
			off += 12
			nameEnd := off + alignUp4(nameSz)
			descStart := nameEnd
			descEnd := descStart + alignUp4(descSz)
			if descEnd > len(buf) {
				break
			}
			if ntype == coretypes.NT_PRSTATUS && descSz >= 36 {
				desc := buf[descStart : descStart+descSz]
				pid = int(binary.LittleEndian.Uint32(desc[32:36]))
				found = true
				return StopSuccess, nil
			}
			off = descEnd
		}
		return Continue, nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("elfwalk: no NT_PRSTATUS note found")
	}
	return pid, nil
}

func alignUp4(n int) int { return (n + 3) &^ 3 }
