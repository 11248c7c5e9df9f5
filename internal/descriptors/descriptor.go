// Package descriptors implements the dump-descriptor interpreter (§4.9),
// the most involved component per the spec's own size budget (25% of the
// implementation). No teacher file has an equivalent — bradfitz-livecore
// never reads application-registered descriptors, it blindly copies every
// VMA — so this package is grounded entirely on original_source's
// dyn_dump/alloc_remote_data_content/dump_data_content_core/
// dump_data_file_bin/dump_data_file_text.
package descriptors

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraj/minicoredumper/internal/buffer"
	"github.com/kraj/minicoredumper/internal/errkind"
	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/symbolmap"
	"github.com/kraj/minicoredumper/internal/vmastore"
)

// DumpDataVersion is the version the target's mcd_dump_data_version must
// match (§4.9, §6 "Application contract").
const DumpDataVersion = 1

// Wire layout of the in-target descriptor and element structures. This is
// the application contract (§6): any library the target links against
// must lay its descriptors out exactly this way.
const (
	descSize = 48 // ident(8) + format(8) + elems(8) + count(8) + type(4) + scope(4) + next(8)
	elemSize = 24 // dataptr(8) + length(8) + flags(4) + argtype(4)

	flagDataIndirect = 1 << 0
	flagLenIndirect  = 1 << 1

	typeText   = 0
	typeBinary = 1
)

// Argument-type tags, matching the design note's tagged variant
// {Int(width), Char, Pointer, Float(width), String}.
const (
	ArgInt = iota
	ArgChar
	ArgString
	ArgPointer
	ArgFloat
	ArgDouble
)

// Width modifiers, packed into the high 16 bits of an element's ArgType
// word for the Int/Float family (PA_FLAG_SHORT/LONG/LONG_LONG/LONG_DOUBLE).
const (
	FlagShort = 1 << iota
	FlagLong
	FlagLongLong
	FlagLongDouble
)

// Descriptor is one in-target dump_data record, already pulled across via
// the remote reader.
type Descriptor struct {
	Addr     uintptr
	Ident    string // "" means this is a core (not file) dump
	Format   string
	Elements []Element
	IsBinary bool
	Scope    int
	Next     uintptr
}

// Element is one in-target element descriptor, post indirection-resolution.
type Element struct {
	DataAddr   uintptr // address actually holding the data (post-indirection)
	IndirectAt uintptr // if non-zero, the slot that held the pointer to DataAddr
	Length     int64
	ArgType    uint32
}

// readDescriptor pulls one descriptor node (struct + identifier/format
// strings + element array) from the target at addr.
func readDescriptor(mem *remote.Reader, addr uintptr) (*Descriptor, error) {
	raw, err := mem.ReadFull(addr, descSize)
	if err != nil {
		return nil, fmt.Errorf("descriptors: read descriptor at %#x: %w", addr, err)
	}
	identPtr := binary.LittleEndian.Uint64(raw[0:8])
	formatPtr := binary.LittleEndian.Uint64(raw[8:16])
	elemsPtr := binary.LittleEndian.Uint64(raw[16:24])
	count := binary.LittleEndian.Uint64(raw[24:32])
	dtype := binary.LittleEndian.Uint32(raw[32:36])
	scope := binary.LittleEndian.Uint32(raw[36:40])
	next := binary.LittleEndian.Uint64(raw[40:48])

	d := &Descriptor{Addr: addr, IsBinary: dtype == typeBinary, Scope: int(scope), Next: uintptr(next)}

	if identPtr != 0 {
		s, err := mem.ReadCString(uintptr(identPtr), 4095)
		if err != nil {
			return nil, fmt.Errorf("descriptors: read ident: %w", err)
		}
		d.Ident = s
	}
	if formatPtr != 0 {
		s, err := mem.ReadCString(uintptr(formatPtr), 4095)
		if err != nil {
			return nil, fmt.Errorf("descriptors: read format: %w", err)
		}
		d.Format = s
	}

	for i := uint64(0); i < count; i++ {
		raw, err := mem.ReadFull(uintptr(elemsPtr)+uintptr(i*elemSize), elemSize)
		if err != nil {
			return nil, fmt.Errorf("descriptors: read element %d: %w", i, err)
		}
		dataPtr := binary.LittleEndian.Uint64(raw[0:8])
		length := int64(binary.LittleEndian.Uint64(raw[8:16]))
		flags := binary.LittleEndian.Uint32(raw[16:20])
		argType := binary.LittleEndian.Uint32(raw[20:24])

		el := Element{DataAddr: uintptr(dataPtr), Length: length, ArgType: argType}
		if flags&flagDataIndirect != 0 {
			el.IndirectAt = uintptr(dataPtr)
			resolved, err := mem.ReadUint64(uintptr(dataPtr))
			if err != nil {
				return nil, fmt.Errorf("descriptors: resolve indirect data ptr: %w", err)
			}
			el.DataAddr = uintptr(resolved)
		}
		if flags&flagLenIndirect != 0 {
			resolved, err := mem.ReadUint64(uintptr(length))
			if err != nil {
				return nil, fmt.Errorf("descriptors: resolve indirect length: %w", err)
			}
			el.Length = int64(resolved)
		}
		d.Elements = append(d.Elements, el)
	}

	return d, nil
}

// Interpreter runs the full §4.9 walk.
type Interpreter struct {
	mem       *remote.Reader
	store     *vmastore.Store
	dumpScope int
	dumpsDir  string
	symMap    *os.File
	stage     *buffer.Manager // optional; nil disables payload staging
}

// New builds an Interpreter. dumpScope is the configured threshold;
// descriptors whose Scope exceeds it produce no output at all (§8 "Scope
// filter"). stage may be nil, in which case binary dump payloads are
// written directly rather than assembled in the staging buffer first.
func New(mem *remote.Reader, store *vmastore.Store, dumpScope int, dumpsDir string, symMap *os.File, stage *buffer.Manager) *Interpreter {
	return &Interpreter{mem: mem, store: store, dumpScope: dumpScope, dumpsDir: dumpsDir, symMap: symMap, stage: stage}
}

// Run reads mcd_dump_data_version at versionAddr (validating it against
// DumpDataVersion before even looking at the head pointer, per §12's
// version-check-before-head-check ordering), then walks the linked list
// rooted at headAddr, dispatching each descriptor to a core-write or a
// file-dump. A version mismatch returns an error classified as
// version-mismatch (§7): it bails out of this phase only.
func (in *Interpreter) Run(versionAddr, headAddrLoc uintptr) error {
	version, err := in.mem.ReadUint64(versionAddr)
	if err != nil {
		return fmt.Errorf("descriptors: read version: %w", err)
	}
	if version != DumpDataVersion {
		return errkind.Wrap(errkind.ErrVersionMismatch, fmt.Errorf("descriptors: version-mismatch: target=%d want=%d", version, DumpDataVersion))
	}

	headVal, err := in.mem.ReadUint64(headAddrLoc)
	if err != nil {
		return fmt.Errorf("descriptors: read head: %w", err)
	}
	if headVal == 0 {
		return nil // no registered data: clean success
	}

	seen := map[uintptr]bool{}
	addr := uintptr(headVal)
	for addr != 0 && !seen[addr] {
		seen[addr] = true
		desc, err := readDescriptor(in.mem, addr)
		if err != nil {
			// A descriptor that cannot be read ends the walk here and its
			// error is returned to the caller: without a successfully
			// parsed node we have no trustworthy Next pointer to continue
			// from. This is still non-fatal to the overall dump (§7
			// propagation policy) -- descriptors already written survive
			// and later ones in this list are skipped, as with the
			// original's goto-out on the first error.
			return fmt.Errorf("descriptors: %w", err)
		}
		if desc.Scope > in.dumpScope {
			addr = desc.Next
			continue
		}
		if err := in.dispatch(desc); err != nil {
			addr = desc.Next
			continue
		}
		addr = desc.Next
	}
	return nil
}

func (in *Interpreter) dispatch(d *Descriptor) error {
	if d.Ident == "" {
		return in.dumpCore(d)
	}
	if d.IsBinary {
		return in.dumpBinaryFile(d)
	}
	return in.dumpTextFile(d)
}

// dumpCore handles a core (identifier-less) descriptor: each element's
// resolved bytes are written into the sparse core at the element's
// target address; if indirection was used, the captured pointer value is
// also written into the core at the indirection slot (§4.9).
func (in *Interpreter) dumpCore(d *Descriptor) error {
	for _, el := range d.Elements {
		if el.Length <= 0 {
			continue
		}
		if _, err := in.store.DumpVMA(el.DataAddr, uint64(el.Length), 0); err != nil {
			continue // per-element failure: element skipped, non-fatal
		}
		if el.IndirectAt != 0 {
			in.store.DumpVMA(el.IndirectAt, 8, 0)
		}
	}
	return nil
}

func (in *Interpreter) dumpFilePath(ident string) (string, error) {
	if err := os.MkdirAll(in.dumpsDir, 0o700); err != nil {
		return "", fmt.Errorf("descriptors: mkdir dumps: %w", err)
	}
	return filepath.Join(in.dumpsDir, ident), nil
}

// dumpBinaryFile implements §4.9's binary-type file dump and the binary
// dump file format from §6: raw payload, or [8-byte pointer][payload] if
// indirect, plus the matching symbol.map D/I rows using core-file offsets
// (§8 scenario 3 follows the actual captured length for the D row's size
// field, which this repo treats as authoritative over the literal C
// sizeof(unsigned long); see DESIGN.md for that deviation).
func (in *Interpreter) dumpBinaryFile(d *Descriptor) error {
	path, err := in.dumpFilePath(d.Ident)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("descriptors: open dump file: %w", err)
	}
	defer f.Close()

	for _, el := range d.Elements {
		if el.Length <= 0 {
			continue
		}
		payload, err := in.mem.ReadFull(el.DataAddr, int(el.Length))
		if err != nil {
			continue
		}

		if el.IndirectAt != 0 {
			ptrBuf := make([]byte, 8)
			binary.LittleEndian.PutUint64(ptrBuf, uint64(el.DataAddr))
			// Assemble [pointer][payload] in the staging buffer first, so
			// the two pieces reach disk as one write rather than two, the
			// same reason the teacher staged whole VMAs before one ELF
			// write.
			assembled := append(append([]byte(nil), ptrBuf...), payload...)
			if in.stage != nil {
				if off, serr := in.stage.Stage(uint64(el.IndirectAt), assembled); serr == nil {
					if werr := in.stage.WriteDataTo(f, off, uint64(len(assembled))); werr != nil {
						continue
					}
				} else if _, err := f.Write(assembled); err != nil {
					continue
				}
			} else if _, err := f.Write(assembled); err != nil {
				continue
			}
			corePos, cerr := in.store.CorePos(el.IndirectAt)
			if cerr == nil && in.symMap != nil {
				symbolmap.AppendEntry(in.symMap, symbolmap.Entry{Offset: corePos, Size: 8, Type: 'I', Ident: d.Ident})
			}
			corePos, cerr = in.store.CorePos(el.DataAddr)
			if cerr == nil && in.symMap != nil {
				symbolmap.AppendEntry(in.symMap, symbolmap.Entry{Offset: corePos, Size: uint64(el.Length), Type: 'D', Ident: d.Ident})
			}
			continue
		}

		if _, err := f.Write(payload); err != nil {
			continue
		}
		corePos, cerr := in.store.CorePos(el.DataAddr)
		if cerr == nil && in.symMap != nil {
			symbolmap.AppendEntry(in.symMap, symbolmap.Entry{Offset: corePos, Size: uint64(el.Length), Type: 'D', Ident: d.Ident})
		}
	}
	return nil
}

// dumpTextFile implements §4.9's text-type file dump: the format string
// is interpreted token-by-token via renderText, and the rendered result
// is appended to dumps/<ident>.
func (in *Interpreter) dumpTextFile(d *Descriptor) error {
	path, err := in.dumpFilePath(d.Ident)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("descriptors: open dump file: %w", err)
	}
	defer f.Close()

	rendered, err := renderText(in.mem, d.Format, d.Elements)
	if err != nil {
		return fmt.Errorf("descriptors: render text: %w", err)
	}
	_, err = f.WriteString(rendered)
	return err
}
