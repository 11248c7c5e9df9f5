// Package symtab implements the symbol resolver (§4.4): for each shared
// object found in the target's link_map chain (and the executable
// itself), opens the ELF on disk, locates the symbol table, and exposes
// name->address lookup by linear scan across all registered objects.
// Uses debug/elf the way golang-debug's core/process.go reads symbol
// tables from on-disk ELF binaries, rather than the teacher's hand-rolled
// byte parsing (bradfitz-livecore never reads symbol tables at all — it
// dumps raw memory, it doesn't resolve application symbols).
package symtab

import (
	"debug/elf"
	"fmt"
)

// Object is one registered symbol object: an ELF file on disk plus the
// relocation (load base) applied to it in the target's address space.
// The executable's load base is 0; shared objects get link_map.l_addr.
type Object struct {
	Path     string
	LoadBase uintptr
	file     *elf.File
	syms     []elf.Symbol
}

// Resolver holds every registered Object and answers name->address
// lookups across all of them (§4.4: "iterate all registered objects").
type Resolver struct {
	objects []*Object
}

// New returns an empty Resolver.
func New() *Resolver { return &Resolver{} }

// Register opens path as an ELF file, locates its symbol table (SHT_SYMTAB
// via debug/elf's Symbols(), which already does the section-header scan
// the original does by hand), and adds it to the resolver at the given
// load base. A failure to open or parse an individual object is
// elf-parse-failure, but non-fatal: the object is simply skipped and the
// caller is told so via the returned error (dumpctx.Run logs it and
// continues, per §7).
func (r *Resolver) Register(path string, loadBase uintptr) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("symtab: open %s: %w", path, err)
	}
	syms, err := f.Symbols()
	if err != nil {
		// Dynamic-only objects may only have .dynsym.
		syms, err = f.DynamicSymbols()
		if err != nil {
			f.Close()
			return fmt.Errorf("symtab: no symbol table in %s: %w", path, err)
		}
	}
	r.objects = append(r.objects, &Object{Path: path, LoadBase: loadBase, file: f, syms: syms})
	return nil
}

// Close releases every registered ELF file handle.
func (r *Resolver) Close() {
	for _, o := range r.objects {
		o.file.Close()
	}
}

// Lookup returns load_base + st_value for the first object (in
// registration order) whose symbol table contains name. Absence is
// non-fatal: callers decide (§4.4).
func (r *Resolver) Lookup(name string) (uintptr, bool) {
	for _, o := range r.objects {
		for _, s := range o.syms {
			if s.Name == name {
				return o.LoadBase + uintptr(s.Value), true
			}
		}
	}
	return 0, false
}

// Objects returns the registered objects in registration order.
func (r *Resolver) Objects() []*Object { return r.objects }
