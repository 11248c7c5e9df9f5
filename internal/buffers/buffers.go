// Package buffers implements the interesting-buffer dumper (§4.10): for
// each configured {symname, data_len, follow_ptr}, resolve the symbol and
// copy the requested bytes into the sparse core.
package buffers

import (
	"github.com/kraj/minicoredumper/internal/config"
	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/symtab"
	"github.com/kraj/minicoredumper/internal/vmastore"
)

// DumpAll walks every configured buffer spec, resolving its symbol and
// dumping either {pointer, then dereferenced data} (follow_ptr) or just
// the fixed-length data at the symbol address. A missing symbol is
// logged and skipped (§4.10: "warns+skips on missing symbol" in the
// original).
func DumpAll(specs []config.BufferSpec, mem *remote.Reader, res *symtab.Resolver, store *vmastore.Store, onMissing func(symname string)) {
	for _, spec := range specs {
		addr, ok := res.Lookup(spec.SymName)
		if !ok {
			if onMissing != nil {
				onMissing(spec.SymName)
			}
			continue
		}
		if spec.FollowPtr {
			store.DumpVMA(addr, 8, 0)
			ptrVal, err := mem.ReadUint64(addr)
			if err != nil {
				continue
			}
			store.DumpVMA(uintptr(ptrVal), spec.DataLen, 0)
			continue
		}
		store.DumpVMA(addr, spec.DataLen, 0)
	}
}
