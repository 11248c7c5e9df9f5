package pthreadlist

import (
	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/symtab"
	"github.com/kraj/minicoredumper/internal/vmastore"
)

// Status mirrors the thread-debug library's td_err_e result for the one
// distinction that matters here: TD_NOLIBTHREAD is a clean "this process
// is not multithreaded" outcome (logged, no fallback triggered); any
// other non-OK status means the preferred path could not be used and the
// fallback symbol-scan should run instead. See SPEC_FULL.md §12 for why
// this two-way branch is preserved from original_source rather than
// collapsed into a single "any failure -> fallback" rule.
type Status int

const (
	StatusOK Status = iota
	StatusNoLibThread
	StatusError
)

const defaultPthreadSizeGuess = 4096 // one page, matching the original's guess.

// TryPreferred attempts the preferred thread-debug-agent path via probe
// (typically a cgo-bound td_ta_new/td_ta_thr_iter call in a production
// build; nil here means no such binding is wired, which this package
// treats as StatusError so the fallback below always has a path to
// exercise and test).
func TryPreferred(probe func() (Status, error)) (Status, error) {
	if probe == nil {
		return StatusError, nil
	}
	return probe()
}

// Thread describes one pthread discovered by the fallback walker.
type Thread struct {
	StructAddr uintptr
	ListName   string // "stack_used" or "__stack_user"
}

// Fallback resolves _thread_db_sizeof_pthread (or guesses one page),
// then walks the two independent doubly-linked lists rooted at
// stack_used and __stack_user (§12: "two independent list roots"),
// dumping each node with a balloon equal to the guessed thread size since
// the list head's offset within the opaque thread structure is unknown.
func Fallback(mem *remote.Reader, res *symtab.Resolver, store *vmastore.Store) ([]Thread, error) {
	threadSize := uint64(defaultPthreadSizeGuess)
	if addr, ok := res.Lookup("_thread_db_sizeof_pthread"); ok {
		if v, err := mem.ReadUint64(addr); err == nil && v > 0 {
			threadSize = v
		}
	}

	var threads []Thread
	for _, listSym := range []string{"stack_used", "__stack_user"} {
		headAddr, ok := res.Lookup(listSym)
		if !ok {
			continue
		}
		nodes, err := walkList(mem, store, headAddr, threadSize)
		if err != nil {
			continue // non-fatal per §7 propagation policy
		}
		for _, n := range nodes {
			threads = append(threads, Thread{StructAddr: n, ListName: listSym})
		}
	}
	return threads, nil
}

// walkList follows list.next (the first word of each embedded two-pointer
// {next, prev} list node) starting at head, dumping each
// distinct node with the given balloon, stopping on a null next or a
// next that returns to head.
func walkList(mem *remote.Reader, store *vmastore.Store, head uintptr, balloon uint64) ([]uintptr, error) {
	var nodes []uintptr
	cur, err := mem.ReadUint64(head)
	if err != nil {
		return nil, err
	}
	node := uintptr(cur)
	seen := map[uintptr]bool{}
	for node != 0 && node != head && !seen[node] {
		seen[node] = true
		if store != nil {
			store.DumpVMA(node, 8, balloon)
		}
		nodes = append(nodes, node)
		next, err := mem.ReadUint64(node)
		if err != nil {
			break
		}
		node = uintptr(next)
	}
	return nodes, nil
}
