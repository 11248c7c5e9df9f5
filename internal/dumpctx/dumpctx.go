// Package dumpctx implements the Dump context data model and the
// top-level phase orchestration the original's main() performs (§3, §12).
// It is the one package every other internal package is wired together
// through; no teacher file has an equivalent top-level driver since
// bradfitz-livecore's root main() is a thin flag shim around a single
// Dump call, not a multi-phase pipeline.
package dumpctx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/kraj/minicoredumper/internal/buffer"
	"github.com/kraj/minicoredumper/internal/buffers"
	"github.com/kraj/minicoredumper/internal/config"
	"github.com/kraj/minicoredumper/internal/descriptors"
	"github.com/kraj/minicoredumper/internal/dlog"
	"github.com/kraj/minicoredumper/internal/elfwalk"
	"github.com/kraj/minicoredumper/internal/errkind"
	"github.com/kraj/minicoredumper/internal/fatcore"
	"github.com/kraj/minicoredumper/internal/mapsdump"
	"github.com/kraj/minicoredumper/internal/procfiles"
	"github.com/kraj/minicoredumper/internal/pthreadlist"
	"github.com/kraj/minicoredumper/internal/remote"
	"github.com/kraj/minicoredumper/internal/robustlist"
	"github.com/kraj/minicoredumper/internal/solist"
	"github.com/kraj/minicoredumper/internal/srccore"
	"github.com/kraj/minicoredumper/internal/symtab"
	"github.com/kraj/minicoredumper/internal/threadenum"
	"github.com/kraj/minicoredumper/internal/vmastore"
)

// Request is everything the kernel core-pattern invocation hands the
// dumper (§6's argv contract, already parsed).
type Request struct {
	Pid       int
	UID       int
	GID       int
	Signum    int
	Timestamp string
	Hostname  string
	Comm      string
	Exe       string
}

// Context is the per-invocation Dump context (§3): the resolved receipt,
// open handles, and discovered state threaded through every phase.
type Context struct {
	Req     Request
	Cfg     *config.Config
	Receipt *config.Receipt
	Log     *dlog.Logger

	OutDir string

	Core    *os.File
	FatCore *os.File

	Mem   *remote.Reader
	Store *vmastore.Store
	Sym   *symtab.Resolver

	// FirstThreadPid is the crashing thread's tid (§3 "first-thread pid,
	// set after PT_NOTE scan"), recovered from the imported core's
	// NT_PRSTATUS note. Zero means the scan failed to identify one.
	FirstThreadPid int
}

// Run performs the fixed orchestration described in §12 from mlockall
// on; argv validation and umask(0077) are done by the caller
// (cmd/minicoredumper) before Run, and no separate page-size step exists.
// Order: mlockall -> log init -> receipt resolution -> source-core import
// (fatal) -> VMA log -> write_proc_info (if
// configured) -> get_so_list (always) -> stack dump (if configured) ->
// pthread list (if configured) -> robust-mutex list (if configured) ->
// maps dump (if glob list non-empty) -> interesting-buffer dump (always)
// -> dump-descriptor interpreter (always) -> fat core (if configured) ->
// cleanup -> munlockall.
//
// stdin supplies the streamed core image; logW is the structured-log
// sink's underlying writer (syslog transport is out of scope, §10).
func Run(req Request, cfg *config.Config, stdin *os.File, logW *os.File) error {
	// Best-effort memory locking, matching the original's treatment of
	// mlockall failures as a logged warning rather than a fatal error.
	_ = unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
	defer unix.Munlockall()

	log := dlog.New(logW)

	receipt, err := cfg.Resolve(req.Comm, req.Exe)
	if err != nil {
		// No receipt matches: clean no-op, exit 0 with no output directory
		// created (§3).
		return nil
	}

	outDir := filepath.Join(cfg.BaseDir, fmt.Sprintf("%s.%d.%s", req.Comm, req.Pid, req.Timestamp))
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return fmt.Errorf("dumpctx: mkdir output dir: %w", err)
	}

	if cfg.WriteDebugLog {
		cleanup, err := log.WithDebugFile(filepath.Join(outDir, "debug.txt"))
		if err == nil {
			defer cleanup()
		}
	}

	corePath := filepath.Join(outDir, "core")
	core, err := os.OpenFile(corePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		// Fatal per §7: inability to create the output core itself is one of
		// the two strictly-fatal conditions.
		return errkind.Wrap(errkind.ErrIOSyscall, fmt.Errorf("dumpctx: create core: %w", err))
	}
	defer core.Close()

	var fatCore *os.File
	if cfg.DumpFatCore {
		fatCore, err = os.OpenFile(filepath.Join(outDir, "fatcore"), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
		if err == nil {
			defer fatCore.Close()
		}
	}

	result, err := srccore.Import(stdin, core, fatCore)
	if err != nil {
		log.Kind(errkind.ErrELFParse).WithError(err).Error("source-core import failed")
		// Fatal per §7: failure to obtain program headers within the
		// ten-page retry window is the other strictly-fatal condition.
		return errkind.Wrap(errkind.ErrELFParse, fmt.Errorf("dumpctx: source-core import: %w", err))
	}
	log.Info().WithField("vmas", len(result.VMAs)).Info("imported source core")
	log.Debug(log.Dump(result.VMAs))

	mem, err := remote.Open(req.Pid)
	if err != nil {
		return fmt.Errorf("dumpctx: open target memory: %w", err)
	}
	defer mem.Close()

	store := vmastore.New(result.VMAs, core, mem)
	resolver := symtab.New()
	defer resolver.Close()

	firstThreadPid, err := elfwalk.FindFirstPRStatusPid(core)
	if err != nil {
		log.Kind(errkind.ErrELFParse).WithError(err).Warn("PT_NOTE scan for crashing thread failed")
		firstThreadPid = 0
	}

	ctx := &Context{Req: req, Cfg: cfg, Receipt: receipt, Log: log, OutDir: outDir, Core: core, FatCore: fatCore, Mem: mem, Store: store, Sym: resolver, FirstThreadPid: firstThreadPid}

	if cfg.WriteProcInfo {
		tasks, _ := threadenum.ListTasks(req.Pid)
		if err := procfiles.CopyAll(req.Pid, tasks, outDir); err != nil {
			log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("write_proc_info failed")
		}
	}

	var auxvDumpStore *vmastore.Store
	if cfg.DumpAuxvSoList {
		auxvDumpStore = store
	}
	objs, err := solist.Discover(mem, req.Exe, auxvDumpStore)
	if err != nil {
		log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("get_so_list failed")
	}
	for _, o := range objs {
		if err := resolver.Register(o.Path, o.LoadBase); err != nil {
			log.Kind(errkind.ErrELFParse).WithError(err).WithField("object", o.Path).Warn("symbol table registration failed")
		}
	}

	if cfg.Stack.DumpStacks {
		runStackDump(ctx)
	}

	if cfg.DumpPthreadList {
		runPthreadList(ctx)
	}

	if cfg.DumpRobustMutexList {
		runRobustList(ctx)
	}

	if len(cfg.Maps.NameGlobs) > 0 {
		if err := mapsdump.DumpMatching(req.Pid, cfg.Maps.NameGlobs, store); err != nil {
			log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("maps dump failed")
		}
	}

	buffers.DumpAll(cfg.Buffers, mem, resolver, store, func(symname string) {
		log.Kind(errkind.ErrSymbolNotFound).WithField("symname", symname).Warn("interesting buffer symbol not found")
	})

	runDescriptors(ctx)

	if cfg.DumpFatCore && fatCore != nil {
		if err := fatcore.Write(mem, fatCore, result.VMAs); err != nil {
			log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("fat core write failed")
		}
	}

	return nil
}

func runStackDump(ctx *Context) {
	tasks, err := threadenum.ListTasks(ctx.Req.Pid)
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("stack dump: task list unstable")
		return
	}
	// Restrict to the crashing thread identified by the core's
	// PT_NOTE/NT_PRSTATUS scan (§3/§4.6), not task-list order.
	tasks = selectStackTasks(tasks, ctx.Cfg.Stack.FirstThreadOnly, ctx.FirstThreadPid)
	for _, tid := range tasks {
		sp, err := threadenum.StackPointer(ctx.Req.Pid, tid)
		if err != nil {
			ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).WithField("tid", tid).Warn("stack pointer read failed")
			continue
		}
		rng, err := captureStack(ctx.Store, tid, sp, ctx.Cfg.Stack.MaxStackSize)
		if err != nil {
			continue
		}
		if rng.Truncated {
			ctx.Log.Info().WithField("tid", tid).WithField("length", rng.Length).Warn("stack capture truncated")
		}
	}
}

// selectStackTasks restricts tasks to the crashing thread identified by
// firstThreadPid (§3/§4.6) when firstThreadOnly is set. A zero
// firstThreadPid means the PT_NOTE scan failed to identify one, in which
// case the full task list is left untouched rather than dumping nothing.
func selectStackTasks(tasks []int, firstThreadOnly bool, firstThreadPid int) []int {
	if !firstThreadOnly || firstThreadPid == 0 {
		return tasks
	}
	for _, tid := range tasks {
		if tid == firstThreadPid {
			return []int{tid}
		}
	}
	return nil
}

// captureStack computes the stack-capture range for tid's current stack
// pointer sp (§4.6, §8 "Stack truncation": VMA-clipped range further
// clipped to maxStackSize) and writes it into the core via store.
func captureStack(store *vmastore.Store, tid int, sp uintptr, maxStackSize uint64) (threadenum.StackRange, error) {
	vma, ok := store.Find(sp)
	if !ok {
		return threadenum.StackRange{}, fmt.Errorf("dumpctx: no VMA covers stack pointer %#x", sp)
	}
	rng := threadenum.ComputeStackRange(tid, sp, vma.FileEnd, maxStackSize)
	if rng.Length == 0 {
		return rng, nil
	}
	if _, err := store.DumpVMA(rng.SP, rng.Length, 0); err != nil {
		return rng, err
	}
	return rng, nil
}

func runPthreadList(ctx *Context) {
	status, err := pthreadlist.TryPreferred(nil)
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("pthread list: preferred path errored")
	}
	if status == pthreadlist.StatusNoLibThread {
		ctx.Log.Info().Info("pthread list: target is not multithreaded")
		return
	}
	if status == pthreadlist.StatusOK {
		return
	}
	threads, err := pthreadlist.Fallback(ctx.Mem, ctx.Sym, ctx.Store)
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("pthread list: fallback failed")
		return
	}
	ctx.Log.Info().WithField("threads", len(threads)).Info("pthread list fallback complete")
}

func runRobustList(ctx *Context) {
	headAddr, ok, err := robustlist.GetHead(ctx.Req.Pid)
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("get_robust_list failed")
		return
	}
	if !ok {
		return
	}
	if _, err := ctx.Store.DumpVMA(headAddr, robustlist.HeadSize, 0); err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("robust_list_head dump failed")
	}
	err = robustlist.Walk(ctx.Mem, headAddr, 0, func(nodeAddr uintptr) error {
		_, derr := ctx.Store.DumpVMA(nodeAddr, robustNodeSize, 0)
		return derr
	})
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("robust list walk failed")
	}
}

// robustNodeSize is sizeof(struct robust_list) on x86-64 (one pointer).
const robustNodeSize = 8

func runDescriptors(ctx *Context) {
	versionAddr, ok := ctx.Sym.Lookup("mcd_dump_data_version")
	if !ok {
		return // application does not link the dump-data contract at all
	}
	headAddr, ok := ctx.Sym.Lookup("mcd_dump_data_head")
	if !ok {
		return
	}
	dumpsDir := filepath.Join(ctx.OutDir, "dumps")
	symMapPath := filepath.Join(ctx.OutDir, "symbol.map")
	symMap, err := os.OpenFile(symMapPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("cannot open symbol.map")
		return
	}
	defer symMap.Close()

	stage, err := buffer.NewManager(ctx.OutDir)
	if err != nil {
		ctx.Log.Kind(errkind.ErrIOSyscall).WithError(err).Warn("descriptor payload staging unavailable, writing directly")
		stage = nil
	} else {
		defer stage.Close()
	}

	interp := descriptors.New(ctx.Mem, ctx.Store, ctx.Cfg.DumpScope, dumpsDir, symMap, stage)
	if err := interp.Run(versionAddr, headAddr); err != nil {
		kind := errkind.ErrIOSyscall
		if errors.Is(err, errkind.ErrVersionMismatch) {
			kind = errkind.ErrVersionMismatch
		}
		ctx.Log.Kind(kind).WithError(err).Warn("dump-descriptor interpreter stopped early")
	}
}
