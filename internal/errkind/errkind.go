// Package errkind defines the error-kind taxonomy from the error handling
// design: sentinel values checked with errors.Is/errors.As, the same way
// ja7ad-consumption's pkg/system/proc package defines proc.ErrAllExited.
package errkind

import "errors"

// Sentinel kinds. Fatal-ness is documented per value; callers decide how
// to react, propagation policy lives in the calling package.
var (
	// ErrConfigInvalid: fatal, logged, process exits 1.
	ErrConfigInvalid = errors.New("configuration-invalid")

	// ErrIOSyscall: read/write/seek/open/stat failure. Logged per
	// operation; non-fatal except during source-core import.
	ErrIOSyscall = errors.New("io-syscall-failure")

	// ErrELFParse: fatal when parsing the streamed input core; non-fatal
	// (object skipped) when parsing a single shared object on disk.
	ErrELFParse = errors.New("elf-parse-failure")

	// ErrSymbolNotFound: non-fatal, caller decides.
	ErrSymbolNotFound = errors.New("symbol-not-found")

	// ErrVersionMismatch: bails out of the dump-descriptor phase only.
	ErrVersionMismatch = errors.New("version-mismatch")

	// ErrOutOfMemory: fatal.
	ErrOutOfMemory = errors.New("out-of-memory")
)

// Wrapped joins a sentinel kind with a more specific underlying error so
// errors.Is(err, kind) keeps working after fmt.Errorf("%w", ...) wrapping.
type Wrapped struct {
	Kind error
	Err  error
}

func (w *Wrapped) Error() string { return w.Kind.Error() + ": " + w.Err.Error() }
func (w *Wrapped) Unwrap() []error { return []error{w.Kind, w.Err} }

// Wrap attaches kind to err for later errors.Is(err, kind) classification.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return &Wrapped{Kind: kind, Err: err}
}
