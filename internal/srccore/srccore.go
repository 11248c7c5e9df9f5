// Package srccore implements the source-core importer (§4.1): it streams
// just enough of stdin to the on-disk output core to let the ELF walker
// parse program headers, then lazily extends the output file to the
// maximum VMA end, producing a sparse file. No package in bradfitz-livecore
// does this — livecore is a *live* dumper that builds its own ELF core
// from scratch (internal/elfcore/writer.go writes headers it computed
// itself); this dumper instead receives an already-complete core image on
// stdin and must parse it incrementally as bytes arrive, which is this
// package's reason to exist. Grounded on original_source's init_src_core
// (10-try page-at-a-time parse loop) and prefix-copy tail.
package srccore

import (
	"fmt"
	"io"
	"os"

	"github.com/kraj/minicoredumper/internal/coretypes"
	"github.com/kraj/minicoredumper/internal/elfwalk"
)

const pageSize = 4096

// MaxTries bounds the page-at-a-time parse loop (§4.1: "up to ten
// iterations... failing after ten pages is fatal").
const MaxTries = 10

// Result describes the imported core: the VMAs found and the file's final
// sparse length.
type Result struct {
	VMAs   []coretypes.VMA
	Length uint64
}

// Import streams src into out (and, if fatOut is non-nil, also into
// fatOut — the fat core's prefix mirrors the stripped core's prefix
// exactly, matching the original's "write them to the output (and to fat
// core if enabled)" step), parses program headers once enough bytes are
// present, extends out to the maximum VMA end, and finally copies any
// remaining prefix bytes up to the first segment's file offset so the
// prefix-identity invariant (§8) holds.
func Import(src io.Reader, out *os.File, fatOut *os.File) (*Result, error) {
	var written int64
	var vmas []coretypes.VMA
	var parsed bool

	for try := 0; try < MaxTries; try++ {
		buf := make([]byte, 2*pageSize)
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := out.WriteAt(buf[:n], written); err != nil {
				return nil, fmt.Errorf("srccore: write output: %w", err)
			}
			if fatOut != nil {
				if _, err := fatOut.WriteAt(buf[:n], written); err != nil {
					return nil, fmt.Errorf("srccore: write fat core: %w", err)
				}
			}
			written += int64(n)
		}
		if got, err := elfwalk.CollectLoadableVMAs(out); err == nil {
			vmas = got
			parsed = true
			if rerr != nil && rerr != io.ErrUnexpectedEOF {
				break
			}
			break
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
	}

	if !parsed {
		return nil, fmt.Errorf("srccore: failed to obtain program headers within %d-page retry window", MaxTries)
	}

	var maxEnd uint64
	var minOff uint64 = ^uint64(0)
	for _, v := range vmas {
		end := v.FileOff + v.Size()
		if end > maxEnd {
			maxEnd = end
		}
		if v.FileOff < minOff {
			minOff = v.FileOff
		}
	}
	if len(vmas) == 0 {
		minOff = uint64(written)
	}

	// Extend to a sparse hole: writing one zero byte at end-1 causes the
	// filesystem to materialize the file length without allocating the
	// intervening blocks.
	if maxEnd > 0 {
		if _, err := out.WriteAt([]byte{0}, int64(maxEnd-1)); err != nil {
			return nil, fmt.Errorf("srccore: extend sparse core: %w", err)
		}
	}

	// Copy any remaining prefix bytes between the current write position
	// and the first segment's file offset, so the pre-segment prefix is
	// byte-identical to the input (§8 "Prefix identity").
	if uint64(written) < minOff {
		need := minOff - uint64(written)
		buf := make([]byte, pageSize)
		for need > 0 {
			want := uint64(len(buf))
			if want > need {
				want = need
			}
			n, err := io.ReadFull(src, buf[:want])
			if n > 0 {
				if _, werr := out.WriteAt(buf[:n], written); werr != nil {
					return nil, fmt.Errorf("srccore: write prefix tail: %w", werr)
				}
				if fatOut != nil {
					fatOut.WriteAt(buf[:n], written)
				}
				written += int64(n)
				need -= uint64(n)
			}
			if err != nil {
				break
			}
		}
	}

	return &Result{VMAs: vmas, Length: maxEnd}, nil
}
