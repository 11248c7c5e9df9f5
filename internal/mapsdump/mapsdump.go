// Package mapsdump implements the maps dumper (§4.11): reads
// /proc/<pid>/maps, matches readable entries' pathnames against configured
// glob patterns, and dumps the whole matching range.
package mapsdump

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kraj/minicoredumper/internal/vmastore"
)

// mapsLine is one parsed /proc/<pid>/maps row.
type mapsLine struct {
	start, end uintptr
	readable   bool
	path       string
}

func parseLine(line string) (mapsLine, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mapsLine{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return mapsLine{}, false
	}
	start, err1 := strconv.ParseUint(addrs[0], 16, 64)
	end, err2 := strconv.ParseUint(addrs[1], 16, 64)
	if err1 != nil || err2 != nil {
		return mapsLine{}, false
	}
	var path string
	if len(fields) > 5 {
		path = strings.Join(fields[5:], " ")
	}
	return mapsLine{
		start:    uintptr(start),
		end:      uintptr(end),
		readable: len(fields[1]) > 0 && fields[1][0] == 'r',
		path:     path,
	}, true
}

// DumpMatching reads /proc/<pid>/maps and, for each readable entry whose
// pathname matches one of globs, dumps the entire [start, end) range into
// the core via store.
func DumpMatching(pid int, globs []string, store *vmastore.Store) error {
	if len(globs) == 0 {
		return nil
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return fmt.Errorf("mapsdump: open maps: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ml, ok := parseLine(sc.Text())
		if !ok || !ml.readable || ml.path == "" {
			continue
		}
		if !matchesAny(ml.path, globs) {
			continue
		}
		store.DumpVMA(ml.start, uint64(ml.end-ml.start), 0)
	}
	return sc.Err()
}

func matchesAny(path string, globs []string) bool {
	base := filepath.Base(path)
	for _, g := range globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}
