// Package injector implements the reverse operation of the
// dump-descriptor interpreter (§4.14): given a core file, its
// symbol.map, and a set of previously dumped binary files, write each
// binary file's payload back into the core at the offsets symbol.map
// recorded for it. Grounded on coreinject/main.c's get_symbol_data,
// write_core and inject_data.
package injector

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraj/minicoredumper/internal/symbolmap"
)

// symbolData is the resolved pair of offsets for one identifier: where
// the direct payload goes, and (if present) where its indirection
// pointer slot lives in the core.
type symbolData struct {
	direct   *symbolmap.Entry
	indirect *symbolmap.Entry
}

// getSymbolData scans every entry for ident and keeps the last D and
// last I entry seen (last-entry-wins, §6/§4.14), matching
// get_symbol_data's linear rescan rather than stopping at the first
// match.
func getSymbolData(entries []symbolmap.Entry, ident string) symbolData {
	var sd symbolData
	for i := range entries {
		e := entries[i]
		if e.Ident != ident {
			continue
		}
		switch e.Type {
		case 'D':
			sd.direct = &entries[i]
		case 'I':
			sd.indirect = &entries[i]
		}
	}
	return sd
}

// writeCore writes buf into core at the given core-file offset.
func writeCore(core *os.File, offset uint64, buf []byte) error {
	_, err := core.WriteAt(buf, int64(offset))
	return err
}

// injectData injects one binary dump file's payload back into core,
// using symbol.map entries matching its basename as the identifier.
// If the dump file was written with an indirection pointer (the first
// 8 bytes are the pointer, per §6's binary dump file format), that
// pointer value is written to the indirect offset and the remaining
// bytes to the direct offset; otherwise the whole file is the direct
// payload.
func injectData(core *os.File, entries []symbolmap.Entry, dumpPath string) error {
	ident := filepath.Base(dumpPath)
	sd := getSymbolData(entries, ident)
	if sd.direct == nil {
		return fmt.Errorf("injector: no symbol.map entry for %q", ident)
	}

	data, err := os.ReadFile(dumpPath)
	if err != nil {
		return fmt.Errorf("injector: read dump file %q: %w", dumpPath, err)
	}

	var errs []error
	if sd.indirect != nil {
		split := int(sd.indirect.Size)
		if len(data) < split {
			return fmt.Errorf("injector: dump file %q too short for indirect pointer", ident)
		}
		if err := writeCore(core, sd.indirect.Offset, data[:split]); err != nil {
			errs = append(errs, err)
		}
		if err := writeCore(core, sd.direct.Offset, data[split:]); err != nil {
			errs = append(errs, err)
		}
	} else {
		if err := writeCore(core, sd.direct.Offset, data); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("injector: inject %q: %w", ident, errs[0])
	}
	return nil
}

// InjectAll opens corePath for read/write and injects every dump file
// in dumpPaths, resolved against the symbol.map entries read from
// mapPath. Failures on individual files are collected and continue to
// the next file (§4.14 "continue-on-error"): the returned error, if
// any, wraps the first failure but every file is still attempted.
func InjectAll(corePath, mapPath string, dumpPaths []string) error {
	mapFile, err := os.Open(mapPath)
	if err != nil {
		return fmt.Errorf("injector: open symbol map: %w", err)
	}
	entries, err := symbolmap.ParseAll(mapFile)
	mapFile.Close()
	if err != nil {
		return fmt.Errorf("injector: parse symbol map: %w", err)
	}

	core, err := os.OpenFile(corePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("injector: open core: %w", err)
	}
	defer core.Close()

	var firstErr error
	for _, dp := range dumpPaths {
		if err := injectData(core, entries, dp); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
