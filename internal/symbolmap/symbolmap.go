// Package symbolmap implements the append-only symbol.map writer/reader
// shared by the dump-descriptor interpreter and the injector (§4.9, §4.14,
// §6 "Symbol-map format"). Grounded on original_source's
// add_symbol_map_entry (writer side) and coreinject/main.c's
// get_symbol_data (reader side, kept separate in internal/injector since its
// last-entry-wins resolution is injector-specific).
package symbolmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Entry is one line of symbol.map: <hex-offset> <hex-size> <D|I> <ident>.
type Entry struct {
	Offset uint64
	Size   uint64
	Type   byte // 'D' direct, 'I' indirection
	Ident  string
}

// AppendEntry appends one formatted line to w, matching the fixed
// per-line grammar in §6.
func AppendEntry(w io.Writer, e Entry) error {
	_, err := fmt.Fprintf(w, "%x %x %c %s\n", e.Offset, e.Size, e.Type, e.Ident)
	return err
}

// Open opens (creating if needed) the symbol.map file at path for
// appending, owner-only per the umask-077 discipline (§5).
func Open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// ParseAll reads every syntactically valid line from r. Lines that don't
// match the grammar are silently ignored (§6 "skip-invalid rule").
func ParseAll(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		fields := strings.SplitN(line, " ", 4)
		if len(fields) != 4 {
			continue
		}
		offset, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(fields[1], 16, 64)
		if err != nil {
			continue
		}
		if len(fields[2]) != 1 || (fields[2][0] != 'D' && fields[2][0] != 'I') {
			continue
		}
		entries = append(entries, Entry{Offset: offset, Size: size, Type: fields[2][0], Ident: fields[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
