package symbolmap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndParseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Offset: 0x1000, Size: 0x40, Type: 'D', Ident: "counters"},
		{Offset: 0x1040, Size: 0x8, Type: 'I', Ident: "counters"},
	}
	for _, e := range entries {
		require.NoError(t, AppendEntry(&buf, e))
	}

	got, err := ParseAll(&buf)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestParseAllSkipsInvalidLines(t *testing.T) {
	input := strings.Join([]string{
		"not a valid line",
		"1000 40 D counters",
		"zzzz 40 D bad-hex",
		"1040 8 X counters", // invalid type letter
		"",
	}, "\n")

	got, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "counters", got[0].Ident)
}
