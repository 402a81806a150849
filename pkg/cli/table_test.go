package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_Output(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "SCOPE", "STATE")
	tbl.Row("vlan/N_1", "DONE")
	tbl.Row("vlan/N_22", "FAILED")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "SCOPE      STATE" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "-----      -----" {
		t.Errorf("divider = %q", lines[1])
	}
	if lines[3] != "vlan/N_22  FAILED" {
		t.Errorf("row = %q", lines[3])
	}
}

func TestTable_EmptyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	NewTableTo(&buf, "A", "B").Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTable_PrefixAndRows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "KEY").WithPrefix("  ")
	tbl.Rows([][]string{{"a"}, {"b"}})
	tbl.Flush()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q missing prefix", line)
		}
	}
	if !strings.Contains(buf.String(), "  b") {
		t.Errorf("rows not written: %q", buf.String())
	}
}
