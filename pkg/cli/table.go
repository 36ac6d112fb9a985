package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Table collects rows and writes them column-aligned on Flush, under a
// header and dash divider. A table with no rows prints nothing.
type Table struct {
	out     io.Writer
	headers []string
	rows    [][]string
	prefix  string
}

// NewTable creates a table on stdout.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table on w.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{out: w, headers: headers}
}

// WithPrefix indents every line of the table.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row adds one row; missing trailing values are left blank.
func (t *Table) Row(values ...string) {
	row := make([]string, len(t.headers))
	copy(row, values)
	if len(values) > len(row) {
		row = append(row, values[len(row):]...)
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows added so far.
func (t *Table) Len() int { return len(t.rows) }

// Flush writes the table and resets it.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	tw := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)
	divider := make([]string, len(t.headers))
	for i, h := range t.headers {
		divider[i] = strings.Repeat("-", len(h))
	}
	for _, line := range append([][]string{t.headers, divider}, t.rows...) {
		fmt.Fprintln(tw, t.prefix+strings.Join(line, "\t"))
	}
	tw.Flush()
	t.rows = nil
}
