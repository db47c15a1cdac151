package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table prints column-aligned rows under a header and a dash divider.
// Rows are buffered until Flush; widths are measured without ANSI escapes,
// so colored cells line up.
type Table struct {
	out     io.Writer
	headers []string
	prefix  string
	empty   string
	rows    [][]string
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to out.
func NewTableTo(out io.Writer, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// WithEmpty sets a line printed by Flush in place of the table when no row
// was added. Without it an empty table prints nothing.
func (t *Table) WithEmpty(msg string) *Table {
	t.empty = msg
	return t
}

// Row adds a row.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the table and resets its rows.
func (t *Table) Flush() {
	defer func() { t.rows = nil }()
	if len(t.rows) == 0 {
		if t.empty != "" {
			io.WriteString(t.out, t.prefix+t.empty+"\n")
		}
		return
	}

	divider := make([]string, len(t.headers))
	for i, h := range t.headers {
		divider[i] = strings.Repeat("-", len(h))
	}
	lines := append([][]string{t.headers, divider}, t.rows...)

	var widths []int
	for _, cells := range lines {
		for i, c := range cells {
			if i == len(widths) {
				widths = append(widths, 0)
			}
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for _, cells := range lines {
		b.WriteString(t.prefix)
		for i, c := range cells {
			b.WriteString(c)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(c)+2))
			}
		}
		b.WriteByte('\n')
	}
	io.WriteString(t.out, b.String())
}
