// Package format renders the CLI's tables and small inline charts.
package format

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // box-drawing terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// Table collects rows and renders them in one Mode.
type Table struct {
	w    table.Writer
	mode Mode
}

// NewTable returns an empty table.
func NewTable(m Mode) *Table {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &Table{w: w, mode: m}
}

// Title is printed above ASCII tables and ignored in Markdown.
func (t *Table) Title(s string) { t.w.SetTitle("%s", s) }

func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.w.AppendHeader(row)
}

func (t *Table) Row(vals ...any) { t.w.AppendRow(table.Row(vals)) }

func (t *Table) Footer(vals ...any) { t.w.AppendFooter(table.Row(vals)) }

// AlignRight right-aligns the given 1-based columns, for numbers.
func (t *Table) AlignRight(cols ...int) {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	t.w.SetColumnConfigs(cfgs)
}

// Len is the number of data rows.
func (t *Table) Len() int { return t.w.Length() }

func (t *Table) String() string {
	if t.mode == Markdown {
		return t.w.RenderMarkdown()
	}
	return t.w.Render()
}
