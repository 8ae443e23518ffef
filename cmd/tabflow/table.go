package main

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/YuminosukeSato/tabflow/core/dataset"
	"github.com/YuminosukeSato/tabflow/metrics"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderFrame prints every row of f.
func renderFrame(w io.Writer, f *dataset.Frame) {
	t := newTable(w)
	cols := f.Columns()
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	for i := 0; i < f.Len(); i++ {
		row := f.Row(i)
		r := make(table.Row, len(row))
		for j, v := range row {
			r[j] = v
		}
		t.AppendRow(r)
	}
	t.Render()
}

func renderReport(w io.Writer, r metrics.Report) {
	t := newTable(w)
	t.AppendHeader(table.Row{"METRIC", "VALUE"})
	for _, name := range r.Names() {
		t.AppendRow(table.Row{name, formatFloat(r[name])})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
