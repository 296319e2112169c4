package main

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"fsipd/internal/record"
)

const (
	payloadColumnWidth = 72
	checkLabelWidth    = 24
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func renderRecordsTable(records []record.Record) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(table.Row{"Time (UTC)", "Proto", "Peer", "Payload"})
	for _, rec := range records {
		tw.AppendRow(table.Row{
			rec.Time.UTC().Format("2006-01-02 15:04:05"),
			rec.Tag(),
			netip.AddrPortFrom(rec.Addr, rec.Port).String(),
			displayPayload(rec.Payload),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Peer", Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// displayPayload escapes control characters and shortens long payloads to
// one table cell.
func displayPayload(payload string) string {
	quoted := strconv.Quote(payload)
	runes := []rune(quoted[1 : len(quoted)-1])
	if len(runes) > payloadColumnWidth {
		return string(runes[:payloadColumnWidth-3]) + "..."
	}
	return string(runes)
}

// checkLine renders one preflight result as "  label:   [OK] detail".
func checkLine(label string, passed bool, detail string, colorize bool) string {
	status, colors := "[FAIL]", text.Colors{text.FgRed}
	if passed {
		status, colors = "[OK]", text.Colors{text.FgGreen}
	}
	if colorize {
		status = colors.Sprint(status)
	}
	line := fmt.Sprintf("  %-*s %s", checkLabelWidth, label+":", status)
	if detail != "" {
		line += " " + detail
	}
	return line
}
