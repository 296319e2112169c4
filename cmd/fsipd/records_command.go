package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fsipd/internal/logs"
	"fsipd/internal/record"
)

type recordView struct {
	Time     time.Time `json:"time"`
	Protocol string    `json:"protocol"`
	Family   string    `json:"family"`
	Address  string    `json:"address"`
	Port     uint16    `json:"port"`
	Payload  string    `json:"payload"`
}

type recordsView struct {
	Path      string       `json:"path"`
	Total     int          `json:"total"`
	Malformed int          `json:"malformed"`
	Records   []recordView `json:"records"`
}

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	var path string
	var limit int
	var asJSON bool
	var asTable bool
	var follow bool

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Summarize a capture log",
		Long: "Records reads a capture log and prints the most recent entries. A table is\n" +
			"drawn when stdout is a terminal (or with --table); otherwise the canonical log\n" +
			"lines are echoed so the output can be piped. With --follow the canonical lines\n" +
			"(or one JSON object per line with --json) are streamed until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(path)
			if target == "" {
				target = cfg.Capture.Path
			}

			if follow {
				return followRecords(cmd, target, limit, asJSON)
			}

			file, err := os.Open(target)
			if err != nil {
				return fmt.Errorf("open capture log: %w", err)
			}
			defer file.Close()

			summary, err := record.Read(file, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				return writeJSON(out, buildRecordsView(target, summary))
			case asTable || isTerminal(out):
				printRecordsTable(out, summary)
			default:
				for _, rec := range summary.Records {
					fmt.Fprintln(out, record.Format(rec))
				}
			}
			if summary.Malformed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: skipped %d malformed line(s)\n", summary.Malformed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Capture log to read (default: configured capture path)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many recent records (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&asTable, "table", false, "Draw a table even when stdout is not a terminal")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records as they are captured, across rotations")
	return cmd
}

func buildRecordsView(path string, summary record.Summary) recordsView {
	view := recordsView{
		Path:      path,
		Total:     summary.Total,
		Malformed: summary.Malformed,
		Records:   make([]recordView, 0, len(summary.Records)),
	}
	for _, rec := range summary.Records {
		view.Records = append(view.Records, newRecordView(rec))
	}
	return view
}

func newRecordView(rec record.Record) recordView {
	return recordView{
		Time:     rec.Time.UTC(),
		Protocol: rec.Protocol.String(),
		Family:   rec.Family.String(),
		Address:  rec.Addr.String(),
		Port:     rec.Port,
		Payload:  rec.Payload,
	}
}

func printRecordsTable(out io.Writer, summary record.Summary) {
	fmt.Fprintln(out, renderRecordsTable(summary.Records))
	fmt.Fprintf(out, "Showing %d of %d records\n", len(summary.Records), summary.Total)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const followWait = 2 * time.Second

func followRecords(cmd *cobra.Command, path string, limit int, asJSON bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	enc := json.NewEncoder(out)

	opts := logs.TailOptions{Offset: -1, Limit: limit}
	if limit <= 0 {
		opts.Offset = 0
	}
	for {
		result, err := logs.Tail(ctx, path, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if result.Rotated {
			fmt.Fprintln(errOut, "capture log replaced; following the new file")
		}
		for _, line := range result.Lines {
			rec, err := record.Parse(line)
			if err != nil {
				fmt.Fprintf(errOut, "warn: skipped malformed line: %v\n", err)
				continue
			}
			if asJSON {
				if err := enc.Encode(newRecordView(rec)); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(out, record.Format(rec))
		}
		if ctx.Err() != nil {
			return nil
		}
		opts = logs.TailOptions{
			Offset:   result.Offset,
			Identity: result.Identity,
			Follow:   true,
			Wait:     followWait,
		}
	}
}
