package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/errors"

	"github.com/block/repokeeper/internal/configstore"
	"github.com/block/repokeeper/internal/history"
	"github.com/block/repokeeper/internal/jobs"
)

func printStatus(ctx context.Context, w io.Writer, store configstore.Store, runs *history.History) error {
	enabled, err := configstore.Enabled(ctx, store)
	if err != nil {
		return errors.Wrap(err, "read enable flag")
	}
	latest, err := runs.Latest()
	if err != nil {
		return errors.WithStack(err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(w, "maintenance: %s\n\n", state)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tINTERVAL\tLAST RUN\tDURATION\tRESULT")
	for _, def := range jobs.Definitions() {
		interval, err := configstore.Interval(ctx, store, def.ConfigKey())
		if err != nil {
			return errors.WithStack(err)
		}
		intervalText := "off"
		if interval > 0 {
			intervalText = (time.Duration(interval) * time.Second).String()
		}
		lastRun, duration, result := "never", "-", "-"
		if record, ok := latest[def.Name]; ok {
			lastRun = record.Started.Local().Format(time.DateTime)
			duration = record.Duration.Round(time.Millisecond).String()
			result = "ok"
			if record.Failed() {
				summary, _, _ := strings.Cut(record.Error, "\n")
				result = "failed: " + summary
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", def.Name, intervalText, lastRun, duration, result)
	}
	return errors.WithStack(tw.Flush())
}
