package main

import (
	"context"
	"errors"
	"log/slog"

	"forum-search-backend/app"
	"forum-search-backend/base"
	"forum-search-backend/reindex"

	"github.com/robfig/cron/v3"
)

// startReindexSchedule starts the optional scheduled reindex and resumes or starts a
// run when the last one was interrupted or the index is empty.
func startReindexSchedule(ctx context.Context, a *app.App) error {
	if len(base.ReindexSchedule) > 0 {
		c := cron.New()
		if _, err := c.AddFunc(base.ReindexSchedule, func() { startReindex(ctx, a, reindex.Options{}) }); err != nil {
			return err
		}
		c.Start()
		context.AfterFunc(ctx, func() { c.Stop() })
		slog.Info("started scheduled reindex", "cron", base.ReindexSchedule, "details", c.Entries())
	}

	if !a.Search.Enabled() {
		return nil
	}
	// a cancelled run was stopped on purpose and is left alone
	if p := a.Reindex.Progress(); p.Status == reindex.StatusInterrupted && p.Resumable() {
		startReindex(ctx, a, reindex.Options{Resume: true})
		return nil
	}
	// reindex immediately if we start with an empty index
	if stats := a.Search.Stats(ctx); stats.Error == "" && stats.Total == 0 {
		startReindex(ctx, a, reindex.Options{})
	}
	return nil
}

func startReindex(ctx context.Context, a *app.App, opts reindex.Options) {
	if _, err := a.Reindex.Start(ctx, opts); errors.Is(err, reindex.ErrRunning) {
		slog.Warn("Skipping reindex: already running")
	} else if err != nil {
		slog.Error("failed starting reindex", "error", err)
	}
}
