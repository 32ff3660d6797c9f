package main

import (
	"context"
	"embed"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"forum-search-backend/api"
	"forum-search-backend/app"
	"forum-search-backend/base"
	"forum-search-backend/hooks"

	"github.com/gin-contrib/static"
	"github.com/hashicorp/go-multierror"
)

//go:embed frontend/*
var frontend embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx)
	if err != nil {
		log.Fatal(err)
	}

	handler := hooks.NewHandler(a.Forum, a.Search, a.Settings, a.Reindex)
	dispatcher := hooks.NewDispatcher(handler, base.HookWorkers, base.HookQueueSize, base.HookRetries, time.Second)

	server := api.NewServer(a.Search, a.Settings, a.Reindex, dispatcher)
	fs, err := static.EmbedFolder(frontend, "frontend")
	if err != nil {
		log.Fatal(err)
	}
	server.Router.Use(static.Serve("/admin", fs))

	var consumer *hooks.Consumer
	if base.EventsEnabled {
		subscriber, err := hooks.NewRedisSubscriber(a.Redis(), base.EventsGroup)
		if err != nil {
			log.Fatal(err)
		}
		if consumer, err = hooks.NewConsumer(subscriber, base.EventsTopic, handler, base.HookRetries); err != nil {
			log.Fatal(err)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("event consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := a.Search.Init(ctx, false); err != nil {
			slog.Error("failed initializing search index", "error", err)
		}
		if err := startReindexSchedule(ctx, a); err != nil {
			slog.Error("failed scheduling reindex", "error", err)
		}
	}()

	httpServer := &http.Server{Addr: base.ListenAddr, Handler: server.Router}
	go func() {
		slog.Info("listening", "addr", base.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errs := new(multierror.Error)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		errs = multierror.Append(errs, err)
	}
	a.Reindex.Cancel()
	a.Reindex.Wait()
	if err := a.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		log.Fatal(err)
	}
}
