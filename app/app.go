// Package app wires stores, the Solr client and the reindex job from the environment.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"forum-search-backend/base"
	"forum-search-backend/forum"
	"forum-search-backend/reindex"
	"forum-search-backend/search"
	"forum-search-backend/settings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Forum    forum.Store
	State    settings.Store
	Settings *settings.Manager
	Search   *search.Service
	Reindex  *reindex.Job

	redis   redis.UniversalClient
	closers []io.Closer
}

// Open connects everything configured in the environment. Unreachable Solr is not an
// error: the settings may point somewhere else once loaded.
func Open(ctx context.Context) (*App, error) {
	a := &App{}
	if err := a.open(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("failed releasing resources", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	switch base.ForumStore {
	case "mysql":
		store, err := forum.OpenSQLStore(base.ForumDSN)
		if err != nil {
			return errors.Wrap(err, "failed opening forum database")
		}
		a.Forum = store
		a.closers = append(a.closers, store)
	case "memory":
		a.Forum = forum.NewMemoryStore()
	default:
		return fmt.Errorf("unknown forum store %q", base.ForumStore)
	}

	switch base.SettingsStore {
	case "bolt":
		store, err := settings.OpenBoltStore(base.SettingsPath)
		if err != nil {
			return errors.Wrap(err, "failed opening settings store")
		}
		a.State = store
	case "redis":
		a.State = settings.NewRedisStore(a.Redis())
	default:
		return fmt.Errorf("unknown settings store %q", base.SettingsStore)
	}
	a.closers = append(a.closers, a.State)

	cache, err := search.NewCache(base.CacheTTL, base.CacheMaxKeys)
	if err != nil {
		return errors.Wrap(err, "failed creating result cache")
	}
	defaults := settings.Defaults()
	a.Search = search.NewService(search.NewClient(defaults.Endpoint, defaults.Core, base.SolrTimeout), cache, defaults)
	a.Settings = settings.NewManager(a.State, defaults)
	a.Settings.OnChange(a.Search.Configure)
	if err := a.Settings.Reload(ctx); err != nil {
		slog.Warn("using default settings", "error", err)
	}

	a.Reindex = reindex.New(a.Forum, a.Search, a.State, base.ReindexBatchSize, base.ReindexConcurrency)
	if err := a.Reindex.Load(ctx); err != nil {
		slog.Warn("failed loading reindex progress", "error", err)
	}
	return nil
}

// Redis returns the shared redis client, creating it on first use.
func (a *App) Redis() redis.UniversalClient {
	if a.redis == nil {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{base.RedisAddr},
			Password: base.RedisPassword,
			DB:       base.RedisDB,
		})
	}
	return a.redis
}

// Close releases all stores. Every closer runs even if an earlier one failed.
func (a *App) Close() error {
	errs := new(multierror.Error)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "cannot close redis client"))
		}
	}
	return errs.ErrorOrNil()
}
