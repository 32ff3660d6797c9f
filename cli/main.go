package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"forum-search-backend/app"
	"forum-search-backend/base"
	"forum-search-backend/hooks"
	"forum-search-backend/reindex"
	"forum-search-backend/search"
	"forum-search-backend/settings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"
)

var (
	recreate bool
	resume   bool
)

var rootCmd = &cobra.Command{
	Use:   "forum-search",
	Short: "Administration commands for the forum search index",
	// configuration comes from the same environment variables as the server
	SilenceUsage: true,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the forum database",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove all documents from the search index",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show Solr status and index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the search settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Store settings. An empty value resets a key to its default",
	Long: `Store settings. An empty value resets a key to its default.

With EVENTS_ENABLED a config.change event is published so running servers reload
the settings. Otherwise a running server keeps its settings until it restarts or
receives a config.change hook. The bolt settings store is locked by a running
server; use SETTINGS_STORE=redis to change settings while it runs.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSettingsSet,
}

func init() {
	reindexCmd.Flags().BoolVar(&recreate, "recreate", false, "drop and recreate the collection first")
	reindexCmd.Flags().BoolVar(&resume, "resume", false, "continue an interrupted reindex")

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(reindexCmd, flushCmd, statsCmd, settingsCmd)
}

// main runs command-line utilities for administration tasks.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runReindex(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if !recreate {
			if err := a.Search.Init(ctx, false); err != nil {
				return err
			}
		}
		progress, err := a.Reindex.Run(ctx, reindex.Options{Recreate: recreate, Resume: resume})
		if err != nil {
			return err
		}
		if err := printJSON(cmd, progress); err != nil {
			return err
		}
		if progress.Status != reindex.StatusDone {
			return fmt.Errorf("reindex %s: %s", progress.Status, progress.Error)
		}
		return nil
	})
}

func runFlush(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Search.Flush(ctx)
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		stats := a.Search.Stats(ctx)
		status := struct {
			Stats   search.Stats     `json:"stats"`
			Reindex reindex.Progress `json:"reindex"`
		}{stats, a.Reindex.Progress()}
		if err := printJSON(cmd, status); err != nil {
			return err
		}
		if stats.Error != "" {
			return fmt.Errorf("solr unavailable: %s", stats.Error)
		}
		return nil
	})
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return printSettings(cmd, a.Settings.Get())
	})
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	values, err := parseAssignments(args)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Settings.Update(ctx, values); err != nil {
			return err
		}
		if err := printSettings(cmd, a.Settings.Get()); err != nil {
			return err
		}
		if !base.EventsEnabled {
			fmt.Fprintln(cmd.ErrOrStderr(), "events are disabled: a running server picks up the change on restart or a config.change hook")
			return nil
		}
		publisher, err := hooks.NewRedisPublisher(a.Redis())
		if err != nil {
			return err
		}
		defer publisher.Close()
		return notifySettingsChanged(publisher, base.EventsTopic)
	})
}

// notifySettingsChanged tells servers consuming topic to reload the settings.
func notifySettingsChanged(publisher message.Publisher, topic string) error {
	err := hooks.Publish(publisher, topic, hooks.Event{Hook: hooks.ConfigChange, Hash: settings.Key})
	if err != nil {
		return fmt.Errorf("settings stored but servers were not notified: %w", err)
	}
	return nil
}

func printSettings(cmd *cobra.Command, s settings.Settings) error {
	obj := s.Object()
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, obj[key])
	}
	return nil
}

// parseAssignments parses key=value arguments, rejecting keys the settings don't know.
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		known := false
		for _, field := range settings.Fields {
			if field == key {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown setting %q, expected one of %s", key, strings.Join(settings.Fields, ", "))
		}
		values[key] = value
	}
	return values, nil
}
