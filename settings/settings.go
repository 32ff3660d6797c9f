// Package settings persists the runtime settings of the search integration.
package settings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"forum-search-backend/base"
)

// Key is the object key the settings are stored under.
const Key = "settings:solr"

// Store mirrors the forum platform's object store: flat string maps addressed by key.
type Store interface {
	GetObject(ctx context.Context, key string) (map[string]string, error)
	// SetObject merges fields into the object stored at key.
	SetObject(ctx context.Context, key string, fields map[string]string) error
	Close() error
}

type Settings struct {
	Endpoint     string  `json:"endpoint"`
	Core         string  `json:"core"`
	Enabled      bool    `json:"enabled"`
	TitleField   string  `json:"titleField"`
	ContentField string  `json:"contentField"`
	TitleBoost   float64 `json:"titleBoost"`
	ContentBoost float64 `json:"contentBoost"`
	Rows         int     `json:"rows"`
}

// Fields lists the keys accepted by Update.
var Fields = []string{"endpoint", "core", "enabled", "titleField", "contentField", "titleBoost", "contentBoost", "rows"}

// Defaults returns the settings used when nothing is stored.
func Defaults() Settings {
	return Settings{
		Endpoint:     base.SolrEndpoint,
		Core:         base.SolrIndex,
		Enabled:      base.EnvVarAsBool("SOLR_ENABLED", true),
		TitleField:   "title_t",
		ContentField: "description_t",
		TitleBoost:   1.5,
		ContentBoost: 1,
		Rows:         20,
	}
}

// Object renders the settings as a storable object.
func (s Settings) Object() map[string]string {
	enabled := "0"
	if s.Enabled {
		enabled = "1"
	}
	return map[string]string{
		"endpoint":     s.Endpoint,
		"core":         s.Core,
		"enabled":      enabled,
		"titleField":   s.TitleField,
		"contentField": s.ContentField,
		"titleBoost":   strconv.FormatFloat(s.TitleBoost, 'f', -1, 64),
		"contentBoost": strconv.FormatFloat(s.ContentBoost, 'f', -1, 64),
		"rows":         strconv.Itoa(s.Rows),
	}
}

// FromObject applies stored values on top of defaults. Only non-empty values override,
// values that fail to parse are ignored.
func FromObject(defaults Settings, obj map[string]string) Settings {
	s := defaults
	for key, value := range obj {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "endpoint":
			s.Endpoint = strings.TrimSuffix(value, "/")
		case "core":
			s.Core = value
		case "enabled":
			s.Enabled = parseFlag(value)
		case "titleField":
			s.TitleField = value
		case "contentField":
			s.ContentField = value
		case "titleBoost":
			if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
				s.TitleBoost = f
			} else {
				slog.Warn("ignoring invalid setting", "key", key, "value", value)
			}
		case "contentBoost":
			if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
				s.ContentBoost = f
			} else {
				slog.Warn("ignoring invalid setting", "key", key, "value", value)
			}
		case "rows":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				s.Rows = n
			} else {
				slog.Warn("ignoring invalid setting", "key", key, "value", value)
			}
		}
	}
	return s
}

func parseFlag(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// Manager holds the current settings and notifies listeners whenever they are (re)loaded.
type Manager struct {
	store     Store
	defaults  Settings
	mu        sync.RWMutex
	current   Settings
	listeners []func(Settings)
}

func NewManager(store Store, defaults Settings) *Manager {
	return &Manager{store: store, defaults: defaults, current: defaults}
}

// Get returns a snapshot of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers fn to be called after every reload.
func (m *Manager) OnChange(fn func(Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Reload reads the stored settings. When the store fails the defaults are applied
// and the error is returned.
func (m *Manager) Reload(ctx context.Context) error {
	obj, err := m.store.GetObject(ctx, Key)
	if err != nil {
		slog.Error("could not fetch settings, assuming defaults", "error", err)
		obj = nil
	}
	next := FromObject(m.defaults, obj)

	m.mu.Lock()
	m.current = next
	listeners := append([]func(Settings){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return err
}

// Update stores the given fields and reloads. Unknown keys are dropped, empty values
// reset a field to its default.
func (m *Manager) Update(ctx context.Context, values map[string]string) error {
	fields := make(map[string]string)
	for _, key := range Fields {
		if value, ok := values[key]; ok {
			fields[key] = value
		}
	}
	if len(fields) > 0 {
		if err := m.store.SetObject(ctx, Key, fields); err != nil {
			return err
		}
	}
	return m.Reload(ctx)
}

// SetEnabled flips the enabled flag.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}
	return m.Update(ctx, map[string]string{"enabled": value})
}
