package app

import (
	"context"
	"path/filepath"
	"testing"

	"forum-search-backend/base"
	"forum-search-backend/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStores(t *testing.T, forumStore, settingsStore string) {
	t.Helper()
	prevForum, prevSettings, prevPath := base.ForumStore, base.SettingsStore, base.SettingsPath
	base.ForumStore = forumStore
	base.SettingsStore = settingsStore
	base.SettingsPath = filepath.Join(t.TempDir(), "nested", "settings.db")
	t.Cleanup(func() {
		base.ForumStore, base.SettingsStore, base.SettingsPath = prevForum, prevSettings, prevPath
	})
}

func TestOpenWithLocalStores(t *testing.T) {
	withStores(t, "memory", "bolt")
	ctx := context.Background()

	a, err := Open(ctx)
	require.NoError(t, err)
	require.NoError(t, a.State.SetObject(ctx, settings.Key, map[string]string{"core": "other"}))
	require.NoError(t, a.Settings.Reload(ctx))
	assert.Equal(t, "other", a.Search.Settings().Core)
	assert.NoError(t, a.Close())
}

func TestOpenRejectsUnknownStores(t *testing.T) {
	withStores(t, "postgres", "bolt")
	_, err := Open(context.Background())
	assert.ErrorContains(t, err, "unknown forum store")

	withStores(t, "memory", "etcd")
	_, err = Open(context.Background())
	assert.ErrorContains(t, err, "unknown settings store")
}
