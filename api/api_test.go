package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forum-search-backend/base"
	"forum-search-backend/forum"
	"forum-search-backend/hooks"
	"forum-search-backend/reindex"
	"forum-search-backend/search"
	"forum-search-backend/search/solrtest"
	"forum-search-backend/settings"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *Server
	srv    *solrtest.Server
	store  *forum.MemoryStore
	mgr    *settings.Manager
	job    *reindex.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := solrtest.New("forum")
	t.Cleanup(srv.Close)
	defaults := settings.Settings{
		Endpoint: srv.URL, Core: "forum", Enabled: true,
		TitleField: "title_t", ContentField: "description_t",
		TitleBoost: 1.5, ContentBoost: 1, Rows: 20,
	}
	state, err := settings.OpenBoltStore(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	store := forum.NewMemoryStore()
	store.PutTopic(forum.Topic{Tid: 1, Cid: 2, Uid: 3, Title: "Solr setup", MainPid: 10})
	store.PutPost(forum.Post{Pid: 10, Tid: 1, Uid: 3, Content: "how to configure the core"})
	store.PutPost(forum.Post{Pid: 11, Tid: 1, Uid: 4, Content: "restart after changing the schema"})

	svc := search.NewService(search.NewClient(defaults.Endpoint, defaults.Core, 5*time.Second), nil, defaults)
	mgr := settings.NewManager(state, defaults)
	mgr.OnChange(svc.Configure)
	job := reindex.New(store, svc, state, 10, 2)
	dispatcher := hooks.NewDispatcher(hooks.NewHandler(store, svc, mgr, job), 2, 16, 1, time.Millisecond)
	t.Cleanup(func() { dispatcher.Close(context.Background()) })

	return &fixture{
		server: NewServer(svc, mgr, job, dispatcher),
		srv:    srv,
		store:  store,
		mgr:    mgr,
		job:    job,
	}
}

func (f *fixture) do(method, target string, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	return w
}

func (f *fixture) admin(method, target string, body string) *httptest.ResponseRecorder {
	return f.do(method, target, body, base.AuthUserHeader, "alice", base.AuthGroupsHeader, "users, "+base.AdminGroup)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, BasePath+"/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestConfigReportsAdmin(t *testing.T) {
	f := newFixture(t)
	var config base.AuthenticatedConfig
	w := f.admin(http.MethodGet, BasePath+"/config", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &config))
	assert.Equal(t, "alice", config.User)
	assert.True(t, config.Admin)
}

func TestOpenApi(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, BasePath+"/openapi.json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/hooks/{hook}")

	w = f.do(http.MethodGet, BasePath+"/openapi.yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Forum search API")
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, BasePath+"/search?term=solr", "")
	w := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "forumsearch_search_requests_total")
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	_, err := f.job.Run(context.Background(), reindex.Options{})
	require.NoError(t, err)

	w := f.do(http.MethodGet, BasePath+"/search?term=schema&in=posts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res search.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, []int64{11}, res.Pids)
	assert.Equal(t, []int64{1}, res.Tids)

	w = f.do(http.MethodGet, BasePath+"/search?uid=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, []int64{10}, res.Pids)
}

func TestSearchBadRequests(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, BasePath+"/search", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, BasePath+"/search?term=", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, BasePath+"/search?term=%20%20", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, BasePath+"/search?term=&uid=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, BasePath+"/search?term=x&rows=many", "").Code)
}

func TestSearchDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.SetEnabled(context.Background(), false))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, BasePath+"/search?term=x", "").Code)
}

func TestAdminRequiresGroup(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, BasePath+"/admin/solr", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, BasePath+"/admin/solr", "",
		base.AuthUserHeader, "bob", base.AuthGroupsHeader, "users").Code)
	assert.Equal(t, http.StatusOK, f.admin(http.MethodGet, BasePath+"/admin/solr", "").Code)
}

func TestAdminStatus(t *testing.T) {
	f := newFixture(t)
	f.srv.Put(map[string]any{"id": "10", "tid_i": 1, "title_t": "Solr setup"})
	f.srv.Put(map[string]any{"id": "11", "tid_i": 1})

	w := f.admin(http.MethodGet, BasePath+"/admin/solr", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status AdminStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, int64(2), status.Stats.Total)
	assert.Equal(t, int64(1), status.Stats.Topics)
	assert.Equal(t, "forum", status.Settings.Core)
	assert.Equal(t, reindex.StatusIdle, status.Reindex.Status)
}

func TestSaveSettingsAndToggle(t *testing.T) {
	f := newFixture(t)
	w := f.admin(http.MethodPut, BasePath+"/admin/solr/settings", `{"rows":"5","titleBoost":"","bogus":"x"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, f.mgr.Get().Rows)
	assert.Equal(t, 1.5, f.mgr.Get().TitleBoost)

	assert.Equal(t, http.StatusBadRequest, f.admin(http.MethodPut, BasePath+"/admin/solr/settings", `[1,2]`).Code)

	w = f.admin(http.MethodPost, BasePath+"/admin/solr/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.mgr.Get().Enabled)
	w = f.admin(http.MethodPost, BasePath+"/admin/solr/toggle?enabled=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.mgr.Get().Enabled)
}

func TestFlush(t *testing.T) {
	f := newFixture(t)
	f.srv.Put(map[string]any{"id": "10"})
	assert.Equal(t, http.StatusNoContent, f.admin(http.MethodDelete, BasePath+"/admin/solr/flush", "").Code)
	assert.Empty(t, f.srv.IDs())

	f.srv.FailUpdates(true)
	assert.Equal(t, http.StatusInternalServerError, f.admin(http.MethodDelete, BasePath+"/admin/solr/flush", "").Code)
}

func TestRebuild(t *testing.T) {
	f := newFixture(t)
	w := f.admin(http.MethodPost, BasePath+"/admin/solr/rebuild", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	f.job.Wait()

	w = f.admin(http.MethodGet, BasePath+"/admin/solr/rebuild", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"done"`)
	assert.Equal(t, []string{"10", "11"}, f.srv.IDs())

	assert.Equal(t, http.StatusNotFound, f.admin(http.MethodDelete, BasePath+"/admin/solr/rebuild", "").Code)
}

func TestDocument(t *testing.T) {
	f := newFixture(t)
	f.srv.Put(map[string]any{"id": "10", "tid_i": 1})
	w := f.admin(http.MethodGet, BasePath+"/admin/solr/doc/10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tid_i":1`)

	assert.Equal(t, http.StatusNotFound, f.admin(http.MethodGet, BasePath+"/admin/solr/doc/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.admin(http.MethodGet, BasePath+"/admin/solr/doc/abc", "").Code)
}

func TestHooks(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, BasePath+"/hooks/post.save", `{"pid":10}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		_, ok := f.srv.Doc("10")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, BasePath+"/hooks/user.create", `{"pid":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, BasePath+"/hooks/post.edit", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, BasePath+"/hooks/post.edit", `nope`).Code)
}

func TestHookToken(t *testing.T) {
	f := newFixture(t)
	previous := base.HookToken
	base.HookToken = "s3cret"
	t.Cleanup(func() { base.HookToken = previous })

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, BasePath+"/hooks/post.save", `{"pid":10}`).Code)
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, BasePath+"/hooks/post.save", `{"pid":10}`,
		base.HookTokenHeader, "s3cret").Code)
}
