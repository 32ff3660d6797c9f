package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"forum-search-backend/forum"
	"forum-search-backend/search"
	"forum-search-backend/search/solrtest"
	"forum-search-backend/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *forum.MemoryStore
	srv   *solrtest.Server
	svc   *search.Service
	state *settings.BoltStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := solrtest.New("forum")
	t.Cleanup(srv.Close)
	st := settings.Settings{
		Endpoint: srv.URL, Core: "forum", Enabled: true,
		TitleField: "title_t", ContentField: "description_t",
		TitleBoost: 1.5, ContentBoost: 1, Rows: 20,
	}
	state, err := settings.OpenBoltStore(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	return &fixture{
		store: forum.NewMemoryStore(),
		srv:   srv,
		svc:   search.NewService(search.NewClient(st.Endpoint, st.Core, 5*time.Second), nil, st),
		state: state,
	}
}

// seed creates n topics with two posts each. Topic tids start at 1, pids at 100.
func (f *fixture) seed(n int) {
	for i := 1; i <= n; i++ {
		tid := int64(i)
		pid := int64(100 + 2*i)
		f.store.PutTopic(forum.Topic{Tid: tid, Cid: 1, Uid: 1, Title: "topic", MainPid: pid})
		f.store.PutPost(forum.Post{Pid: pid, Tid: tid, Uid: 1, Content: "main"})
		f.store.PutPost(forum.Post{Pid: pid + 1, Tid: tid, Uid: 2, Content: "reply"})
	}
}

func TestRunIndexesAllTopics(t *testing.T) {
	f := newFixture(t)
	f.seed(5)
	f.store.PutPost(forum.Post{Pid: 500, Tid: 1, Content: "gone", Deleted: true})
	f.srv.Put(map[string]any{"id": "500", "tid_i": 1})

	job := New(f.store, f.svc, f.state, 2, 2)
	p, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusDone, p.Status)
	assert.Equal(t, int64(5), p.Total)
	assert.Equal(t, int64(5), p.Processed)
	assert.Equal(t, int64(10), p.Posts)
	assert.Equal(t, int64(5), p.Cursor)
	assert.Empty(t, p.Failed)
	assert.Equal(t, float64(100), p.Percent())
	assert.NotNil(t, p.FinishedAt)
	assert.Len(t, f.srv.IDs(), 10)
	_, ok := f.srv.Doc("500")
	assert.False(t, ok, "deleted post must be removed")
}

func TestRunDeindexesDeletedTopics(t *testing.T) {
	f := newFixture(t)
	f.seed(2)
	f.store.PutTopic(forum.Topic{Tid: 2, Title: "topic", MainPid: 104, Deleted: true})
	f.srv.Put(map[string]any{"id": "104", "tid_i": 2})

	job := New(f.store, f.svc, f.state, 10, 1)
	p, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.Equal(t, []string{"102", "103"}, f.srv.IDs())
}

func TestRunRecreatesCollection(t *testing.T) {
	f := newFixture(t)
	f.seed(1)
	f.srv.Put(map[string]any{"id": "999", "tid_i": 42})

	job := New(f.store, f.svc, f.state, 10, 1)
	p, err := job.Run(context.Background(), Options{Recreate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.True(t, p.Recreate)
	assert.Equal(t, []string{"102", "103"}, f.srv.IDs())
}

func TestRunRecordsFailedTopics(t *testing.T) {
	f := newFixture(t)
	f.seed(3)
	f.srv.FailUpdates(true)

	job := New(f.store, f.svc, f.state, 10, 2)
	p, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.ElementsMatch(t, []int64{1, 2, 3}, p.Failed)
	assert.NotEmpty(t, p.Error)
}

type failingStore struct {
	*forum.MemoryStore
	failTopic int64
	failList  bool
}

func (s *failingStore) GetTopicPosts(ctx context.Context, tid int64) ([]forum.Post, error) {
	if tid == s.failTopic {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.GetTopicPosts(ctx, tid)
}

func (s *failingStore) ListTopics(ctx context.Context, afterTid int64, limit int) ([]forum.Topic, error) {
	if s.failList {
		return nil, errors.New("connection refused")
	}
	return s.MemoryStore.ListTopics(ctx, afterTid, limit)
}

func TestRunContinuesAfterPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(3)
	store := &failingStore{MemoryStore: f.store, failTopic: 2}

	job := New(store, f.svc, f.state, 10, 1)
	p, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.Equal(t, []int64{2}, p.Failed)
	assert.Equal(t, []string{"102", "103", "106", "107"}, f.srv.IDs())
}

func TestRunFailsWhenCursorFails(t *testing.T) {
	f := newFixture(t)
	store := &failingStore{MemoryStore: f.store, failList: true}

	job := New(store, f.svc, f.state, 10, 1)
	p, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Contains(t, p.Error, "connection refused")
}

// blockingStore holds ListTopics until released so a run can be observed mid-flight.
type blockingStore struct {
	*forum.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) ListTopics(ctx context.Context, afterTid int64, limit int) ([]forum.Topic, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.ListTopics(ctx, afterTid, limit)
}

func TestStartRefusesConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	f.seed(1)
	store := &blockingStore{MemoryStore: f.store, entered: make(chan struct{}, 1), release: make(chan struct{})}

	job := New(store, f.svc, f.state, 10, 1)
	p, err := job.Start(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, p.Status)
	assert.NotEmpty(t, p.ID)
	<-store.entered

	_, err = job.Start(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrRunning)
	assert.True(t, job.Running())

	close(store.release)
	job.Wait()
	assert.Equal(t, StatusDone, job.Progress().Status)

	_, err = job.Start(context.Background(), Options{})
	require.NoError(t, err)
	job.Wait()
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.seed(1)
	store := &blockingStore{MemoryStore: f.store, entered: make(chan struct{}, 1), release: make(chan struct{})}

	job := New(store, f.svc, f.state, 10, 1)
	assert.False(t, job.Cancel())
	_, err := job.Start(context.Background(), Options{})
	require.NoError(t, err)
	<-store.entered

	assert.True(t, job.Cancel())
	job.Wait()
	assert.Equal(t, StatusCancelled, job.Progress().Status)
	assert.Empty(t, f.srv.IDs())
}

func TestTombstonesSkipPostsDeletedDuringRun(t *testing.T) {
	f := newFixture(t)
	f.seed(1)
	store := &blockingStore{MemoryStore: f.store, entered: make(chan struct{}, 1), release: make(chan struct{})}

	job := New(store, f.svc, f.state, 10, 1)
	job.Tombstone(103)
	_, err := job.Start(context.Background(), Options{})
	require.NoError(t, err)
	<-store.entered

	job.Tombstone(102, 103)
	job.Restore(102)
	close(store.release)
	job.Wait()

	assert.Equal(t, []string{"102"}, f.srv.IDs())
}

func TestProgressIsPersistedAndResumed(t *testing.T) {
	f := newFixture(t)
	f.seed(4)
	ctx := context.Background()

	interrupted := Progress{ID: "old", Status: StatusRunning, Total: 4, Processed: 2, Posts: 4, Cursor: 2}
	data, err := json.Marshal(interrupted)
	require.NoError(t, err)
	require.NoError(t, f.state.SetObject(ctx, StateKey, map[string]string{"state": string(data)}))

	job := New(f.store, f.svc, f.state, 10, 1)
	require.NoError(t, job.Load(ctx))
	p := job.Progress()
	assert.Equal(t, StatusInterrupted, p.Status)
	assert.True(t, p.Resumable())

	p, err = job.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.Equal(t, int64(4), p.Processed)
	assert.Equal(t, int64(8), p.Posts)
	assert.Equal(t, []string{"106", "107", "108", "109"}, f.srv.IDs())

	reloaded := New(f.store, f.svc, f.state, 10, 1)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, p.ID, reloaded.Progress().ID)
	assert.Equal(t, StatusDone, reloaded.Progress().Status)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, float64(0), Progress{}.Percent())
	assert.Equal(t, float64(50), Progress{Total: 4, Processed: 2}.Percent())
	assert.Equal(t, float64(100), Progress{Total: 2, Processed: 3}.Percent())
	assert.Equal(t, float64(100), Progress{Status: StatusDone}.Percent())
}

// deletingIndexer deletes a post through the hook path while the job writes its topic.
type deletingIndexer struct {
	Indexer
	job   *Job
	store *forum.MemoryStore
	pid   int64
}

func (d *deletingIndexer) IndexPosts(ctx context.Context, topic *forum.Topic, posts ...forum.Post) error {
	for _, post := range posts {
		if post.Pid == d.pid {
			post.Deleted = true
			d.store.PutPost(post)
			d.job.Tombstone(d.pid)
			if err := d.Indexer.DeindexPosts(ctx, d.pid); err != nil {
				return err
			}
		}
	}
	return d.Indexer.IndexPosts(ctx, topic, posts...)
}

func TestPostDeletedDuringWriteIsRemoved(t *testing.T) {
	f := newFixture(t)
	f.seed(1)
	indexer := &deletingIndexer{Indexer: f.svc, store: f.store, pid: 103}
	job := New(f.store, indexer, f.state, 10, 1)
	indexer.job = job

	p, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.Equal(t, int64(1), p.Posts)
	assert.Equal(t, []string{"102"}, f.srv.IDs())
}

// stallingIndexer holds the write of one topic until released.
type stallingIndexer struct {
	Indexer
	tid     int64
	entered chan struct{}
	release chan struct{}
}

func (s *stallingIndexer) IndexPosts(ctx context.Context, topic *forum.Topic, posts ...forum.Post) error {
	if topic.Tid == s.tid {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.Indexer.IndexPosts(ctx, topic, posts...)
}

func TestCancelFinishesInFlightBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(5)
	indexer := &stallingIndexer{Indexer: f.svc, tid: 2, entered: make(chan struct{}), release: make(chan struct{})}
	job := New(f.store, indexer, f.state, 2, 2)
	ctx := context.Background()

	_, err := job.Start(ctx, Options{})
	require.NoError(t, err)
	<-indexer.entered
	assert.True(t, job.Cancel())
	close(indexer.release)
	job.Wait()

	p := job.Progress()
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Equal(t, int64(2), p.Cursor)
	assert.Empty(t, p.Failed)
	assert.Equal(t, []string{"102", "103", "104", "105"}, f.srv.IDs())

	p, err = job.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.Equal(t, int64(5), p.Processed)
	assert.Empty(t, p.Failed)
	assert.Len(t, f.srv.IDs(), 10)
}

func TestCancelDuringLastBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(3)
	indexer := &stallingIndexer{Indexer: f.svc, tid: 2, entered: make(chan struct{}), release: make(chan struct{})}
	job := New(f.store, indexer, f.state, 10, 2)

	_, err := job.Start(context.Background(), Options{})
	require.NoError(t, err)
	<-indexer.entered
	assert.True(t, job.Cancel())
	close(indexer.release)
	job.Wait()

	p := job.Progress()
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Equal(t, int64(3), p.Cursor)
	assert.Empty(t, p.Failed)
	assert.Len(t, f.srv.IDs(), 6)
}

func TestResumeRetriesFailedTopics(t *testing.T) {
	f := newFixture(t)
	f.seed(3)
	store := &failingStore{MemoryStore: f.store, failTopic: 2}
	ctx := context.Background()

	job := New(store, f.svc, f.state, 10, 1)
	p, err := job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, p.Failed)
	assert.True(t, p.Resumable())

	store.failTopic = 0
	p, err = job.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, p.Status)
	assert.Empty(t, p.Failed)
	assert.Equal(t, int64(3), p.Processed)
	assert.Equal(t, int64(6), p.Posts)
	assert.Len(t, f.srv.IDs(), 6)
	assert.False(t, p.Resumable())
}
