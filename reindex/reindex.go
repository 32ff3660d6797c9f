// Package reindex rebuilds the search index from the forum database.
package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"forum-search-backend/forum"
	"forum-search-backend/metrics"
	"forum-search-backend/search"
	"forum-search-backend/settings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// StateKey is the object key the progress of the last run is stored under.
const StateKey = "solr:reindex"

var ErrRunning = errors.New("reindex already running")

type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

type Progress struct {
	ID         string     `json:"id,omitempty"`
	Status     Status     `json:"status"`
	Recreate   bool       `json:"recreate,omitempty"`
	Total      int64      `json:"total"`
	Processed  int64      `json:"processed"`
	Posts      int64      `json:"posts"`
	Failed     []int64    `json:"failed,omitempty"`
	Cursor     int64      `json:"cursor"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Percent returns how much of the forum has been walked, 0-100.
func (p Progress) Percent() float64 {
	if p.Status == StatusDone {
		return 100
	}
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Resumable reports whether a previous run stopped before walking all topics or
// left failed topics behind.
func (p Progress) Resumable() bool {
	switch p.Status {
	case StatusInterrupted, StatusCancelled, StatusFailed:
		return p.Cursor > 0 || len(p.Failed) > 0
	case StatusDone:
		return len(p.Failed) > 0
	}
	return false
}

type Options struct {
	// Recreate drops and recreates the collection before indexing.
	Recreate bool `json:"recreate"`
	// Resume continues after the cursor of an interrupted run and retries its failed topics.
	Resume bool `json:"resume"`
}

// Indexer is the part of the search service the job writes through.
type Indexer interface {
	Init(ctx context.Context, recreate bool) error
	IndexPosts(ctx context.Context, topic *forum.Topic, posts ...forum.Post) error
	DeindexPosts(ctx context.Context, pids ...int64) error
	DeindexTopic(ctx context.Context, tid int64) error
}

// Job walks all topics in batches and (re)indexes their posts. Only one run at a time.
type Job struct {
	store       forum.Store
	index       Indexer
	state       settings.Store
	batchSize   int
	concurrency int

	lock sync.Mutex // held while a run is active

	mu         sync.Mutex
	progress   Progress
	tombstones map[int64]struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(store forum.Store, index Indexer, state settings.Store, batchSize, concurrency int) *Job {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Job{
		store:       store,
		index:       index,
		state:       state,
		batchSize:   batchSize,
		concurrency: concurrency,
		progress:    Progress{Status: StatusIdle},
	}
}

// Load restores the progress of the last run. A run that was still marked as running
// didn't finish and is reported as interrupted.
func (j *Job) Load(ctx context.Context) error {
	obj, err := j.state.GetObject(ctx, StateKey)
	if err != nil {
		return err
	}
	data, ok := obj["state"]
	if !ok || data == "" {
		return nil
	}
	var p Progress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return err
	}
	if p.Status == StatusRunning {
		slog.Warn("previous reindex did not finish", "id", p.ID, "cursor", p.Cursor)
		p.Status = StatusInterrupted
	}
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
	metrics.ReindexProgress.Set(p.Percent())
	return nil
}

// Progress returns a snapshot of the current or last run.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.progress
	p.Failed = append([]int64(nil), j.progress.Failed...)
	return p
}

func (j *Job) Running() bool {
	return j.Progress().Status == StatusRunning
}

// Start launches a run in the background.
func (j *Job) Start(ctx context.Context, opts Options) (Progress, error) {
	if !j.lock.TryLock() {
		return j.Progress(), ErrRunning
	}
	// writes of a batch run on work, cancelling stop only ends the run between batches
	work := context.WithoutCancel(ctx)
	stop, cancel := context.WithCancel(work)

	j.mu.Lock()
	prev := j.progress
	now := time.Now()
	next := Progress{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		Recreate:  opts.Recreate,
		StartedAt: &now,
	}
	var retry []int64
	if opts.Resume && !opts.Recreate && prev.Resumable() {
		next.Cursor = prev.Cursor
		next.Processed = prev.Processed
		next.Posts = prev.Posts
		retry = append(retry, prev.Failed...)
	}
	j.progress = next
	j.tombstones = make(map[int64]struct{})
	j.cancel = cancel
	j.done = make(chan struct{})
	done := j.done
	j.mu.Unlock()

	slog.Info("reindexing...", "id", next.ID, "recreate", opts.Recreate, "cursor", next.Cursor, "retry", len(retry))
	j.persist(work)
	go func() {
		defer close(done)
		defer j.lock.Unlock()
		defer cancel()
		j.run(stop, work, opts, retry)
	}()
	return j.Progress(), nil
}

// Run starts a run and waits for it to finish.
func (j *Job) Run(ctx context.Context, opts Options) (Progress, error) {
	if _, err := j.Start(ctx, opts); err != nil {
		return j.Progress(), err
	}
	stop := context.AfterFunc(ctx, func() { j.Cancel() })
	defer stop()
	j.Wait()
	return j.Progress(), nil
}

// Wait blocks until the active run, if any, finished.
func (j *Job) Wait() {
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Cancel stops the active run at the next batch boundary.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Status != StatusRunning || j.cancel == nil {
		return false
	}
	j.cancel()
	return true
}

// Tombstone records posts deleted while a run is active, so the run does not
// put them back if it read them before the deletion.
func (j *Job) Tombstone(pids ...int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Status != StatusRunning {
		return
	}
	for _, pid := range pids {
		j.tombstones[pid] = struct{}{}
	}
}

// Restore clears tombstones of posts that came back.
func (j *Job) Restore(pids ...int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, pid := range pids {
		delete(j.tombstones, pid)
	}
}

func (j *Job) tombstoned(pid int64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.tombstones[pid]
	return ok
}

// run walks the topics. stop is checked between batches only, the batches themselves
// are written with work so a cancelled run never leaves a half indexed batch behind.
func (j *Job) run(stop, work context.Context, opts Options, retry []int64) {
	start := time.Now()
	if opts.Recreate {
		if err := j.index.Init(work, true); err != nil {
			j.finish(work, StatusFailed, err)
			return
		}
	}
	if total, err := j.store.CountTopics(work); err != nil {
		slog.Warn("failed counting topics", "error", err)
	} else {
		j.update(func(p *Progress) { p.Total = total })
	}
	if len(retry) > 0 {
		j.retryTopics(work, retry)
		j.persist(work)
	}

	cursor := j.Progress().Cursor
	for {
		if stop.Err() != nil {
			j.finish(work, StatusCancelled, nil)
			return
		}
		topics, err := j.store.ListTopics(stop, cursor, j.batchSize)
		if err != nil {
			if stop.Err() != nil {
				j.finish(work, StatusCancelled, nil)
				return
			}
			j.finish(work, StatusFailed, err)
			return
		}
		if len(topics) == 0 {
			break
		}
		j.indexBatch(work, topics)
		cursor = topics[len(topics)-1].Tid
		j.update(func(p *Progress) { p.Cursor = cursor })
		j.persist(work)
		slog.Debug("reindex progress", "cursor", cursor, "processed", j.Progress().Processed)
		if stop.Err() != nil {
			j.finish(work, StatusCancelled, nil)
			return
		}
		if len(topics) < j.batchSize {
			break
		}
	}

	p := j.Progress()
	if p.Processed > 0 && int64(len(p.Failed)) >= p.Processed {
		j.finish(work, StatusFailed, errors.New("all topics failed"))
		return
	}
	j.finish(work, StatusDone, nil)
	slog.Info("reindexing finished", "topics", p.Processed, "posts", p.Posts, "failed", len(p.Failed), "duration", time.Since(start))
}

func (j *Job) indexBatch(ctx context.Context, topics []forum.Topic) {
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for i := range topics {
		topic := topics[i]
		g.Go(func() error {
			posts, err := j.indexTopic(ctx, &topic)
			j.update(func(p *Progress) {
				p.Processed++
				p.Posts += int64(posts)
				if err != nil {
					p.Failed = append(p.Failed, topic.Tid)
				}
			})
			if err != nil {
				slog.Error("failed indexing topic", "tid", topic.Tid, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// retryTopics indexes topics that failed in the run being resumed. They were counted
// as processed already; the ones failing again stay in Failed.
func (j *Job) retryTopics(ctx context.Context, tids []int64) {
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for _, tid := range tids {
		g.Go(func() error {
			var posts int
			topic, err := j.store.GetTopic(ctx, tid)
			switch {
			case errors.Is(err, forum.ErrNotFound):
				err = j.index.DeindexTopic(ctx, tid)
			case err == nil:
				posts, err = j.indexTopic(ctx, topic)
			}
			j.update(func(p *Progress) {
				p.Posts += int64(posts)
				if err != nil {
					p.Failed = append(p.Failed, tid)
				}
			})
			if err != nil {
				slog.Error("failed indexing topic again", "tid", tid, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// indexTopic indexes the live posts of a topic and removes the deleted ones.
func (j *Job) indexTopic(ctx context.Context, topic *forum.Topic) (int, error) {
	if topic.Deleted {
		return 0, j.index.DeindexTopic(ctx, topic.Tid)
	}
	posts, err := j.store.GetTopicPosts(ctx, topic.Tid)
	if err != nil {
		return 0, err
	}
	var live []forum.Post
	var dead []int64
	for i := range posts {
		if search.Indexable(topic, &posts[i]) && !j.tombstoned(posts[i].Pid) {
			live = append(live, posts[i])
		} else {
			dead = append(dead, posts[i].Pid)
		}
	}
	if err := j.index.IndexPosts(ctx, topic, live...); err != nil {
		return 0, err
	}
	// a post deleted between the filter above and the write is tombstoned by now
	written := len(live)
	for i := range live {
		if j.tombstoned(live[i].Pid) {
			dead = append(dead, live[i].Pid)
			written--
		}
	}
	if err := j.index.DeindexPosts(ctx, dead...); err != nil {
		return written, err
	}
	return written, nil
}

func (j *Job) update(fn func(p *Progress)) {
	j.mu.Lock()
	fn(&j.progress)
	pct := j.progress.Percent()
	j.mu.Unlock()
	metrics.ReindexProgress.Set(pct)
}

func (j *Job) finish(ctx context.Context, status Status, err error) {
	now := time.Now()
	j.update(func(p *Progress) {
		p.Status = status
		p.FinishedAt = &now
		if err != nil {
			p.Error = err.Error()
		}
	})
	j.mu.Lock()
	j.tombstones = nil
	j.mu.Unlock()
	if err != nil {
		slog.Error("reindexing failed", "error", err)
	} else if status == StatusCancelled {
		slog.Warn("reindexing cancelled", "cursor", j.Progress().Cursor)
	}
	j.persist(context.WithoutCancel(ctx))
}

func (j *Job) persist(ctx context.Context) {
	data, err := json.Marshal(j.Progress())
	if err != nil {
		slog.Error("failed encoding reindex progress", "error", err)
		return
	}
	if err := j.state.SetObject(ctx, StateKey, map[string]string{"state": string(data)}); err != nil {
		slog.Warn("failed saving reindex progress", "error", err)
	}
}
