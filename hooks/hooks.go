// Package hooks applies forum events to the search index. Events only name what
// changed; the current state is always re-read from the forum store, so the last
// write wins regardless of the order events arrive in.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"forum-search-backend/forum"
	"forum-search-backend/metrics"
	"forum-search-backend/search"
	"forum-search-backend/settings"

	"github.com/hashicorp/go-multierror"
)

const (
	PostSave     = "post.save"
	PostEdit     = "post.edit"
	PostRestore  = "post.restore"
	PostDelete   = "post.delete"
	PostPurge    = "post.purge"
	PostMove     = "post.move"
	TopicPost    = "topic.post"
	TopicEdit    = "topic.edit"
	TopicRestore = "topic.restore"
	TopicDelete  = "topic.delete"
	TopicPurge   = "topic.purge"
	TopicMove    = "topic.move"
	ConfigChange = "config.change"
)

// Hooks lists every supported hook name.
var Hooks = []string{
	PostSave, PostEdit, PostRestore, PostDelete, PostPurge, PostMove,
	TopicPost, TopicEdit, TopicRestore, TopicDelete, TopicPurge, TopicMove,
	ConfigChange,
}

var (
	ErrUnknownHook  = errors.New("unknown hook")
	ErrInvalidEvent = errors.New("invalid event")
)

type Event struct {
	Hook string `json:"hook"`
	Pid  int64  `json:"pid,omitempty"`
	Tid  int64  `json:"tid,omitempty"`
	// Hash is the object key of a config.change event.
	Hash string `json:"hash,omitempty"`
}

func (e Event) isPost() bool {
	switch e.Hook {
	case PostSave, PostEdit, PostRestore, PostDelete, PostPurge, PostMove:
		return true
	}
	return false
}

func (e Event) isTopic() bool {
	switch e.Hook {
	case TopicPost, TopicEdit, TopicRestore, TopicDelete, TopicPurge, TopicMove:
		return true
	}
	return false
}

// Validate checks that the event names a known hook and carries the id it needs.
func (e Event) Validate() error {
	switch {
	case e.isPost():
		if e.Pid <= 0 {
			return fmt.Errorf("%w: %s needs a pid", ErrInvalidEvent, e.Hook)
		}
	case e.isTopic():
		if e.Tid <= 0 {
			return fmt.Errorf("%w: %s needs a tid", ErrInvalidEvent, e.Hook)
		}
	case e.Hook == ConfigChange:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownHook, e.Hook)
	}
	return nil
}

// shard returns the key events are ordered by: the topic when known, else the post.
// A post event without a tid may land on another worker than its topic's events;
// the Handler serializes writes per topic so that does not reorder them.
func (e Event) shard() int64 {
	if e.Tid > 0 {
		return e.Tid
	}
	return e.Pid
}

// Indexer is the part of the search service events write through.
type Indexer interface {
	Enabled() bool
	IndexPosts(ctx context.Context, topic *forum.Topic, posts ...forum.Post) error
	DeindexPosts(ctx context.Context, pids ...int64) error
	DeindexTopic(ctx context.Context, tid int64) error
}

// Tombstones is told about deletions so a running reindex does not put deleted posts back.
type Tombstones interface {
	Tombstone(pids ...int64)
	Restore(pids ...int64)
}

const lockStripes = 64

type Handler struct {
	store      forum.Store
	index      Indexer
	settings   *settings.Manager
	tombstones Tombstones
	// topics serializes the read-then-write of everything belonging to one topic,
	// whichever worker or consumer the event came through.
	topics [lockStripes]sync.Mutex
}

func NewHandler(store forum.Store, index Indexer, mgr *settings.Manager, tombstones Tombstones) *Handler {
	return &Handler{store: store, index: index, settings: mgr, tombstones: tombstones}
}

// Apply brings the index in line with the current state of whatever the event names.
func (h *Handler) Apply(ctx context.Context, ev Event) error {
	err := h.apply(ctx, ev)
	metrics.HookEvents.WithLabelValues(ev.Hook, metrics.Status(err)).Inc()
	if err != nil {
		slog.Warn("failed applying event", "hook", ev.Hook, "pid", ev.Pid, "tid", ev.Tid, "error", err)
	}
	return err
}

func (h *Handler) apply(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Hook == ConfigChange {
		if ev.Hash != settings.Key || h.settings == nil {
			return nil
		}
		return h.settings.Reload(ctx)
	}
	if !h.index.Enabled() {
		slog.Debug("indexing disabled, skipping event", "hook", ev.Hook)
		return nil
	}
	if ev.isPost() {
		return h.syncPost(ctx, ev.Pid)
	}
	return h.syncTopic(ctx, ev.Tid)
}

func (h *Handler) lockTopic(tid int64) func() {
	mu := &h.topics[uint64(tid)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// lockPost locks the topic of post and reads the post again under that lock,
// following it when a concurrent move changed its topic.
func (h *Handler) lockPost(ctx context.Context, post *forum.Post) (*forum.Post, func(), error) {
	for {
		unlock := h.lockTopic(post.Tid)
		fresh, err := h.store.GetPost(ctx, post.Pid)
		if err != nil || fresh.Tid == post.Tid {
			return fresh, unlock, err
		}
		unlock()
		post = fresh
	}
}

func (h *Handler) syncPost(ctx context.Context, pid int64) error {
	post, err := h.store.GetPost(ctx, pid)
	if errors.Is(err, forum.ErrNotFound) {
		return h.remove(ctx, pid)
	} else if err != nil {
		return err
	}
	post, unlock, err := h.lockPost(ctx, post)
	defer unlock()
	if errors.Is(err, forum.ErrNotFound) {
		return h.remove(ctx, pid)
	} else if err != nil {
		return err
	}
	topic, err := h.store.GetTopic(ctx, post.Tid)
	if errors.Is(err, forum.ErrNotFound) {
		topic = nil
	} else if err != nil {
		return err
	}
	if !search.Indexable(topic, post) {
		return h.remove(ctx, pid)
	}
	h.restore(pid)
	return h.index.IndexPosts(ctx, topic, *post)
}

func (h *Handler) syncTopic(ctx context.Context, tid int64) error {
	defer h.lockTopic(tid)()
	topic, err := h.store.GetTopic(ctx, tid)
	if errors.Is(err, forum.ErrNotFound) {
		topic = nil
	} else if err != nil {
		return err
	}
	posts, err := h.store.GetTopicPosts(ctx, tid)
	if err != nil {
		return err
	}

	if topic == nil || topic.Deleted {
		pids := make([]int64, 0, len(posts))
		for _, post := range posts {
			pids = append(pids, post.Pid)
		}
		h.tombstone(pids...)
		errs := new(multierror.Error)
		errs = multierror.Append(errs, h.index.DeindexTopic(ctx, tid))
		errs = multierror.Append(errs, h.index.DeindexPosts(ctx, pids...))
		return errs.ErrorOrNil()
	}

	var live []forum.Post
	var livePids, dead []int64
	for i := range posts {
		if search.Indexable(topic, &posts[i]) {
			live = append(live, posts[i])
			livePids = append(livePids, posts[i].Pid)
		} else {
			dead = append(dead, posts[i].Pid)
		}
	}
	h.restore(livePids...)
	h.tombstone(dead...)
	errs := new(multierror.Error)
	errs = multierror.Append(errs, h.index.IndexPosts(ctx, topic, live...))
	errs = multierror.Append(errs, h.index.DeindexPosts(ctx, dead...))
	return errs.ErrorOrNil()
}

func (h *Handler) remove(ctx context.Context, pid int64) error {
	h.tombstone(pid)
	return h.index.DeindexPosts(ctx, pid)
}

func (h *Handler) tombstone(pids ...int64) {
	if h.tombstones != nil && len(pids) > 0 {
		h.tombstones.Tombstone(pids...)
	}
}

func (h *Handler) restore(pids ...int64) {
	if h.tombstones != nil && len(pids) > 0 {
		h.tombstones.Restore(pids...)
	}
}
