// Package search maps forum content to Solr documents and queries Solr.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"forum-search-backend/base"
	"forum-search-backend/forum"
	"forum-search-backend/metrics"
	"forum-search-backend/settings"
)

var ErrDisabled = errors.New("search is disabled")

// Stats is what the admin page shows about the index.
type Stats struct {
	Ping   string `json:"ping,omitempty"`
	Total  int64  `json:"total"`
	Topics int64  `json:"topics"`
	Cached int    `json:"cached"`
	Error  string `json:"error,omitempty"`
}

// Service indexes forum content and serves searches.
type Service struct {
	client   *Client
	cache    *Cache
	mu       sync.RWMutex
	settings settings.Settings
}

func NewService(client *Client, cache *Cache, s settings.Settings) *Service {
	svc := &Service{client: client, cache: cache}
	svc.Configure(s)
	return svc
}

// Configure applies new settings, reconnecting when the Solr target changed.
func (s *Service) Configure(st settings.Settings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
	s.client.Connect(st.Endpoint, st.Core)
	s.cache.Purge()
}

func (s *Service) Settings() settings.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Service) Enabled() bool {
	return s.Settings().Enabled
}

func (s *Service) fields() Fields {
	st := s.Settings()
	return Fields{Title: st.TitleField, Content: st.ContentField}
}

// Client exposes the underlying Solr client.
func (s *Service) Client() *Client {
	return s.client
}

// Init prepares the Solr collection, recreating it when asked to.
func (s *Service) Init(ctx context.Context, recreate bool) error {
	err := s.client.Init(ctx, recreate, s.fields())
	if recreate {
		s.cache.Purge()
	}
	return err
}

// IndexPosts builds documents for posts of one topic and submits them.
func (s *Service) IndexPosts(ctx context.Context, topic *forum.Topic, posts ...forum.Post) error {
	if len(posts) == 0 {
		return nil
	}
	fields := s.fields()
	docs := make([]Document, 0, len(posts))
	for i := range posts {
		docs = append(docs, PostDocument(fields, topic, &posts[i]))
	}
	slog.Debug("indexing posts", "tid", topic.Tid, "count", len(docs))
	err := s.client.Add(ctx, docs...)
	s.written("index", err)
	if err != nil {
		return fmt.Errorf("failed indexing %d posts of topic %d: %w", len(docs), topic.Tid, err)
	}
	return nil
}

// DeindexPosts removes posts from the index.
func (s *Service) DeindexPosts(ctx context.Context, pids ...int64) error {
	if len(pids) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pids))
	for _, pid := range pids {
		ids = append(ids, base.FormatID(pid))
	}
	slog.Debug("deindexing posts", "pids", pids)
	err := s.client.DeleteByID(ctx, ids...)
	s.written("deindex", err)
	if err != nil {
		return fmt.Errorf("failed removing posts %v from index: %w", pids, err)
	}
	return nil
}

// DeindexTopic removes every post of a topic from the index.
func (s *Service) DeindexTopic(ctx context.Context, tid int64) error {
	slog.Debug("deindexing topic", "tid", tid)
	err := s.client.DeleteByQuery(ctx, fmt.Sprintf("%s:%d", fieldTid, tid))
	s.written("deindex_topic", err)
	if err != nil {
		return fmt.Errorf("failed removing topic %d from index: %w", tid, err)
	}
	return nil
}

// Flush empties the index.
func (s *Service) Flush(ctx context.Context) error {
	err := s.client.DeleteByQuery(ctx, "*:*")
	s.written("flush", err)
	if err != nil {
		return fmt.Errorf("could not empty the search index: %w", err)
	}
	slog.Info("search index flushed")
	return nil
}

// Stats pings Solr and counts documents. Failures are reported in Stats.Error.
func (s *Service) Stats(ctx context.Context) Stats {
	stats := Stats{Cached: s.cache.Keys()}
	var err error
	if stats.Ping, err = s.client.Ping(ctx); err != nil {
		stats.Error = err.Error()
		return stats
	}
	if stats.Total, err = s.client.Count(ctx, "*:*"); err != nil {
		stats.Error = err.Error()
		return stats
	}
	if stats.Topics, err = s.client.Count(ctx, s.fields().Title+":*"); err != nil {
		stats.Error = err.Error()
	}
	return stats
}

// Document returns the indexed document of a post.
func (s *Service) Document(ctx context.Context, pid int64) (Document, error) {
	return s.client.Get(ctx, base.FormatID(pid))
}

func (s *Service) written(op string, err error) {
	metrics.IndexOperations.WithLabelValues(op, metrics.Status(err)).Inc()
	s.cache.Purge()
}
