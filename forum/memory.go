package forum

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps forum data in memory. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	topics map[int64]Topic
	posts  map[int64]Post
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics: make(map[int64]Topic),
		posts:  make(map[int64]Post),
	}
}

func (s *MemoryStore) PutTopic(topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic.Tid] = topic
}

func (s *MemoryStore) PutPost(post Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.Pid] = post
}

// DeletePost removes a post for good, as a purge does.
func (s *MemoryStore) DeletePost(pid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, pid)
}

// DeleteTopic removes a topic and its posts.
func (s *MemoryStore) DeleteTopic(tid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, tid)
	for pid, post := range s.posts {
		if post.Tid == tid {
			delete(s.posts, pid)
		}
	}
}

func (s *MemoryStore) GetPost(_ context.Context, pid int64) (*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[pid]
	if !ok {
		return nil, ErrNotFound
	}
	return &post, nil
}

func (s *MemoryStore) GetTopic(_ context.Context, tid int64) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.topics[tid]
	if !ok {
		return nil, ErrNotFound
	}
	return &topic, nil
}

func (s *MemoryStore) GetTopicPosts(_ context.Context, tid int64) ([]Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var posts []Post
	for _, post := range s.posts {
		if post.Tid == tid {
			posts = append(posts, post)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].Pid < posts[j].Pid })
	return posts, nil
}

func (s *MemoryStore) ListTopics(_ context.Context, afterTid int64, limit int) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var topics []Topic
	for tid, topic := range s.topics {
		if tid > afterTid {
			topics = append(topics, topic)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Tid < topics[j].Tid })
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}

func (s *MemoryStore) CountTopics(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.topics)), nil
}
