// Package forum reads topics and posts from the forum platform's database.
package forum

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type Topic struct {
	Tid       int64  `json:"tid" gorm:"column:tid;primaryKey"`
	Cid       int64  `json:"cid" gorm:"column:cid"`
	Uid       int64  `json:"uid" gorm:"column:uid"`
	Title     string `json:"title" gorm:"column:title"`
	MainPid   int64  `json:"mainPid" gorm:"column:main_pid"`
	Deleted   bool   `json:"deleted" gorm:"column:deleted"`
	Timestamp int64  `json:"timestamp" gorm:"column:timestamp"`
}

func (Topic) TableName() string {
	return "topics"
}

type Post struct {
	Pid       int64  `json:"pid" gorm:"column:pid;primaryKey"`
	Tid       int64  `json:"tid" gorm:"column:tid"`
	Uid       int64  `json:"uid" gorm:"column:uid"`
	Content   string `json:"content" gorm:"column:content"`
	Deleted   bool   `json:"deleted" gorm:"column:deleted"`
	Timestamp int64  `json:"timestamp" gorm:"column:timestamp"`
}

func (Post) TableName() string {
	return "posts"
}

// Store is the read side of the forum data layer.
type Store interface {
	GetPost(ctx context.Context, pid int64) (*Post, error)
	GetTopic(ctx context.Context, tid int64) (*Topic, error)
	// GetTopicPosts returns all posts of a topic including deleted ones, ordered by pid.
	GetTopicPosts(ctx context.Context, tid int64) ([]Post, error)
	// ListTopics returns up to limit topics with tid > afterTid in ascending tid order.
	ListTopics(ctx context.Context, afterTid int64, limit int) ([]Topic, error)
	CountTopics(ctx context.Context) (int64, error)
}
