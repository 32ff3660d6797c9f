package forum

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLStore reads forum data from the platform's MySQL database.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to the forum database.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed connecting to forum database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) GetPost(ctx context.Context, pid int64) (*Post, error) {
	var post Post
	if err := s.db.WithContext(ctx).Where("pid = ?", pid).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (s *SQLStore) GetTopic(ctx context.Context, tid int64) (*Topic, error) {
	var topic Topic
	if err := s.db.WithContext(ctx).Where("tid = ?", tid).First(&topic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &topic, nil
}

func (s *SQLStore) GetTopicPosts(ctx context.Context, tid int64) ([]Post, error) {
	var posts []Post
	err := s.db.WithContext(ctx).
		Where("tid = ?", tid).
		Order("pid ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed loading posts of topic %d: %w", tid, err)
	}
	return posts, nil
}

func (s *SQLStore) ListTopics(ctx context.Context, afterTid int64, limit int) ([]Topic, error) {
	var topics []Topic
	err := s.db.WithContext(ctx).
		Where("tid > ?", afterTid).
		Order("tid ASC").
		Limit(limit).
		Find(&topics).Error
	if err != nil {
		return nil, fmt.Errorf("failed listing topics after %d: %w", afterTid, err)
	}
	return topics, nil
}

func (s *SQLStore) CountTopics(ctx context.Context) (count int64, err error) {
	err = s.db.WithContext(ctx).Model(&Topic{}).Count(&count).Error
	return
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
