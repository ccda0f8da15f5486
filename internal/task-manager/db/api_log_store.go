package db

import (
	"context"

	"gorm.io/gorm"
)

// APILogStore persists API call logs.
type APILogStore struct {
	db *gorm.DB
}

func NewAPILogStore(db *gorm.DB) *APILogStore {
	return &APILogStore{db: db}
}

// CreateAPILog inserts entry and fills its ID.
func (s *APILogStore) CreateAPILog(ctx context.Context, entry *APILog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// RecentAPILogs returns the newest logs for a user, or for everyone when userID is 0.
func (s *APILogStore) RecentAPILogs(ctx context.Context, userID uint, limit int) ([]APILog, error) {
	query := s.db.WithContext(ctx).Order("id desc")
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var logs []APILog
	err := query.Find(&logs).Error
	return logs, err
}
