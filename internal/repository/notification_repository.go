package repository

import (
	"context"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxNotificationPage = 50

type NotificationRepository interface {
	// Create stores n unless a row with the same DedupeKey exists; created
	// reports which happened.
	Create(ctx context.Context, n *model.Notification) (created bool, err error)
	ListByUser(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkAllRead(ctx context.Context, userUID string, at time.Time) error
	CountUnread(ctx context.Context, userUID string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	limit = NotificationPageSize(limit)
	q := r.unread(ctx, userUID, unreadOnly)
	var list []model.Notification
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userUID string, at time.Time) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.unread(ctx, userUID, true).Update("read_at", at).Error
}

func (r *notificationRepository) CountUnread(ctx context.Context, userUID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	err := r.unread(ctx, userUID, true).Count(&cnt).Error
	return cnt, err
}

func (r *notificationRepository) unread(ctx context.Context, userUID string, unreadOnly bool) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.Notification{}).Where("user_uid = ?", userUID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	return q
}

// NotificationPageSize clamps a requested page size to 1..50, defaulting to 20.
func NotificationPageSize(limit int) int {
	if limit <= 0 || limit > maxNotificationPage {
		return 20
	}
	return limit
}
