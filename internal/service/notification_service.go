package service

import (
	"context"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"go.uber.org/zap"
)

// NotificationService stores in-app messages shown to buyers and partner owners.
type NotificationService interface {
	Notify(ctx context.Context, userUID, typ, title, body string, purchaseID *string)
	List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error)
	MarkAllRead(ctx context.Context, userUID string) error
}

type notificationService struct {
	repo repository.NotificationRepository
	log  *zap.Logger
	now  func() time.Time
}

func NewNotificationService(repo repository.NotificationRepository, log *zap.Logger) NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &notificationService{repo: repo, log: log.Named("notifications"), now: time.Now}
}

// Notify never fails the caller. Messages about a purchase are stored once per
// user and type.
func (s *notificationService) Notify(ctx context.Context, userUID, typ, title, body string, purchaseID *string) {
	if userUID == "" || typ == "" {
		return
	}
	n := &model.Notification{
		UserUID:    userUID,
		Type:       typ,
		Title:      title,
		Body:       body,
		PurchaseID: purchaseID,
	}
	if purchaseID != nil {
		key := model.NotificationDedupeKey(userUID, typ, *purchaseID)
		n.DedupeKey = &key
	}
	created, err := s.repo.Create(ctx, n)
	if err != nil {
		s.log.Warn("in-app notification not stored", zap.String("type", typ), zap.Error(err))
		return
	}
	if !created {
		s.log.Debug("duplicate in-app notification skipped", zap.String("type", typ))
	}
}

func (s *notificationService) List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error) {
	if userUID == "" {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, userUID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.repo.CountUnread(ctx, userUID)
	if err != nil {
		return list, 0, err
	}
	return list, unread, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userUID string) error {
	if userUID == "" {
		return nil
	}
	return s.repo.MarkAllRead(ctx, userUID, s.now().UTC())
}
