package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories and runs units of work across them.
// Repositories obtained from the tx argument of Transaction take part in
// that transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Purchases() PurchaseRepository
	Leads() LeadRepository
	Partners() PartnerRepository
	Credits() CreditRepository
	Earnings() EarningRepository
	Notifications() NotificationRepository
	Webhooks() WebhookRepository
}

type gormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return ErrDBNotReady
	}
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx, inTx: true})
	})
}

func (s *gormStore) Purchases() PurchaseRepository         { return NewPurchaseRepository(s.db) }
func (s *gormStore) Leads() LeadRepository                 { return NewLeadRepository(s.db) }
func (s *gormStore) Partners() PartnerRepository           { return NewPartnerRepository(s.db) }
func (s *gormStore) Credits() CreditRepository             { return NewCreditRepository(s.db) }
func (s *gormStore) Earnings() EarningRepository           { return NewEarningRepository(s.db) }
func (s *gormStore) Notifications() NotificationRepository { return NewNotificationRepository(s.db) }
func (s *gormStore) Webhooks() WebhookRepository           { return NewWebhookRepository(s.db) }
