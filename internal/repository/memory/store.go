// Package memory is an in-process repository.Store used by tests and by the
// memory store driver.
//
// Transactions run one at a time against a copy of the state that replaces
// the committed state only when the callback returns nil.
package memory

import (
	"context"
	"sync"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
)

type state struct {
	purchases     map[string]model.Purchase
	leads         map[string]model.Lead
	partners      map[string]model.Partner
	balances      map[string]model.CreditBalance
	ledger        []model.CreditLedgerEntry
	earnings      []model.PartnerEarning
	notifications []model.Notification
	endpoints     []model.WebhookEndpoint
	deliveries    map[uint64]model.NotificationDelivery

	nextLineItemID     uint64
	nextEarningID      uint64
	nextNotificationID uint64
	nextEndpointID     uint64
	nextDeliveryID     uint64
}

func newState() *state {
	return &state{
		purchases:  make(map[string]model.Purchase),
		leads:      make(map[string]model.Lead),
		partners:   make(map[string]model.Partner),
		balances:   make(map[string]model.CreditBalance),
		deliveries: make(map[uint64]model.NotificationDelivery),
	}
}

func (s *state) clone() *state {
	c := &state{
		purchases:          make(map[string]model.Purchase, len(s.purchases)),
		leads:              make(map[string]model.Lead, len(s.leads)),
		partners:           make(map[string]model.Partner, len(s.partners)),
		balances:           make(map[string]model.CreditBalance, len(s.balances)),
		ledger:             append([]model.CreditLedgerEntry(nil), s.ledger...),
		earnings:           append([]model.PartnerEarning(nil), s.earnings...),
		notifications:      append([]model.Notification(nil), s.notifications...),
		endpoints:          append([]model.WebhookEndpoint(nil), s.endpoints...),
		deliveries:         make(map[uint64]model.NotificationDelivery, len(s.deliveries)),
		nextLineItemID:     s.nextLineItemID,
		nextEarningID:      s.nextEarningID,
		nextNotificationID: s.nextNotificationID,
		nextEndpointID:     s.nextEndpointID,
		nextDeliveryID:     s.nextDeliveryID,
	}
	for k, v := range s.purchases {
		c.purchases[k] = copyPurchase(v)
	}
	for k, v := range s.leads {
		c.leads[k] = v
	}
	for k, v := range s.partners {
		c.partners[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	return c
}

// Store implements repository.Store.
type Store struct {
	mu   *sync.Mutex
	root **state
	// st is set on transaction-scoped stores.
	st *state
}

func New() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, root: &st}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.st != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := (*s.root).clone()
	if err := fn(&Store{mu: s.mu, root: s.root, st: work}); err != nil {
		return err
	}
	*s.root = work
	return nil
}

// run executes op against the transaction state, or as its own transaction
// when called outside one.
func (s *Store) run(op func(st *state) error) error {
	if s.st != nil {
		return op(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := (*s.root).clone()
	if err := op(work); err != nil {
		return err
	}
	*s.root = work
	return nil
}

// read executes op against the current state without copying it.
func (s *Store) read(op func(st *state) error) error {
	if s.st != nil {
		return op(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return op(*s.root)
}

func (s *Store) Purchases() repository.PurchaseRepository         { return purchaseRepo{s} }
func (s *Store) Leads() repository.LeadRepository                 { return leadRepo{s} }
func (s *Store) Partners() repository.PartnerRepository           { return partnerRepo{s} }
func (s *Store) Credits() repository.CreditRepository             { return creditRepo{s} }
func (s *Store) Earnings() repository.EarningRepository           { return earningRepo{s} }
func (s *Store) Notifications() repository.NotificationRepository { return notificationRepo{s} }
func (s *Store) Webhooks() repository.WebhookRepository           { return webhookRepo{s} }

func copyPurchase(p model.Purchase) model.Purchase {
	if p.Items != nil {
		items := make([]model.PurchaseLineItem, len(p.Items))
		for i, it := range p.Items {
			if it.CommissionBonuses != nil {
				it.CommissionBonuses = append([]string(nil), it.CommissionBonuses...)
			}
			items[i] = it
		}
		p.Items = items
	}
	return p
}
