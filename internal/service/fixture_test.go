package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/lock"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository/memory"
	"github.com/shopspring/decimal"
)

var saleTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingListener struct {
	mu     sync.Mutex
	events []CompletedEvent
}

func (l *recordingListener) PurchaseCompleted(_ context.Context, ev CompletedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type fixture struct {
	store      *memory.Store
	ids        *idgen.Generator
	listener   *recordingListener
	settlement SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ids, err := idgen.New(1)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{store: memory.New(), ids: ids, listener: &recordingListener{}}
	f.settlement = NewSettlementService(f.store, lock.NewLocalLocker(), ids, nil, SettlementOptions{
		AppBaseURL: "https://market.test",
		Listener:   f.listener,
		Now:        func() time.Time { return saleTime },
	})
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) addPartner(t *testing.T, p model.Partner) {
	t.Helper()
	if err := f.store.Partners().Upsert(context.Background(), &p); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) addLeads(t *testing.T, leads ...model.Lead) {
	t.Helper()
	if err := f.store.Leads().Create(context.Background(), leads); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) grant(t *testing.T, workspaceID, amount string) {
	t.Helper()
	entry := &model.CreditLedgerEntry{
		ID:          f.ids.LedgerID(),
		WorkspaceID: workspaceID,
		EntryType:   model.LedgerEntryGrant,
		Amount:      dec(amount),
	}
	if err := f.store.Credits().Apply(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) balance(t *testing.T, workspaceID string) decimal.Decimal {
	t.Helper()
	bal, err := f.store.Credits().Balance(context.Background(), workspaceID)
	if err != nil {
		t.Fatal(err)
	}
	return bal
}

// pending stores a pending purchase for the given leads at their list price.
func (f *fixture) pending(t *testing.T, id, workspaceID string, method model.PaymentMethod, leadIDs ...string) *model.Purchase {
	t.Helper()
	ctx := context.Background()
	leads, err := f.store.Leads().FindByIDs(ctx, leadIDs)
	if err != nil {
		t.Fatal(err)
	}
	p := &model.Purchase{
		ID:               id,
		BuyerWorkspaceID: workspaceID,
		BuyerUserID:      "user-" + workspaceID,
		PaymentMethod:    method,
		Status:           model.PurchaseStatusPending,
		TotalPrice:       decimal.Zero,
	}
	for _, l := range orderLeads(leads, leadIDs) {
		p.TotalPrice = p.TotalPrice.Add(l.ListPrice())
		p.Items = append(p.Items, model.PurchaseLineItem{LeadID: l.ID, PartnerID: l.PartnerID, PriceAtPurchase: l.ListPrice()})
	}
	p.LeadCount = len(p.Items)
	if err := f.store.Purchases().Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) lead(t *testing.T, id string) model.Lead {
	t.Helper()
	leads, err := f.store.Leads().FindByIDs(context.Background(), []string{id})
	if err != nil || len(leads) != 1 {
		t.Fatalf("lead %s: %v", id, err)
	}
	return leads[0]
}

func strPtr(s string) *string { return &s }
