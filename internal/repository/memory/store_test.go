package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shopspring/decimal"
)

var _ repository.Store = (*Store)(nil)

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Leads().Create(ctx, []model.Lead{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Leads().MarkSold(ctx, []string{"a"}, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	leads, _ := s.Leads().FindByIDs(ctx, []string{"a"})
	if leads[0].AvailabilityStatus != model.LeadStatusAvailable || leads[0].SoldCount != 0 {
		t.Fatalf("rolled back lead changed: %+v", leads[0])
	}
}

func TestMarkSoldAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Leads().Create(ctx, []model.Lead{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err := s.Leads().MarkSold(ctx, []string{"b"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Leads().MarkSold(ctx, []string{"a", "b", "c"}, time.Now()); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("err=%v", err)
	}
	leads, _ := s.Leads().FindByIDs(ctx, []string{"a", "c"})
	for _, l := range leads {
		if l.AvailabilityStatus != model.LeadStatusAvailable {
			t.Fatalf("lead %s flipped in failed batch", l.ID)
		}
	}
}

func TestCreditApply(t *testing.T) {
	ctx := context.Background()
	s := New()
	grant := &model.CreditLedgerEntry{ID: 1, WorkspaceID: "ws", EntryType: model.LedgerEntryGrant, Amount: decimal.NewFromInt(10)}
	if err := s.Credits().Apply(ctx, grant); err != nil {
		t.Fatal(err)
	}
	pid := "p1"
	debit := &model.CreditLedgerEntry{ID: 2, WorkspaceID: "ws", PurchaseID: &pid, EntryType: model.LedgerEntryPurchase, Amount: decimal.NewFromInt(-4)}
	if err := s.Credits().Apply(ctx, debit); err != nil {
		t.Fatal(err)
	}
	if !debit.BalanceAfter.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("balance after=%s", debit.BalanceAfter)
	}
	again := &model.CreditLedgerEntry{ID: 3, WorkspaceID: "ws", PurchaseID: &pid, EntryType: model.LedgerEntryPurchase, Amount: decimal.NewFromInt(-1)}
	if err := s.Credits().Apply(ctx, again); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("duplicate debit err=%v", err)
	}
	tooMuch := &model.CreditLedgerEntry{ID: 4, WorkspaceID: "ws", EntryType: model.LedgerEntryPurchase, Amount: decimal.NewFromInt(-7)}
	if err := s.Credits().Apply(ctx, tooMuch); !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("overdraft err=%v", err)
	}
	bal, _ := s.Credits().Balance(ctx, "ws")
	if !bal.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("balance=%s", bal)
	}
}

func TestPurchaseTransitionsOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := &model.Purchase{ID: "p", BuyerWorkspaceID: "ws", Status: model.PurchaseStatusPending,
		Items: []model.PurchaseLineItem{{LeadID: "a"}}}
	if err := s.Purchases().Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	if p.Items[0].ID == 0 {
		t.Fatal("line item id not assigned")
	}
	if err := s.Purchases().Complete(ctx, "p", repository.CompleteParams{CompletedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Purchases().Fail(ctx, "p", "late", time.Now()); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("err=%v", err)
	}
	snap := repository.CommissionSnapshot{Rate: decimal.RequireFromString("0.3"), Amount: decimal.RequireFromString("0.1"), Computed: time.Now()}
	if err := s.Purchases().SaveCommission(ctx, p.Items[0].ID, snap); err != nil {
		t.Fatal(err)
	}
	if err := s.Purchases().SaveCommission(ctx, p.Items[0].ID, snap); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("second commission write err=%v", err)
	}
}

func TestDeliveryClaimAndRequeue(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := &model.NotificationDelivery{EventID: "e", Target: "http://x", Status: model.DeliveryStatusPending}
	created, err := s.Webhooks().EnqueueDelivery(ctx, d)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	dup := &model.NotificationDelivery{EventID: "e", Target: "http://x", Status: model.DeliveryStatusPending}
	if created, _ := s.Webhooks().EnqueueDelivery(ctx, dup); created {
		t.Fatal("duplicate delivery created")
	}
	now := time.Now()
	ok, _ := s.Webhooks().ClaimDelivery(ctx, d.ID, now, now.Add(time.Minute))
	if !ok {
		t.Fatal("first claim failed")
	}
	ok, _ = s.Webhooks().ClaimDelivery(ctx, d.ID, now, now.Add(time.Minute))
	if ok {
		t.Fatal("second claim succeeded while leased")
	}
	if err := s.Webhooks().Requeue(ctx, d.ID, now); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("requeue of live delivery err=%v", err)
	}
}
