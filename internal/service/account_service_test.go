package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/storage"
)

func TestExportDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLeads(t,
		model.Lead{ID: "a", Price: dec("1"), FirstName: "Ada", Email: "ada@example.com", CompanyName: "Acme, Inc."},
		model.Lead{ID: "b", Price: dec("2")},
	)
	f.grant(t, "ws", "10")
	f.pending(t, "p1", "ws", model.PaymentMethodCredit, "a", "b")

	artifacts := storage.NewMemoryStore()
	svc := NewExportService(f.store, artifacts, nil).(*exportService)
	svc.now = func() time.Time { return saleTime }

	if _, err := svc.Download(ctx, "p1", Viewer{WorkspaceID: "ws"}); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("pending download err=%v", err)
	}
	if _, err := f.settlement.Settle(ctx, "p1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Download(ctx, "p1", Viewer{WorkspaceID: "other"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign download err=%v", err)
	}

	out, err := svc.Download(ctx, "p1", Viewer{WorkspaceID: "ws"})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0][0] != "lead_id" || rows[1][0] != "a" || rows[1][5] != "Acme, Inc." || rows[2][8] != "2.00" {
		t.Fatalf("rows got=%v", rows)
	}
	if _, err := artifacts.Get(ctx, exportPath("p1")); err != nil {
		t.Fatalf("artifact not archived: %v", err)
	}

	svc.now = func() time.Time { return saleTime.Add(DeliveryWindow + time.Hour) }
	if _, err := svc.Download(ctx, "p1", Viewer{WorkspaceID: "ws"}); !errors.Is(err, ErrArtifactExpired) {
		t.Fatalf("expired download err=%v", err)
	}
}

func TestCreditGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewCreditService(f.store, f.ids, nil)

	tests := []struct {
		name   string
		ws     string
		amount string
		want   error
	}{
		{"zero", "ws", "0", ErrInvalidInput},
		{"negative", "ws", "-5", ErrInvalidInput},
		{"no workspace", " ", "5", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Grant(ctx, tt.ws, dec(tt.amount), ""); !errors.Is(err, tt.want) {
				t.Fatalf("got=%v want=%v", err, tt.want)
			}
		})
	}

	first, err := svc.Grant(ctx, "ws", dec("25"), "welcome")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Grant(ctx, "ws", dec("5"), "")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("ledger ids collide")
	}
	if !second.BalanceAfter.Equal(dec("30")) {
		t.Fatalf("balance after got=%s", second.BalanceAfter)
	}
	bal, _ := svc.Balance(ctx, "ws")
	entries, _ := svc.Entries(ctx, "ws", 10)
	if !bal.Equal(dec("30")) || len(entries) != 2 {
		t.Fatalf("balance=%s entries=%d", bal, len(entries))
	}
}

func TestEarningsSummary(t *testing.T) {
	list := []model.PartnerEarning{
		{Amount: dec("30"), PayableAt: saleTime.AddDate(0, 0, -1)},
		{Amount: dec("25"), PayableAt: saleTime},
		{Amount: dec("4"), PayableAt: saleTime.AddDate(0, 0, 3)},
		{Amount: dec("6"), PayableAt: saleTime.AddDate(0, 0, 2)},
	}
	sum := summarize("partner-1", list, saleTime)
	if !sum.PayableTotal.Equal(dec("55")) || !sum.HeldTotal.Equal(dec("10")) {
		t.Fatalf("payable=%s held=%s", sum.PayableTotal, sum.HeldTotal)
	}
	if !sum.PayoutReady {
		t.Fatal("55 should meet the minimum payout")
	}
	if !sum.NextPayableAt.Equal(saleTime.AddDate(0, 0, 2)) {
		t.Fatalf("next payable got=%v", sum.NextPayableAt)
	}
	if small := summarize("p", list[2:], saleTime); small.PayoutReady {
		t.Fatal("held earnings counted toward payout")
	}
}

func TestEarningsForUnknownOwner(t *testing.T) {
	f := newFixture(t)
	if _, err := NewEarningsService(f.store).ForOwner(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}
