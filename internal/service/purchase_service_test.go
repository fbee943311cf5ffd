package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/payment"
)

type fakeGateway struct {
	calls int
	err   error
	last  payment.IntentRequest
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Intent{ID: "pi_test", CheckoutURL: "https://pay.test/checkout/pi_test"}, nil
}

func newPurchaseService(t *testing.T, f *fixture, gw payment.Gateway) PurchaseService {
	t.Helper()
	opts := PurchaseOptions{}
	if gw != nil {
		signer, err := payment.NewHandoffSigner("handoff-secret", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		opts.Gateway = gw
		opts.Handoff = signer
	}
	return NewPurchaseService(f.store, f.settlement, f.ids, nil, opts)
}

func TestCreatePurchaseValidation(t *testing.T) {
	f := newFixture(t)
	f.addLeads(t, model.Lead{ID: "a", Price: dec("1")})
	svc := newPurchaseService(t, f, nil)

	tooMany := make([]string, MaxLeadsPerPurchase+1)
	for i := range tooMany {
		tooMany[i] = "lead"
	}
	tests := []struct {
		name string
		in   CreatePurchaseInput
		want error
	}{
		{"no leads", CreatePurchaseInput{WorkspaceID: "ws", PaymentMethod: model.PaymentMethodCredit}, ErrInvalidInput},
		{"too many", CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: tooMany, PaymentMethod: model.PaymentMethodCredit}, ErrInvalidInput},
		{"duplicate", CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a", "a"}, PaymentMethod: model.PaymentMethodCredit}, ErrInvalidInput},
		{"blank id", CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{" "}, PaymentMethod: model.PaymentMethodCredit}, ErrInvalidInput},
		{"bad method", CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: "cash"}, ErrInvalidInput},
		{"no workspace", CreatePurchaseInput{LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCredit}, ErrInvalidInput},
		{"unknown lead", CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a", "zzz"}, PaymentMethod: model.PaymentMethodCredit}, ErrLeadsUnavailable},
		{"card disabled", CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCard}, ErrPaymentUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got=%v want=%v", err, tt.want)
			}
		})
	}
}

func TestCreatePurchaseUnknownPartner(t *testing.T) {
	f := newFixture(t)
	f.addLeads(t, model.Lead{ID: "a", Price: dec("1"), PartnerID: strPtr("ghost")})
	f.grant(t, "ws", "5")
	svc := newPurchaseService(t, f, nil)
	_, err := svc.Create(context.Background(), CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCredit})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreatePurchaseCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLeads(t, model.Lead{ID: "a", Price: dec("2")}, model.Lead{ID: "b"})
	f.grant(t, "ws", "3")
	svc := newPurchaseService(t, f, nil)

	res, err := svc.Create(ctx, CreatePurchaseInput{
		WorkspaceID:    "ws",
		UserID:         "u1",
		LeadIDs:        []string{"a", "b"},
		PaymentMethod:  model.PaymentMethodCredit,
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	// b carries no price and sells at the default
	if !res.Purchase.TotalPrice.Equal(dec("2.05")) {
		t.Fatalf("total got=%s want=2.05", res.Purchase.TotalPrice)
	}
	if res.Purchase.Status != model.PurchaseStatusCompleted {
		t.Fatalf("status got=%s", res.Purchase.Status)
	}
	if got := f.balance(t, "ws"); !got.Equal(dec("0.95")) {
		t.Fatalf("balance got=%s want=0.95", got)
	}

	again, err := svc.Create(ctx, CreatePurchaseInput{
		WorkspaceID:    "ws",
		LeadIDs:        []string{"a", "b"},
		PaymentMethod:  model.PaymentMethodCredit,
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Replayed || again.Purchase.ID != res.Purchase.ID {
		t.Fatalf("replay got=%+v", again)
	}
	if got := f.balance(t, "ws"); !got.Equal(dec("0.95")) {
		t.Fatalf("balance after replay got=%s", got)
	}
}

func TestCreatePurchaseInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	f.addLeads(t, model.Lead{ID: "a", Price: dec("10")})
	f.grant(t, "ws", "4")
	svc := newPurchaseService(t, f, nil)

	_, err := svc.Create(context.Background(), CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCredit})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err=%v", err)
	}
	if !insufficient.Required.Equal(dec("10")) || !insufficient.Available.Equal(dec("4")) {
		t.Fatalf("got=%+v", insufficient)
	}
	list, _ := f.store.Purchases().ListByWorkspace(context.Background(), "ws", 10)
	if len(list) != 0 {
		t.Fatalf("purchase stored after pre-check failure: %d", len(list))
	}
}

func TestCreatePurchaseSoldLead(t *testing.T) {
	f := newFixture(t)
	f.addLeads(t, model.Lead{ID: "a", Price: dec("1"), AvailabilityStatus: model.LeadStatusSold, SoldCount: 1}, model.Lead{ID: "b", Price: dec("1")})
	f.grant(t, "ws", "10")
	svc := newPurchaseService(t, f, nil)

	_, err := svc.Create(context.Background(), CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a", "b"}, PaymentMethod: model.PaymentMethodCredit})
	var unavailable *LeadsUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err=%v", err)
	}
	if len(unavailable.LeadIDs) != 1 || unavailable.LeadIDs[0] != "a" {
		t.Fatalf("got=%v", unavailable.LeadIDs)
	}
	if l := f.lead(t, "b"); l.AvailabilityStatus != model.LeadStatusAvailable {
		t.Fatal("partial purchase flipped lead b")
	}
}

func TestCreatePurchaseCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLeads(t, model.Lead{ID: "a", Price: dec("7.5")})
	gw := &fakeGateway{}
	svc := newPurchaseService(t, f, gw)

	res, err := svc.Create(ctx, CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCard})
	if err != nil {
		t.Fatal(err)
	}
	if res.Purchase.Status != model.PurchaseStatusPending {
		t.Fatalf("status got=%s", res.Purchase.Status)
	}
	if res.Checkout == nil || res.Checkout.PaymentIntentID != "pi_test" || res.Checkout.Token == "" {
		t.Fatalf("checkout got=%+v", res.Checkout)
	}
	if !strings.HasPrefix(gw.last.IdempotencyKey, "purchase-") || !gw.last.Amount.Equal(dec("7.5")) {
		t.Fatalf("intent request got=%+v", gw.last)
	}
	if l := f.lead(t, "a"); l.AvailabilityStatus != model.LeadStatusAvailable {
		t.Fatal("card purchase sold lead before confirmation")
	}
	stored, err := f.store.Purchases().FindByID(ctx, res.Purchase.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PaymentRef == nil || *stored.PaymentRef != "pi_test" {
		t.Fatalf("payment ref got=%v", stored.PaymentRef)
	}
}

func TestCreatePurchaseCardGatewayError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLeads(t, model.Lead{ID: "a", Price: dec("1")})
	svc := newPurchaseService(t, f, &fakeGateway{err: errors.New("processor down")})

	_, err := svc.Create(ctx, CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCard})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("err=%v", err)
	}
	list, _ := f.store.Purchases().ListByWorkspace(ctx, "ws", 10)
	if len(list) != 1 || list[0].Status != model.PurchaseStatusFailed || list[0].FailureReason != ReasonPaymentIntentError {
		t.Fatalf("got=%+v", list)
	}
}

func TestGetPurchaseScopedToWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLeads(t, model.Lead{ID: "a", Price: dec("1"), Email: "jane@example.com"})
	f.grant(t, "ws", "5")
	svc := newPurchaseService(t, f, nil)
	res, err := svc.Create(ctx, CreatePurchaseInput{WorkspaceID: "ws", LeadIDs: []string{"a"}, PaymentMethod: model.PaymentMethodCredit})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(ctx, res.Purchase.ID, Viewer{WorkspaceID: "intruder"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Get(ctx, "nope", Viewer{WorkspaceID: "ws"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	detail, err := svc.Get(ctx, res.Purchase.ID, Viewer{WorkspaceID: "ws"})
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Leads) != 1 || detail.Leads[0].Email != "jane@example.com" {
		t.Fatalf("leads got=%+v", detail.Leads)
	}
	if _, err := svc.Get(ctx, res.Purchase.ID, Viewer{Admin: true}); err != nil {
		t.Fatalf("admin read err=%v", err)
	}
}
