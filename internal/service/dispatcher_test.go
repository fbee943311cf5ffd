package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/notify"
	"github.com/shinyyama/leadmarket-backend/internal/signing"
)

type receiver struct {
	mu     sync.Mutex
	status int
	bodies [][]byte
	errs   []error
	secret string
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	codec, _ := signing.New(rc.secret)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errs = append(rc.errs, codec.Verify(r.Header.Get(signing.HeaderName), body))
	rc.bodies = append(rc.bodies, body)
	w.WriteHeader(rc.status)
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Publish(_ context.Context, _ string, _ []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, partitionKey)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func completedEvent() CompletedEvent {
	completed := saleTime
	return CompletedEvent{
		Purchase: model.Purchase{
			ID:               "p1",
			BuyerWorkspaceID: "ws",
			BuyerUserID:      "buyer",
			TotalPrice:       dec("0.40"),
			LeadCount:        2,
			PaymentMethod:    model.PaymentMethodCredit,
			Status:           model.PurchaseStatusCompleted,
			CompletedAt:      &completed,
		},
		Commissions: []AccruedCommission{
			{PartnerID: "partner-1", LineItemID: 1, LeadID: "a", Rate: dec("0.5"), Amount: dec("0.1"), Bonuses: []string{"fresh_sale"}, PayableAt: saleTime.AddDate(0, 0, 14)},
			{PartnerID: "partner-1", LineItemID: 2, LeadID: "b", Rate: dec("0.3"), Amount: dec("0.06"), Bonuses: []string{}, PayableAt: saleTime.AddDate(0, 0, 14)},
		},
	}
}

func TestDispatcherDeliversSignedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPartner(t, model.Partner{ID: "partner-1", OwnerUID: "owner-1"})

	wsRecv := &receiver{status: http.StatusOK, secret: "ws-secret"}
	wsSrv := httptest.NewServer(wsRecv)
	defer wsSrv.Close()
	globalRecv := &receiver{status: http.StatusNoContent, secret: "global-secret"}
	globalSrv := httptest.NewServer(globalRecv)
	defer globalSrv.Close()

	if err := f.store.Webhooks().CreateEndpoint(ctx, &model.WebhookEndpoint{
		OwnerType: model.OwnerTypeWorkspace, OwnerID: "ws", URL: wsSrv.URL, Secret: "ws-secret", Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{}
	notifications := NewNotificationService(f.store.Notifications(), nil)
	d := NewDispatcher(f.store, notify.NewWebhookSender(time.Second), pub, notifications, nil, DispatcherOptions{
		GlobalURL:    globalSrv.URL,
		GlobalSecret: "global-secret",
		KafkaTopic:   "marketplace.events",
	})

	d.PurchaseCompleted(ctx, completedEvent())
	// same event again must not duplicate deliveries
	d.PurchaseCompleted(ctx, completedEvent())

	n, err := d.DeliverDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// purchase.completed: ws endpoint, global, kafka; commission.accrued: global, kafka
	if n != 5 {
		t.Fatalf("deliveries got=%d want=5", n)
	}
	if len(wsRecv.bodies) != 1 || len(globalRecv.bodies) != 2 {
		t.Fatalf("ws=%d global=%d", len(wsRecv.bodies), len(globalRecv.bodies))
	}
	for _, err := range append(wsRecv.errs, globalRecv.errs...) {
		if err != nil {
			t.Fatalf("receiver rejected signature: %v", err)
		}
	}
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(wsRecv.bodies[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventPurchaseCompleted {
		t.Fatalf("event got=%s", env.Event)
	}
	if len(pub.keys) != 2 || pub.keys[0] == "" {
		t.Fatalf("kafka keys got=%v", pub.keys)
	}

	buyer, _, _ := notifications.List(ctx, "buyer", false, 10)
	owner, _, _ := notifications.List(ctx, "owner-1", false, 10)
	if len(buyer) == 0 || len(owner) == 0 {
		t.Fatalf("in-app notifications buyer=%d owner=%d", len(buyer), len(owner))
	}
	if again, _ := d.DeliverDue(ctx); again != 0 {
		t.Fatalf("delivered rows picked up again: %d", again)
	}
}

func TestDispatcherRetryLadderThenDead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recv := &receiver{status: http.StatusBadGateway, secret: "global-secret"}
	srv := httptest.NewServer(recv)
	defer srv.Close()

	now := saleTime
	d := NewDispatcher(f.store, notify.NewWebhookSender(time.Second), nil, nil, nil, DispatcherOptions{
		GlobalURL:    srv.URL,
		GlobalSecret: "global-secret",
		Now:          func() time.Time { return now },
	})
	ev := completedEvent()
	ev.Commissions = nil
	d.PurchaseCompleted(ctx, ev)

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		n, err := d.DeliverDue(ctx)
		if err != nil || n != 1 {
			t.Fatalf("attempt %d: n=%d err=%v", attempt, n, err)
		}
		rows, _ := f.store.Webhooks().ListDue(ctx, now.Add(48*time.Hour), 10)
		if attempt == DefaultMaxAttempts {
			if len(rows) != 0 {
				t.Fatalf("dead delivery still due: %+v", rows)
			}
			break
		}
		if len(rows) != 1 {
			t.Fatalf("attempt %d: due rows=%d", attempt, len(rows))
		}
		del := rows[0]
		wait := NextRetry(DefaultRetryLadder, attempt)
		if del.Status != model.DeliveryStatusRetrying || del.Attempts != attempt || del.LastStatusCode != http.StatusBadGateway {
			t.Fatalf("attempt %d: got=%+v", attempt, del)
		}
		if !del.NextAttemptAt.Equal(now.Add(wait)) {
			t.Fatalf("attempt %d: next got=%v want=%v", attempt, del.NextAttemptAt, now.Add(wait))
		}
		// not due before the ladder step elapses
		now = now.Add(wait - time.Second)
		if n, _ := d.DeliverDue(ctx); n != 0 {
			t.Fatalf("attempt %d: retried early", attempt)
		}
		now = now.Add(time.Second)
	}

	dead, err := d.ListDead(ctx, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("dead=%d err=%v", len(dead), err)
	}
	if dead[0].Attempts != DefaultMaxAttempts || dead[0].DeadAt == nil {
		t.Fatalf("dead row got=%+v", dead[0])
	}
	if len(recv.bodies) != DefaultMaxAttempts {
		t.Fatalf("requests got=%d want=%d", len(recv.bodies), DefaultMaxAttempts)
	}

	if err := d.Requeue(ctx, dead[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := d.Requeue(ctx, dead[0].ID); !errors.Is(err, ErrNotDead) {
		t.Fatalf("second requeue err=%v", err)
	}
	if err := d.Requeue(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown requeue err=%v", err)
	}
	recv.mu.Lock()
	recv.status = http.StatusOK
	recv.mu.Unlock()
	if n, _ := d.DeliverDue(ctx); n != 1 {
		t.Fatalf("requeued delivery not due: %d", n)
	}
	del, _ := f.store.Webhooks().FindDelivery(ctx, dead[0].ID)
	if del.Status != model.DeliveryStatusDelivered || del.Attempts != 1 {
		t.Fatalf("after requeue got=%+v", del)
	}
}

func TestNextRetry(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, 30 * time.Minute},
		{5, time.Hour},
		{9, time.Hour},
		{0, time.Minute},
	}
	for _, tt := range tests {
		if got := NextRetry(DefaultRetryLadder, tt.attempts); got != tt.want {
			t.Fatalf("attempts=%d got=%v want=%v", tt.attempts, got, tt.want)
		}
	}
}

func TestDispatcherWorkerPool(t *testing.T) {
	f := newFixture(t)
	recv := &receiver{status: http.StatusOK, secret: "s"}
	srv := httptest.NewServer(recv)
	defer srv.Close()

	d := NewDispatcher(f.store, notify.NewWebhookSender(time.Second), nil, nil, nil, DispatcherOptions{
		GlobalURL:    srv.URL,
		GlobalSecret: "s",
		Workers:      2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	ev := completedEvent()
	ev.Commissions = nil
	d.PurchaseCompleted(context.Background(), ev)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recv.mu.Lock()
		got := len(recv.bodies)
		recv.mu.Unlock()
		if got == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	d.Wait()
	recv.mu.Lock()
	defer recv.mu.Unlock()
	if len(recv.bodies) != 1 {
		t.Fatalf("worker deliveries got=%d want=1", len(recv.bodies))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"ab日本", 4, "ab"},
		{"ab日本", 5, "ab日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) got=%q want=%q", tt.in, tt.n, got, tt.want)
		}
	}
}
