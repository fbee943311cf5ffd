package service

import (
	"context"
	"testing"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository/memory"
)

func TestNotifyOncePerPurchase(t *testing.T) {
	ctx := context.Background()
	svc := NewNotificationService(memory.New().Notifications(), nil)
	pid := "p1"
	for i := 0; i < 3; i++ {
		svc.Notify(ctx, "buyer", model.NotificationTypePurchaseCompleted, "Purchase completed", "", &pid)
	}
	svc.Notify(ctx, "buyer", model.NotificationTypeCommissionAccrued, "Commission accrued", "", &pid)
	svc.Notify(ctx, "buyer", "announcement", "Welcome", "", nil)
	svc.Notify(ctx, "buyer", "announcement", "Welcome", "", nil)
	svc.Notify(ctx, "", "announcement", "nobody", "", nil)

	list, unread, err := svc.List(ctx, "buyer", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 || unread != 4 {
		t.Fatalf("got list=%d unread=%d want 4/4", len(list), unread)
	}
	if list[0].Type != "announcement" {
		t.Fatalf("newest first got=%s", list[0].Type)
	}

	if err := svc.MarkAllRead(ctx, "buyer"); err != nil {
		t.Fatal(err)
	}
	list, unread, err = svc.List(ctx, "buyer", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 || unread != 0 {
		t.Fatalf("after read got list=%d unread=%d", len(list), unread)
	}
	all, _, _ := svc.List(ctx, "buyer", false, 2)
	if len(all) != 2 || all[0].ReadAt == nil {
		t.Fatalf("page got=%d", len(all))
	}
}
