package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
)

type notificationRepo struct{ s *Store }

func (r notificationRepo) Create(_ context.Context, n *model.Notification) (bool, error) {
	created := false
	err := r.s.run(func(st *state) error {
		if n.DedupeKey != nil {
			for _, x := range st.notifications {
				if x.DedupeKey != nil && *x.DedupeKey == *n.DedupeKey {
					return nil
				}
			}
		}
		st.nextNotificationID++
		n.ID = st.nextNotificationID
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now()
		}
		st.notifications = append(st.notifications, *n)
		created = true
		return nil
	})
	return created, err
}

func (r notificationRepo) ListByUser(_ context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	limit = repository.NotificationPageSize(limit)
	var out []model.Notification
	err := r.s.read(func(st *state) error {
		for i := len(st.notifications) - 1; i >= 0 && len(out) < limit; i-- {
			n := st.notifications[i]
			if n.UserUID != userUID || (unreadOnly && n.ReadAt != nil) {
				continue
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func (r notificationRepo) MarkAllRead(_ context.Context, userUID string, at time.Time) error {
	return r.s.run(func(st *state) error {
		for i := range st.notifications {
			if st.notifications[i].UserUID == userUID && st.notifications[i].ReadAt == nil {
				t := at
				st.notifications[i].ReadAt = &t
			}
		}
		return nil
	})
}

func (r notificationRepo) CountUnread(_ context.Context, userUID string) (int64, error) {
	var n int64
	err := r.s.read(func(st *state) error {
		for _, x := range st.notifications {
			if x.UserUID == userUID && x.ReadAt == nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

type webhookRepo struct{ s *Store }

func (r webhookRepo) CreateEndpoint(_ context.Context, e *model.WebhookEndpoint) error {
	return r.s.run(func(st *state) error {
		st.nextEndpointID++
		e.ID = st.nextEndpointID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		st.endpoints = append(st.endpoints, *e)
		return nil
	})
}

func (r webhookRepo) ListEndpoints(_ context.Context, ownerType, ownerID string) ([]model.WebhookEndpoint, error) {
	var out []model.WebhookEndpoint
	err := r.s.read(func(st *state) error {
		for _, e := range st.endpoints {
			if e.OwnerType == ownerType && e.OwnerID == ownerID && e.Active {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r webhookRepo) FindEndpoint(_ context.Context, id uint64) (*model.WebhookEndpoint, error) {
	var out *model.WebhookEndpoint
	err := r.s.read(func(st *state) error {
		for _, e := range st.endpoints {
			if e.ID == id {
				cp := e
				out = &cp
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r webhookRepo) EnqueueDelivery(_ context.Context, d *model.NotificationDelivery) (bool, error) {
	created := false
	err := r.s.run(func(st *state) error {
		for _, existing := range st.deliveries {
			if existing.EventID == d.EventID && existing.Target == d.Target {
				return nil
			}
		}
		st.nextDeliveryID++
		d.ID = st.nextDeliveryID
		now := time.Now()
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		st.deliveries[d.ID] = *d
		created = true
		return nil
	})
	return created, err
}

func (r webhookRepo) FindDelivery(_ context.Context, id uint64) (*model.NotificationDelivery, error) {
	var out *model.NotificationDelivery
	err := r.s.read(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func due(d model.NotificationDelivery, now time.Time) bool {
	if d.Status != model.DeliveryStatusPending && d.Status != model.DeliveryStatusRetrying {
		return false
	}
	return d.NextAttemptAt == nil || !d.NextAttemptAt.After(now)
}

func (r webhookRepo) ClaimDelivery(_ context.Context, id uint64, now, leaseUntil time.Time) (bool, error) {
	claimed := false
	err := r.s.run(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok || !due(d, now) {
			return nil
		}
		lease := leaseUntil
		d.NextAttemptAt = &lease
		st.deliveries[id] = d
		claimed = true
		return nil
	})
	return claimed, err
}

func (r webhookRepo) SaveDelivery(_ context.Context, d *model.NotificationDelivery) error {
	return r.s.run(func(st *state) error {
		if _, ok := st.deliveries[d.ID]; !ok {
			return repository.ErrNotFound
		}
		d.UpdatedAt = time.Now()
		st.deliveries[d.ID] = *d
		return nil
	})
}

func (r webhookRepo) ListDue(_ context.Context, now time.Time, limit int) ([]model.NotificationDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.NotificationDelivery
	err := r.s.read(func(st *state) error {
		for _, d := range st.deliveries {
			if due(d, now) {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r webhookRepo) ListByStatus(_ context.Context, status model.DeliveryStatus, limit int) ([]model.NotificationDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []model.NotificationDelivery
	err := r.s.read(func(st *state) error {
		for _, d := range st.deliveries {
			if d.Status == status {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r webhookRepo) Requeue(_ context.Context, id uint64, now time.Time) error {
	return r.s.run(func(st *state) error {
		d, ok := st.deliveries[id]
		if !ok {
			return repository.ErrNotFound
		}
		if d.Status != model.DeliveryStatusDead {
			return repository.ErrConflict
		}
		at := now
		d.Status = model.DeliveryStatusPending
		d.Attempts = 0
		d.NextAttemptAt = &at
		d.DeadAt = nil
		d.UpdatedAt = now
		st.deliveries[id] = d
		return nil
	})
}
