package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/metrics"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/notify"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventPurchaseCompleted = "purchase.completed"
	EventCommissionAccrued = "commission.accrued"

	DefaultMaxAttempts = 5
	defaultQueueSize   = 256
	sweepBatch         = 100
	maxErrorLen        = 500
)

// DefaultRetryLadder is the wait after the 1st, 2nd, ... failed attempt.
// The last step repeats when attempts outnumber the ladder.
var DefaultRetryLadder = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

// NextRetry returns the wait after the given number of failed attempts.
func NextRetry(ladder []time.Duration, attempts int) time.Duration {
	if len(ladder) == 0 {
		return time.Minute
	}
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(ladder) {
		i = len(ladder) - 1
	}
	return ladder[i]
}

// EventEnvelope is the outbound notification body.
type EventEnvelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type PurchaseCompletedData struct {
	PurchaseID        string          `json:"purchase_id"`
	WorkspaceID       string          `json:"workspace_id"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	LeadCount         int             `json:"lead_count"`
	PaymentMethod     string          `json:"payment_method"`
	CompletedAt       *time.Time      `json:"completed_at"`
	DownloadURL       string          `json:"download_url,omitempty"`
	DownloadExpiresAt *time.Time      `json:"download_expires_at,omitempty"`
}

type CommissionItemData struct {
	LeadID  string          `json:"lead_id"`
	Rate    decimal.Decimal `json:"rate"`
	Amount  decimal.Decimal `json:"amount"`
	Bonuses []string        `json:"bonuses"`
}

type CommissionAccruedData struct {
	PurchaseID  string               `json:"purchase_id"`
	PartnerID   string               `json:"partner_id"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	PayableAt   time.Time            `json:"payable_at"`
	Items       []CommissionItemData `json:"items"`
}

type DispatcherOptions struct {
	// GlobalURL receives every event, signed with GlobalSecret.
	GlobalURL    string
	GlobalSecret string
	KafkaTopic   string
	Ladder       []time.Duration
	MaxAttempts  int
	Workers      int
	QueueSize    int
	// Timeout bounds one delivery and sizes the claim lease.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// DeliveryAdmin is the operator view of deliveries that gave up.
type DeliveryAdmin interface {
	ListDead(ctx context.Context, limit int) ([]model.NotificationDelivery, error)
	Requeue(ctx context.Context, id uint64) error
}

// Dispatcher persists outbound events as deliveries and works them off with
// a bounded worker pool. Undelivered rows are picked up again by DeliverDue.
type Dispatcher struct {
	store         repository.Store
	sender        notify.Sender
	publisher     notify.Publisher
	notifications NotificationService
	log           *zap.Logger
	metrics       *metrics.Metrics

	globalURL    string
	globalSecret string
	kafkaTarget  string
	ladder       []time.Duration
	maxAttempts  int
	workers      int
	lease        time.Duration
	now          func() time.Time

	queue chan uint64
	wg    sync.WaitGroup
}

func NewDispatcher(store repository.Store, sender notify.Sender, publisher notify.Publisher, notifications NotificationService, log *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if len(opts.Ladder) == 0 {
		opts.Ladder = DefaultRetryLadder
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = notify.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Dispatcher{
		store:         store,
		sender:        sender,
		publisher:     publisher,
		notifications: notifications,
		log:           log.Named("dispatcher"),
		metrics:       opts.Metrics,
		globalURL:     opts.GlobalURL,
		globalSecret:  opts.GlobalSecret,
		ladder:        opts.Ladder,
		maxAttempts:   opts.MaxAttempts,
		workers:       opts.Workers,
		lease:         opts.Timeout + 30*time.Second,
		now:           opts.Now,
		queue:         make(chan uint64, opts.QueueSize),
	}
	if publisher != nil {
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "events"
		}
		d.kafkaTarget = "kafka:" + topic
	}
	return d
}

// Start runs the worker pool until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-d.queue:
					// an in-flight delivery finishes even during shutdown
					if err := d.Attempt(context.WithoutCancel(ctx), id); err != nil {
						d.log.Error("delivery attempt failed", zap.Uint64("delivery_id", id), zap.Error(err))
					}
				}
			}
		}()
	}
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(id uint64) {
	select {
	case d.queue <- id:
	default:
		d.log.Debug("delivery queue full, leaving for sweep", zap.Uint64("delivery_id", id))
	}
}

// PurchaseCompleted implements SettlementListener.
func (d *Dispatcher) PurchaseCompleted(ctx context.Context, ev CompletedEvent) {
	p := ev.Purchase
	pid := p.ID
	ts := d.now().UTC()

	if d.notifications != nil {
		d.notifications.Notify(ctx, p.BuyerUserID, model.NotificationTypePurchaseCompleted,
			"Purchase completed", fmt.Sprintf("%d leads are ready to download.", p.LeadCount), &pid)
	}
	var downloadURL string
	if p.DeliveryRef != nil {
		downloadURL = *p.DeliveryRef
	}
	d.enqueueEvent(ctx, EventPurchaseCompleted, p.ID, p.BuyerWorkspaceID, EventEnvelope{
		Event:     EventPurchaseCompleted,
		Timestamp: ts,
		Data: PurchaseCompletedData{
			PurchaseID:        p.ID,
			WorkspaceID:       p.BuyerWorkspaceID,
			TotalPrice:        p.TotalPrice,
			LeadCount:         p.LeadCount,
			PaymentMethod:     string(p.PaymentMethod),
			CompletedAt:       p.CompletedAt,
			DownloadURL:       downloadURL,
			DownloadExpiresAt: p.DeliveryExpiresAt,
		},
	}, model.OwnerTypeWorkspace, p.BuyerWorkspaceID)

	if len(ev.Commissions) == 0 {
		return
	}
	var order []string
	byPartner := make(map[string]*CommissionAccruedData)
	for _, c := range ev.Commissions {
		data, ok := byPartner[c.PartnerID]
		if !ok {
			data = &CommissionAccruedData{PurchaseID: p.ID, PartnerID: c.PartnerID, PayableAt: c.PayableAt}
			byPartner[c.PartnerID] = data
			order = append(order, c.PartnerID)
		}
		data.TotalAmount = data.TotalAmount.Add(c.Amount)
		data.Items = append(data.Items, CommissionItemData{LeadID: c.LeadID, Rate: c.Rate, Amount: c.Amount, Bonuses: c.Bonuses})
	}
	partners, err := d.store.Partners().FindByIDs(ctx, order)
	if err != nil {
		d.log.Warn("partner lookup for notifications failed", zap.String("purchase_id", p.ID), zap.Error(err))
	}
	for _, partnerID := range order {
		data := byPartner[partnerID]
		if owner := partners[partnerID].OwnerUID; owner != "" && d.notifications != nil {
			d.notifications.Notify(ctx, owner, model.NotificationTypeCommissionAccrued, "Commission accrued",
				fmt.Sprintf("You earned $%s on a sale of %d leads.", data.TotalAmount.StringFixed(2), len(data.Items)), &pid)
		}
		d.enqueueEvent(ctx, EventCommissionAccrued, p.ID+":"+partnerID, partnerID, EventEnvelope{
			Event:     EventCommissionAccrued,
			Timestamp: ts,
			Data:      data,
		}, model.OwnerTypePartner, partnerID)
	}
}

func (d *Dispatcher) enqueueEvent(ctx context.Context, eventType, subject, partitionKey string, env EventEnvelope, ownerType, ownerID string) {
	payload, err := json.Marshal(env)
	if err != nil {
		d.log.Error("encode event", zap.String("event", eventType), zap.Error(err))
		return
	}
	eventID := idgen.EventID(eventType, subject)

	var targets []model.NotificationDelivery
	endpoints, err := d.store.Webhooks().ListEndpoints(ctx, ownerType, ownerID)
	if err != nil {
		d.log.Warn("list webhook endpoints", zap.String("owner_id", ownerID), zap.Error(err))
	}
	for _, ep := range endpoints {
		epID := ep.ID
		targets = append(targets, model.NotificationDelivery{Channel: model.DeliveryChannelWebhook, Target: ep.URL, EndpointID: &epID})
	}
	if d.globalURL != "" {
		targets = append(targets, model.NotificationDelivery{Channel: model.DeliveryChannelWebhook, Target: d.globalURL})
	}
	if d.kafkaTarget != "" {
		targets = append(targets, model.NotificationDelivery{Channel: model.DeliveryChannelKafka, Target: d.kafkaTarget})
	}

	for i := range targets {
		del := &targets[i]
		del.EventID = eventID
		del.EventType = eventType
		del.PartitionKey = partitionKey
		del.Payload = payload
		del.Status = model.DeliveryStatusPending
		created, err := d.store.Webhooks().EnqueueDelivery(ctx, del)
		if err != nil {
			d.log.Error("enqueue delivery", zap.String("event", eventType), zap.String("target", del.Target), zap.Error(err))
			continue
		}
		if created {
			d.enqueue(del.ID)
		}
	}
}

// Attempt sends one delivery if it is due and not leased by another worker.
func (d *Dispatcher) Attempt(ctx context.Context, id uint64) error {
	now := d.now()
	claimed, err := d.store.Webhooks().ClaimDelivery(ctx, id, now, now.Add(d.lease))
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	del, err := d.store.Webhooks().FindDelivery(ctx, id)
	if err != nil {
		return err
	}

	code, sendErr := d.send(ctx, del)
	at := d.now()
	del.Attempts++
	del.LastStatusCode = code
	outcome := "delivered"
	switch {
	case sendErr == nil:
		del.Status = model.DeliveryStatusDelivered
		del.DeliveredAt = &at
		del.NextAttemptAt = nil
		del.LastError = ""
	case del.Attempts >= d.maxAttempts:
		outcome = "dead"
		del.Status = model.DeliveryStatusDead
		del.DeadAt = &at
		del.NextAttemptAt = nil
		del.LastError = truncate(sendErr.Error(), maxErrorLen)
		d.log.Warn("notification delivery gave up",
			zap.Uint64("delivery_id", del.ID),
			zap.String("event", del.EventType),
			zap.String("target", del.Target),
			zap.Int("attempts", del.Attempts),
			zap.Error(sendErr))
	default:
		outcome = "retry"
		next := at.Add(NextRetry(d.ladder, del.Attempts))
		del.Status = model.DeliveryStatusRetrying
		del.NextAttemptAt = &next
		del.LastError = truncate(sendErr.Error(), maxErrorLen)
		d.log.Info("notification delivery will retry",
			zap.Uint64("delivery_id", del.ID),
			zap.String("target", del.Target),
			zap.Int("attempts", del.Attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(sendErr))
	}
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues(string(del.Channel), outcome).Inc()
	}
	return d.store.Webhooks().SaveDelivery(ctx, del)
}

func (d *Dispatcher) send(ctx context.Context, del *model.NotificationDelivery) (int, error) {
	switch del.Channel {
	case model.DeliveryChannelKafka:
		if d.publisher == nil {
			return 0, errors.New("kafka publisher not configured")
		}
		return 0, d.publisher.Publish(ctx, del.EventType, del.Payload, del.PartitionKey)
	case model.DeliveryChannelWebhook:
		secret := d.globalSecret
		if del.EndpointID != nil {
			ep, err := d.store.Webhooks().FindEndpoint(ctx, *del.EndpointID)
			if err != nil {
				return 0, fmt.Errorf("load endpoint %d: %w", *del.EndpointID, err)
			}
			secret = ep.Secret
		}
		if secret == "" {
			return 0, errors.New("no signing secret for webhook target")
		}
		return d.sender.Send(ctx, del.Target, secret, del.Payload)
	default:
		return 0, fmt.Errorf("unknown delivery channel %q", del.Channel)
	}
}

// DeliverDue attempts every delivery whose retry time has passed. It returns
// the number of deliveries examined.
func (d *Dispatcher) DeliverDue(ctx context.Context) (int, error) {
	due, err := d.store.Webhooks().ListDue(ctx, d.now(), sweepBatch)
	if err != nil {
		return 0, err
	}
	for _, del := range due {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := d.Attempt(ctx, del.ID); err != nil {
			d.log.Error("delivery attempt failed", zap.Uint64("delivery_id", del.ID), zap.Error(err))
		}
	}
	return len(due), nil
}

func (d *Dispatcher) ListDead(ctx context.Context, limit int) ([]model.NotificationDelivery, error) {
	return d.store.Webhooks().ListByStatus(ctx, model.DeliveryStatusDead, limit)
}

// Requeue gives a dead delivery a fresh attempt budget.
func (d *Dispatcher) Requeue(ctx context.Context, id uint64) error {
	if err := d.store.Webhooks().Requeue(ctx, id, d.now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return ErrNotDead
		}
		return err
	}
	d.enqueue(id)
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
