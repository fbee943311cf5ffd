package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shinyyama/leadmarket-backend/internal/logger"
	"github.com/shinyyama/leadmarket-backend/internal/metrics"
	"github.com/shinyyama/leadmarket-backend/internal/signing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// PaymentEvent is the processor's confirmation body.
type PaymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PurchaseID      string `json:"purchase_id"`
		PaymentIntentID string `json:"payment_intent_id"`
		Amount          string `json:"amount"`
	} `json:"data"`
}

type PaymentEventOutcome struct {
	EventID    string
	Type       string
	PurchaseID string
	// Ignored events are acknowledged without touching any purchase.
	Ignored    bool
	Settlement *SettlementResult
}

type PaymentEventService interface {
	// Handle verifies the signature header over the raw body before any
	// purchase is touched. Duplicate deliveries succeed.
	Handle(ctx context.Context, signatureHeader string, body []byte) (*PaymentEventOutcome, error)
}

type paymentEventService struct {
	codec      *signing.Codec
	settlement SettlementService
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewPaymentEventService(codec *signing.Codec, settlement SettlementService, m *metrics.Metrics, log *zap.Logger) PaymentEventService {
	if log == nil {
		log = zap.NewNop()
	}
	return &paymentEventService{codec: codec, settlement: settlement, metrics: m, log: log.Named("payment_events")}
}

func (s *paymentEventService) Handle(ctx context.Context, signatureHeader string, body []byte) (*PaymentEventOutcome, error) {
	if err := s.codec.Verify(signatureHeader, body); err != nil {
		reason := signatureFailureReason(err)
		if s.metrics != nil {
			s.metrics.SignatureFailures.WithLabelValues(reason).Inc()
		}
		s.log.Warn("payment event rejected",
			logger.SecurityEvent(),
			zap.String("reason", reason),
			logger.Redact("signature", signatureHeader),
			zap.Int("body_bytes", len(body)))
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, reason)
	}

	var ev PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, invalidInput("payment event is not valid JSON")
	}
	out := &PaymentEventOutcome{EventID: ev.ID, Type: ev.Type, PurchaseID: strings.TrimSpace(ev.Data.PurchaseID)}
	if ev.Type != EventPaymentSucceeded && ev.Type != EventPaymentFailed {
		s.log.Debug("payment event type ignored", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		out.Ignored = true
		return out, nil
	}
	if out.PurchaseID == "" {
		return nil, invalidInput("payment event has no purchase_id")
	}

	var (
		res *SettlementResult
		err error
	)
	if ev.Type == EventPaymentSucceeded {
		confirm := &CardConfirmation{PaymentRef: ev.Data.PaymentIntentID}
		if ev.Data.Amount != "" {
			amt, perr := decimal.NewFromString(ev.Data.Amount)
			if perr != nil {
				return nil, invalidInput("payment event amount is not a number")
			}
			confirm.Amount = &amt
		}
		res, err = s.settlement.Settle(ctx, out.PurchaseID, confirm)
	} else {
		res, err = s.settlement.FailCard(ctx, out.PurchaseID, ReasonPaymentFailed)
	}
	if err != nil {
		if ev.Type == EventPaymentFailed && errors.Is(err, ErrPaymentMismatch) {
			s.log.Warn("payment failure event for non-card purchase",
				zap.String("event_id", ev.ID), zap.String("purchase_id", out.PurchaseID))
			out.Ignored = true
			return out, nil
		}
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("payment event for unknown purchase",
				zap.String("event_id", ev.ID), zap.String("purchase_id", out.PurchaseID))
			out.Ignored = true
			return out, nil
		}
		return nil, err
	}
	out.Settlement = res
	s.log.Info("payment event applied",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("purchase_id", out.PurchaseID),
		zap.String("status", string(res.Status)),
		zap.Bool("already_completed", res.AlreadyCompleted))
	return out, nil
}

func signatureFailureReason(err error) string {
	switch {
	case errors.Is(err, signing.ErrMissingHeader):
		return "missing"
	case errors.Is(err, signing.ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, signing.ErrTimestampOutOfRange):
		return "stale"
	case errors.Is(err, signing.ErrSignatureMismatch):
		return "mismatch"
	}
	return "other"
}
