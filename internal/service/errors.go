package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("not_found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid_input")
	ErrLeadsUnavailable    = errors.New("leads_unavailable")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrPaymentMismatch     = errors.New("payment_mismatch")
	ErrPaymentUnavailable  = errors.New("card_payments_unavailable")
	ErrPaymentGateway      = errors.New("payment_gateway_error")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrNotCompleted        = errors.New("purchase_not_completed")
	ErrArtifactExpired     = errors.New("artifact_expired")
	ErrNotDead             = errors.New("delivery_not_dead")
)

// InsufficientCreditsError carries the amounts shown to the buyer.
type InsufficientCreditsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %s, available %s", e.Required.StringFixed(model.MoneyScale), e.Available.StringFixed(model.MoneyScale))
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// LeadsUnavailableError names the leads that can no longer be sold.
type LeadsUnavailableError struct {
	LeadIDs []string
}

func (e *LeadsUnavailableError) Error() string {
	return "some leads no longer available: " + strings.Join(e.LeadIDs, ",")
}

func (e *LeadsUnavailableError) Unwrap() error { return ErrLeadsUnavailable }

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
