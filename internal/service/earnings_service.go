package service

import (
	"context"
	"errors"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/commission"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shopspring/decimal"
)

type EarningsSummary struct {
	PartnerID     string                 `json:"partner_id"`
	HeldTotal     decimal.Decimal        `json:"held_total"`
	PayableTotal  decimal.Decimal        `json:"payable_total"`
	MinimumPayout decimal.Decimal        `json:"minimum_payout"`
	PayoutReady   bool                   `json:"payout_ready"`
	NextPayableAt *time.Time             `json:"next_payable_at,omitempty"`
	Earnings      []model.PartnerEarning `json:"earnings"`
}

type EarningsService interface {
	// ForOwner summarizes the earnings of the partner owned by uid.
	ForOwner(ctx context.Context, uid string) (*EarningsSummary, error)
}

type earningsService struct {
	store repository.Store
	now   func() time.Time
}

func NewEarningsService(store repository.Store) EarningsService {
	return &earningsService{store: store, now: time.Now}
}

func (s *earningsService) ForOwner(ctx context.Context, uid string) (*EarningsSummary, error) {
	partner, err := s.store.Partners().FindByOwner(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	list, err := s.store.Earnings().ListByPartner(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	return summarize(partner.ID, list, s.now()), nil
}

func summarize(partnerID string, list []model.PartnerEarning, now time.Time) *EarningsSummary {
	sum := &EarningsSummary{
		PartnerID:     partnerID,
		HeldTotal:     decimal.Zero,
		PayableTotal:  decimal.Zero,
		MinimumPayout: commission.MinPayoutAmount,
		Earnings:      list,
	}
	if sum.Earnings == nil {
		sum.Earnings = []model.PartnerEarning{}
	}
	for _, e := range list {
		if e.Payable(now) {
			sum.PayableTotal = sum.PayableTotal.Add(e.Amount)
			continue
		}
		sum.HeldTotal = sum.HeldTotal.Add(e.Amount)
		if sum.NextPayableAt == nil || e.PayableAt.Before(*sum.NextPayableAt) {
			at := e.PayableAt
			sum.NextPayableAt = &at
		}
	}
	sum.PayoutReady = commission.MeetsMinimumPayout(sum.PayableTotal)
	return sum
}
