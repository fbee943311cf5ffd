// Package commission computes the partner share of a lead sale.
//
// Everything here is pure: no I/O and no package state beyond constants.
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BonusFreshSale        = "fresh_sale"
	BonusHighVerification = "high_verification"
	BonusVolume           = "volume"
)

const (
	FreshSaleDays             = 7
	HighVerificationThreshold = 95.0
	HoldbackDays              = 14
)

var (
	BaseRate              = decimal.RequireFromString("0.30")
	FreshSaleBonus        = decimal.RequireFromString("0.10")
	HighVerificationBonus = decimal.RequireFromString("0.05")
	VolumeBonus           = decimal.RequireFromString("0.05")
	MaxRate               = decimal.RequireFromString("0.50")
	MinPayoutAmount       = decimal.NewFromInt(50)
)

const amountPlaces = 4

// Partner is the subset of a partner profile that affects commission.
type Partner struct {
	// BaseCommissionRate replaces BaseRate when non-nil.
	BaseCommissionRate   *decimal.Decimal
	VerificationPassRate float64
	BonusCommissionRate  decimal.Decimal
}

type Input struct {
	SalePrice     decimal.Decimal
	Partner       Partner
	LeadCreatedAt time.Time
	// SaleDate defaults to time.Now when zero.
	SaleDate time.Time
}

type Result struct {
	Rate    decimal.Decimal
	Amount  decimal.Decimal
	Bonuses []string
}

func Calculate(in Input) Result {
	saleDate := in.SaleDate
	if saleDate.IsZero() {
		saleDate = time.Now()
	}

	rate := BaseRate
	if in.Partner.BaseCommissionRate != nil {
		rate = *in.Partner.BaseCommissionRate
	}

	bonuses := make([]string, 0, 3)
	if IsFreshSale(in.LeadCreatedAt, saleDate) {
		bonuses = append(bonuses, BonusFreshSale)
		rate = rate.Add(FreshSaleBonus)
	}
	if in.Partner.VerificationPassRate >= HighVerificationThreshold {
		bonuses = append(bonuses, BonusHighVerification)
		rate = rate.Add(HighVerificationBonus)
	}
	if in.Partner.BonusCommissionRate.IsPositive() {
		bonuses = append(bonuses, BonusVolume)
		rate = rate.Add(VolumeBonus)
	}

	rate = clamp(rate)
	return Result{
		Rate:    rate,
		Amount:  in.SalePrice.Mul(rate).Round(amountPlaces),
		Bonuses: bonuses,
	}
}

// IsFreshSale reports whether the sale happened within FreshSaleDays of the
// lead being created. The boundary is inclusive.
func IsFreshSale(leadCreatedAt, saleDate time.Time) bool {
	if leadCreatedAt.IsZero() {
		return false
	}
	return saleDate.Sub(leadCreatedAt) <= FreshSaleDays*24*time.Hour
}

// PayableDate is when an accrued commission becomes eligible for payout.
func PayableDate(saleDate time.Time) time.Time {
	return saleDate.AddDate(0, 0, HoldbackDays)
}

// MeetsMinimumPayout reports whether a payable total can be paid out.
func MeetsMinimumPayout(total decimal.Decimal) bool {
	return total.GreaterThanOrEqual(MinPayoutAmount)
}

func clamp(rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() {
		return decimal.Zero
	}
	if rate.GreaterThan(MaxRate) {
		return MaxRate
	}
	return rate
}
