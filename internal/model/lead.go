package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LeadStatus string

const (
	LeadStatusAvailable LeadStatus = "available"
	LeadStatusSold      LeadStatus = "sold"
)

// DefaultLeadPrice applies to leads uploaded without a list price.
var DefaultLeadPrice = decimal.RequireFromString("0.05")

type Lead struct {
	ID                 string          `gorm:"primaryKey;size:36"`
	PartnerID          *string         `gorm:"column:partner_id;size:64;index"`
	FirstName          string          `gorm:"column:first_name;size:120"`
	LastName           string          `gorm:"column:last_name;size:120"`
	Email              string          `gorm:"column:email;size:255"`
	Phone              string          `gorm:"column:phone;size:64"`
	CompanyName        string          `gorm:"column:company_name;size:255"`
	CompanyIndustry    string          `gorm:"column:company_industry;size:120"`
	CompanyLocation    string          `gorm:"column:company_location;size:255"`
	Price              decimal.Decimal `gorm:"column:price;type:decimal(12,4);not null;default:0"`
	AvailabilityStatus LeadStatus      `gorm:"column:availability_status;size:16;index;not null;default:available"`
	SoldCount          int             `gorm:"column:sold_count;not null;default:0"`
	SoldAt             *time.Time      `gorm:"column:sold_at"`
	CreatedAt          time.Time       `gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime"`
}

func (Lead) TableName() string {
	return "leads"
}

// ListPrice is the price a buyer pays for the lead today.
func (l Lead) ListPrice() decimal.Decimal {
	if l.Price.IsPositive() {
		return l.Price
	}
	return DefaultLeadPrice
}

func (l Lead) Available() bool {
	return l.AvailabilityStatus == LeadStatusAvailable
}
