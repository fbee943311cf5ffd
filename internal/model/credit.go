package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept in money columns.
const MoneyScale = 4

type CreditBalance struct {
	WorkspaceID string          `gorm:"column:workspace_id;primaryKey;size:128"`
	Balance     decimal.Decimal `gorm:"column:balance;type:decimal(14,4);not null;default:0"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (CreditBalance) TableName() string {
	return "credit_balances"
}

type LedgerEntryType string

const (
	LedgerEntryPurchase LedgerEntryType = "purchase"
	LedgerEntryGrant    LedgerEntryType = "grant"
)

// CreditLedgerEntry records every balance movement. Purchase debits are unique
// per purchase.
type CreditLedgerEntry struct {
	ID           int64           `gorm:"primaryKey;autoIncrement:false"`
	WorkspaceID  string          `gorm:"column:workspace_id;size:128;index;not null"`
	PurchaseID   *string         `gorm:"column:purchase_id;size:36;uniqueIndex:idx_ledger_purchase_type,priority:1"`
	EntryType    LedgerEntryType `gorm:"column:entry_type;size:16;not null;uniqueIndex:idx_ledger_purchase_type,priority:2"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(14,4);not null"`
	BalanceAfter decimal.Decimal `gorm:"column:balance_after;type:decimal(14,4);not null"`
	Note         string          `gorm:"column:note;size:255"`
	CreatedAt    time.Time       `gorm:"autoCreateTime"`
}

func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}
