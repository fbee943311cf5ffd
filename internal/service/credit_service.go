package service

import (
	"context"
	"strings"

	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreditService interface {
	Balance(ctx context.Context, workspaceID string) (decimal.Decimal, error)
	Entries(ctx context.Context, workspaceID string, limit int) ([]model.CreditLedgerEntry, error)
	// Grant adds credits to a workspace and returns the ledger entry.
	Grant(ctx context.Context, workspaceID string, amount decimal.Decimal, note string) (*model.CreditLedgerEntry, error)
}

type creditService struct {
	store repository.Store
	ids   *idgen.Generator
	log   *zap.Logger
}

func NewCreditService(store repository.Store, ids *idgen.Generator, log *zap.Logger) CreditService {
	if log == nil {
		log = zap.NewNop()
	}
	return &creditService{store: store, ids: ids, log: log.Named("credits")}
}

func (s *creditService) Balance(ctx context.Context, workspaceID string) (decimal.Decimal, error) {
	if workspaceID == "" {
		return decimal.Zero, invalidInput("workspace is required")
	}
	return s.store.Credits().Balance(ctx, workspaceID)
}

func (s *creditService) Entries(ctx context.Context, workspaceID string, limit int) ([]model.CreditLedgerEntry, error) {
	if workspaceID == "" {
		return nil, invalidInput("workspace is required")
	}
	return s.store.Credits().ListEntries(ctx, workspaceID, limit)
}

func (s *creditService) Grant(ctx context.Context, workspaceID string, amount decimal.Decimal, note string) (*model.CreditLedgerEntry, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, invalidInput("workspace is required")
	}
	if !amount.IsPositive() {
		return nil, invalidInput("grant amount must be positive")
	}
	entry := &model.CreditLedgerEntry{
		ID:          s.ids.LedgerID(),
		WorkspaceID: workspaceID,
		EntryType:   model.LedgerEntryGrant,
		Amount:      amount.Round(model.MoneyScale),
		Note:        note,
	}
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		return tx.Credits().Apply(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("credits granted",
		zap.String("workspace_id", workspaceID),
		zap.String("amount", entry.Amount.StringFixed(2)),
		zap.String("balance_after", entry.BalanceAfter.StringFixed(2)))
	return entry, nil
}
