package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/logger"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shinyyama/leadmarket-backend/internal/storage"
	"go.uber.org/zap"
)

const exportContentType = "text/csv; charset=utf-8"

var exportHeader = []string{
	"lead_id", "first_name", "last_name", "email", "phone",
	"company_name", "company_industry", "company_location", "price",
}

type Export struct {
	Filename string
	Data     []byte
}

// ExportService renders the delivery artifact of a completed purchase.
type ExportService interface {
	Download(ctx context.Context, purchaseID string, viewer Viewer) (*Export, error)
}

type exportService struct {
	store     repository.Store
	artifacts storage.ArtifactStore
	log       *zap.Logger
	now       func() time.Time
}

func NewExportService(store repository.Store, artifacts storage.ArtifactStore, log *zap.Logger) ExportService {
	if log == nil {
		log = zap.NewNop()
	}
	return &exportService{store: store, artifacts: artifacts, log: log.Named("export"), now: time.Now}
}

func exportPath(purchaseID string) string {
	return "exports/" + purchaseID + ".csv"
}

func (s *exportService) Download(ctx context.Context, purchaseID string, viewer Viewer) (*Export, error) {
	p, err := s.store.Purchases().FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !viewer.Admin && p.BuyerWorkspaceID != viewer.WorkspaceID {
		return nil, ErrForbidden
	}
	if p.Status != model.PurchaseStatusCompleted {
		return nil, ErrNotCompleted
	}
	if p.DeliveryExpiresAt != nil && s.now().After(*p.DeliveryExpiresAt) {
		return nil, ErrArtifactExpired
	}

	filename := fmt.Sprintf("leads-%s.csv", p.ID)
	path := exportPath(p.ID)
	data, err := s.artifacts.Get(ctx, path)
	if err == nil {
		return &Export{Filename: filename, Data: data}, nil
	}
	if !errors.Is(err, storage.ErrNotExist) {
		s.log.Warn("artifact read failed, rendering again", zap.String("purchase_id", p.ID), zap.Error(err))
	}

	leads, err := s.store.Leads().FindByIDs(ctx, p.LeadIDs())
	if err != nil {
		return nil, err
	}
	ordered := orderLeads(leads, p.LeadIDs())
	data, err = renderCSV(p, ordered)
	if err != nil {
		return nil, err
	}
	s.log.Info("export rendered",
		zap.String("purchase_id", p.ID),
		zap.Int("leads", len(ordered)),
		zap.Strings("contacts", maskedContacts(ordered, 3)))
	if err := s.artifacts.Put(ctx, path, exportContentType, data); err != nil {
		s.log.Warn("artifact not archived", zap.String("purchase_id", p.ID), zap.String("path", path), zap.Error(err))
	}
	return &Export{Filename: filename, Data: data}, nil
}

func renderCSV(p *model.Purchase, leads []model.Lead) ([]byte, error) {
	prices := make(map[string]string, len(p.Items))
	for _, it := range p.Items {
		prices[it.LeadID] = it.PriceAtPurchase.StringFixed(model.MoneyScale)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, l := range leads {
		if err := w.Write([]string{
			l.ID, l.FirstName, l.LastName, l.Email, l.Phone,
			l.CompanyName, l.CompanyIndustry, l.CompanyLocation, prices[l.ID],
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// maskedContacts returns up to n masked lead e-mails for audit logs.
func maskedContacts(leads []model.Lead, n int) []string {
	out := make([]string, 0, n)
	for _, l := range leads {
		if len(out) == n {
			break
		}
		if l.Email != "" {
			out = append(out, logger.MaskEmail(l.Email))
		}
	}
	return out
}
