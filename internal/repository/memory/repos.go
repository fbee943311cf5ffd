package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type purchaseRepo struct{ s *Store }

func (r purchaseRepo) Create(_ context.Context, p *model.Purchase) error {
	return r.s.run(func(st *state) error {
		if _, ok := st.purchases[p.ID]; ok {
			return repository.ErrConflict
		}
		if p.IdempotencyKey != nil {
			for _, existing := range st.purchases {
				if existing.BuyerWorkspaceID == p.BuyerWorkspaceID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *p.IdempotencyKey {
					return repository.ErrConflict
				}
			}
		}
		now := time.Now()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		for i := range p.Items {
			st.nextLineItemID++
			p.Items[i].ID = st.nextLineItemID
			p.Items[i].PurchaseID = p.ID
			if p.Items[i].CreatedAt.IsZero() {
				p.Items[i].CreatedAt = now
			}
		}
		st.purchases[p.ID] = copyPurchase(*p)
		return nil
	})
}

func (r purchaseRepo) find(id string) (*model.Purchase, error) {
	var out *model.Purchase
	err := r.s.read(func(st *state) error {
		p, ok := st.purchases[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := copyPurchase(p)
		out = &cp
		return nil
	})
	return out, err
}

func (r purchaseRepo) FindByID(_ context.Context, id string) (*model.Purchase, error) {
	return r.find(id)
}

func (r purchaseRepo) FindByIdempotencyKey(_ context.Context, workspaceID, key string) (*model.Purchase, error) {
	var out *model.Purchase
	err := r.s.read(func(st *state) error {
		for _, p := range st.purchases {
			if p.BuyerWorkspaceID == workspaceID && p.IdempotencyKey != nil && *p.IdempotencyKey == key {
				cp := copyPurchase(p)
				out = &cp
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

// LockByID relies on transactions being serialized.
func (r purchaseRepo) LockByID(_ context.Context, id string) (*model.Purchase, error) {
	return r.find(id)
}

func (r purchaseRepo) ListByWorkspace(_ context.Context, workspaceID string, limit int) ([]model.Purchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []model.Purchase
	err := r.s.read(func(st *state) error {
		for _, p := range st.purchases {
			if p.BuyerWorkspaceID == workspaceID {
				out = append(out, copyPurchase(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r purchaseRepo) SetPaymentRef(_ context.Context, id, ref, checkoutURL string) error {
	return r.s.run(func(st *state) error {
		p, ok := st.purchases[id]
		if !ok || p.Status != model.PurchaseStatusPending {
			return repository.ErrConflict
		}
		p.PaymentRef = &ref
		p.CheckoutURL = &checkoutURL
		p.UpdatedAt = time.Now()
		st.purchases[id] = p
		return nil
	})
}

func (r purchaseRepo) Complete(_ context.Context, id string, params repository.CompleteParams) error {
	return r.s.run(func(st *state) error {
		p, ok := st.purchases[id]
		if !ok || p.Status != model.PurchaseStatusPending {
			return repository.ErrConflict
		}
		completedAt := params.CompletedAt
		ref := params.DeliveryRef
		expires := params.DeliveryExpiresAt
		p.Status = model.PurchaseStatusCompleted
		p.CompletedAt = &completedAt
		p.DeliveryRef = &ref
		p.DeliveryExpiresAt = &expires
		if params.PaymentRef != "" {
			paymentRef := params.PaymentRef
			p.PaymentRef = &paymentRef
		}
		p.UpdatedAt = time.Now()
		st.purchases[id] = p
		return nil
	})
}

func (r purchaseRepo) Fail(_ context.Context, id, reason string, at time.Time) error {
	return r.s.run(func(st *state) error {
		p, ok := st.purchases[id]
		if !ok || p.Status != model.PurchaseStatusPending {
			return repository.ErrConflict
		}
		p.Status = model.PurchaseStatusFailed
		p.FailureReason = reason
		p.FailedAt = &at
		p.UpdatedAt = time.Now()
		st.purchases[id] = p
		return nil
	})
}

func (r purchaseRepo) SaveCommission(_ context.Context, lineItemID uint64, snap repository.CommissionSnapshot) error {
	return r.s.run(func(st *state) error {
		for id, p := range st.purchases {
			for i, it := range p.Items {
				if it.ID != lineItemID {
					continue
				}
				if it.CommissionedAt != nil {
					return repository.ErrConflict
				}
				rate := snap.Rate
				amount := snap.Amount
				at := snap.Computed
				it.CommissionRate = &rate
				it.CommissionAmount = &amount
				it.CommissionBonuses = datatypes.NewJSONSlice(append([]string{}, snap.Bonuses...))
				it.CommissionedAt = &at
				p.Items[i] = it
				st.purchases[id] = p
				return nil
			}
		}
		return repository.ErrConflict
	})
}

type leadRepo struct{ s *Store }

func (r leadRepo) Create(_ context.Context, leads []model.Lead) error {
	return r.s.run(func(st *state) error {
		for _, l := range leads {
			if _, ok := st.leads[l.ID]; ok {
				return repository.ErrConflict
			}
		}
		now := time.Now()
		for _, l := range leads {
			if l.CreatedAt.IsZero() {
				l.CreatedAt = now
			}
			if l.AvailabilityStatus == "" {
				l.AvailabilityStatus = model.LeadStatusAvailable
			}
			l.UpdatedAt = now
			st.leads[l.ID] = l
		}
		return nil
	})
}

func (r leadRepo) FindByIDs(_ context.Context, ids []string) ([]model.Lead, error) {
	out := make([]model.Lead, 0, len(ids))
	err := r.s.read(func(st *state) error {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if l, ok := st.leads[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r leadRepo) LockByIDs(ctx context.Context, ids []string) ([]model.Lead, error) {
	return r.FindByIDs(ctx, ids)
}

func (r leadRepo) MarkSold(_ context.Context, ids []string, at time.Time) error {
	return r.s.run(func(st *state) error {
		for _, id := range ids {
			l, ok := st.leads[id]
			if !ok || l.AvailabilityStatus != model.LeadStatusAvailable {
				return repository.ErrConflict
			}
		}
		for _, id := range ids {
			l := st.leads[id]
			soldAt := at
			l.AvailabilityStatus = model.LeadStatusSold
			l.SoldCount++
			l.SoldAt = &soldAt
			l.UpdatedAt = time.Now()
			st.leads[id] = l
		}
		return nil
	})
}

func (r leadRepo) List(_ context.Context, availableOnly bool, limit, offset int) ([]model.Lead, int64, error) {
	var all []model.Lead
	err := r.s.read(func(st *state) error {
		for _, l := range st.leads {
			if availableOnly && !l.Available() {
				continue
			}
			all = append(all, l)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Lead{}, total, err
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, err
}

type partnerRepo struct{ s *Store }

func (r partnerRepo) FindByIDs(_ context.Context, ids []string) (map[string]model.Partner, error) {
	out := make(map[string]model.Partner, len(ids))
	err := r.s.read(func(st *state) error {
		for _, id := range ids {
			if p, ok := st.partners[id]; ok {
				out[id] = p
			}
		}
		return nil
	})
	return out, err
}

func (r partnerRepo) FindByOwner(_ context.Context, uid string) (*model.Partner, error) {
	var out *model.Partner
	err := r.s.read(func(st *state) error {
		for _, p := range st.partners {
			if p.OwnerUID == uid {
				cp := p
				out = &cp
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r partnerRepo) Upsert(_ context.Context, p *model.Partner) error {
	return r.s.run(func(st *state) error {
		now := time.Now()
		if existing, ok := st.partners[p.ID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		st.partners[p.ID] = *p
		return nil
	})
}

type earningRepo struct{ s *Store }

func (r earningRepo) Create(_ context.Context, e *model.PartnerEarning) error {
	return r.s.run(func(st *state) error {
		for _, existing := range st.earnings {
			if existing.LineItemID == e.LineItemID {
				return repository.ErrConflict
			}
		}
		st.nextEarningID++
		e.ID = st.nextEarningID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		st.earnings = append(st.earnings, *e)
		return nil
	})
}

func (r earningRepo) ListByPartner(_ context.Context, partnerID string) ([]model.PartnerEarning, error) {
	var out []model.PartnerEarning
	err := r.s.read(func(st *state) error {
		for _, e := range st.earnings {
			if e.PartnerID == partnerID {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccruedAt.Equal(out[j].AccruedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AccruedAt.After(out[j].AccruedAt)
	})
	return out, err
}

type creditRepo struct{ s *Store }

func (r creditRepo) Balance(_ context.Context, workspaceID string) (decimal.Decimal, error) {
	bal := decimal.Zero
	err := r.s.read(func(st *state) error {
		if b, ok := st.balances[workspaceID]; ok {
			bal = b.Balance
		}
		return nil
	})
	return bal, err
}

func (r creditRepo) LockBalance(ctx context.Context, workspaceID string) (decimal.Decimal, error) {
	return r.Balance(ctx, workspaceID)
}

func (r creditRepo) Apply(_ context.Context, entry *model.CreditLedgerEntry) error {
	return r.s.run(func(st *state) error {
		if entry.PurchaseID != nil {
			for _, e := range st.ledger {
				if e.PurchaseID != nil && *e.PurchaseID == *entry.PurchaseID && e.EntryType == entry.EntryType {
					return repository.ErrConflict
				}
			}
		}
		now := time.Now()
		bal, ok := st.balances[entry.WorkspaceID]
		if !ok {
			bal = model.CreditBalance{WorkspaceID: entry.WorkspaceID, Balance: decimal.Zero, CreatedAt: now}
		}
		next := bal.Balance.Add(entry.Amount)
		if next.IsNegative() {
			return repository.ErrInsufficientBalance
		}
		bal.Balance = next
		bal.UpdatedAt = now
		st.balances[entry.WorkspaceID] = bal
		entry.BalanceAfter = next
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		st.ledger = append(st.ledger, *entry)
		return nil
	})
}

func (r creditRepo) ListEntries(_ context.Context, workspaceID string, limit int) ([]model.CreditLedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []model.CreditLedgerEntry
	err := r.s.read(func(st *state) error {
		for i := len(st.ledger) - 1; i >= 0 && len(out) < limit; i-- {
			if st.ledger[i].WorkspaceID == workspaceID {
				out = append(out, st.ledger[i])
			}
		}
		return nil
	})
	return out, err
}
