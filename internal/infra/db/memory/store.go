// Package memory is a process-local implementation of the vault repositories.
// It backs -dev runs without a database and the usecase/API tests, and keeps
// the same contracts as the Postgres repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/repository"
)

var (
	_ repository.PlanRepository = (*PlanRepo)(nil)
	_ repository.CodeRepository = (*CodeRepo)(nil)
)

type naturalKey struct {
	name   string
	sizing int
	price  int64
}

func keyOf(p *model.Plan) naturalKey {
	return naturalKey{name: p.NameKey, sizing: p.Sizing, price: p.Price}
}

// Store holds all vault state behind a single mutex, which makes every
// operation linearizable.
type Store struct {
	mu       sync.Mutex
	plans    map[string]*model.Plan
	byKey    map[naturalKey]string
	codes    map[string]*model.Code // by code id
	byFinger map[string]string      // planID + "\x00" + fingerprint -> code id
	receipts map[string]*model.ClaimReceipt
}

func NewStore() *Store {
	return &Store{
		plans:    make(map[string]*model.Plan),
		byKey:    make(map[naturalKey]string),
		codes:    make(map[string]*model.Code),
		byFinger: make(map[string]string),
		receipts: make(map[string]*model.ClaimReceipt),
	}
}

func fingerKey(planID, fp string) string { return planID + "\x00" + fp }

// PlanRepo and CodeRepo are views over the same Store.
type PlanRepo struct{ s *Store }
type CodeRepo struct{ s *Store }

func (s *Store) Plans() *PlanRepo { return &PlanRepo{s: s} }
func (s *Store) Codes() *CodeRepo { return &CodeRepo{s: s} }

func clonePlan(p *model.Plan) *model.Plan {
	c := *p
	return &c
}

func (r *PlanRepo) FindOrCreate(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.byKey[keyOf(p)]; ok {
		return clonePlan(r.s.plans[id]), nil
	}
	if _, ok := r.s.plans[p.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	stored := clonePlan(p)
	r.s.plans[p.ID] = stored
	r.s.byKey[keyOf(p)] = p.ID
	return clonePlan(stored), nil
}

func (r *PlanRepo) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePlan(p), nil
}

// ListAll orders like the Postgres repo: kind, price, name key.
func (r *PlanRepo) ListAll(ctx context.Context) ([]*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Plan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		out = append(out, clonePlan(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.NameKey < b.NameKey
	})
	return out, nil
}

func (r *PlanRepo) Update(ctx context.Context, p *model.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.plans[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	// kind and sizing are immutable, as in the SQL update
	next := clonePlan(cur)
	next.Name, next.NameKey, next.Price, next.Active = p.Name, p.NameKey, p.Price, p.Active
	if id, taken := r.s.byKey[keyOf(next)]; taken && id != p.ID {
		return domain.ErrAlreadyExists
	}
	next.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = next.UpdatedAt
	delete(r.s.byKey, keyOf(cur))
	r.s.byKey[keyOf(next)] = next.ID
	r.s.plans[next.ID] = next
	return nil
}

func (r *PlanRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, c := range r.s.codes {
		if c.PlanID == id {
			return fmt.Errorf("plan %s still has codes: %w", id, domain.ErrAlreadyExists)
		}
	}
	delete(r.s.byKey, keyOf(p))
	delete(r.s.plans, id)
	return nil
}

func (r *CodeRepo) Add(ctx context.Context, c *model.Code) (model.CodeView, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[c.PlanID]; !ok {
		return model.CodeView{}, false, fmt.Errorf("plan %s: %w", c.PlanID, domain.ErrNotFound)
	}
	if id, ok := r.s.byFinger[fingerKey(c.PlanID, c.Fingerprint)]; ok {
		return r.s.codes[id].View(), false, nil
	}
	stored := *c
	r.s.codes[c.ID] = &stored
	r.s.byFinger[fingerKey(c.PlanID, c.Fingerprint)] = c.ID
	return stored.View(), true, nil
}

// sortedCodes returns the plan's codes oldest first, ties broken by id.
func (s *Store) sortedCodes(planID string) []*model.Code {
	var out []*model.Code
	for _, c := range s.codes {
		if c.PlanID == planID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListByPlan returns newest first.
func (r *CodeRepo) ListByPlan(ctx context.Context, planID string) ([]model.CodeView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	codes := r.s.sortedCodes(planID)
	out := make([]model.CodeView, 0, len(codes))
	for i := len(codes) - 1; i >= 0; i-- {
		out = append(out, codes[i].View())
	}
	return out, nil
}

func (r *CodeRepo) CountByPlan(ctx context.Context, planID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.codes {
		if c.PlanID == planID {
			n++
		}
	}
	return n, nil
}

func (s *Store) removeCode(c *model.Code) {
	delete(s.byFinger, fingerKey(c.PlanID, c.Fingerprint))
	delete(s.codes, c.ID)
}

func (r *CodeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[id]
	if !ok {
		return false, nil
	}
	r.s.removeCode(c)
	return true, nil
}

func (r *CodeRepo) DeleteAllByPlan(ctx context.Context, planID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.codes {
		if c.PlanID == planID {
			r.s.removeCode(c)
			n++
		}
	}
	return n, nil
}

func (r *CodeRepo) ClaimOne(ctx context.Context, planID string, receipt *model.ClaimReceipt) (*model.Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if receipt.PaymentRef != nil {
		if _, ok := r.s.receipts[*receipt.PaymentRef]; ok {
			return nil, domain.ErrAlreadyIssued
		}
	}
	codes := r.s.sortedCodes(planID)
	if len(codes) == 0 {
		return nil, domain.ErrExhausted
	}
	c := codes[0]
	r.s.removeCode(c)
	receipt.CodeID = c.ID
	receipt.Mask = c.Mask
	if receipt.PaymentRef != nil {
		stored := *receipt
		r.s.receipts[*receipt.PaymentRef] = &stored
	}
	out := *c
	return &out, nil
}

func (r *CodeRepo) FindReceiptByPaymentRef(ctx context.Context, paymentRef string) (*model.ClaimReceipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc, ok := r.s.receipts[paymentRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rc
	return &out, nil
}
