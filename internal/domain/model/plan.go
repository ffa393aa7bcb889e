package model

import (
	"strings"
	"time"

	"lodge-codevault/internal/domain"

	"github.com/google/uuid"
)

// PlanKind distinguishes what a plan's Sizing attribute counts.
type PlanKind string

const (
	PlanKindDevice PlanKind = "device" // Sizing is a device/user count
	PlanKindTV     PlanKind = "tv"     // Sizing is a duration in days
)

func (k PlanKind) Valid() bool { return k == PlanKindDevice || k == PlanKindTV }

// Plan is a named, priced category of access codes. Plans are deduplicated on
// (NameKey, Sizing, Price); Name keeps the casing the administrator typed first.
type Plan struct {
	ID        string    `json:"planId"`
	Name      string    `json:"name"`
	NameKey   string    `json:"nameKey"`
	Kind      PlanKind  `json:"kind"`
	Sizing    int       `json:"sizingAttribute"`
	Price     int64     `json:"price"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizePlanName produces the comparison form of a plan name: trimmed,
// lowercased, inner whitespace collapsed.
func NormalizePlanName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NewPlan validates and constructs an active plan.
func NewPlan(id, name string, kind PlanKind, sizing int, price int64) (*Plan, error) {
	if id == "" {
		id = uuid.NewString()
	}
	name = strings.TrimSpace(name)
	if name == "" || !kind.Valid() || sizing <= 0 || price < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Plan{
		ID:        id,
		Name:      name,
		NameKey:   NormalizePlanName(name),
		Kind:      kind,
		Sizing:    sizing,
		Price:     price,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// SameKey reports whether two plans share the natural key.
func (p *Plan) SameKey(o *Plan) bool {
	return p.NameKey == o.NameKey && p.Sizing == o.Sizing && p.Price == o.Price
}
