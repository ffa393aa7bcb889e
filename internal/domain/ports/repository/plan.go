package repository

import (
	"context"

	"lodge-codevault/internal/domain/model"
)

// PlanRepository is the port for the plan registry.
type PlanRepository interface {
	// FindOrCreate returns the plan sharing p's natural key, inserting p when
	// none exists. It must be safe under concurrent calls with the same key.
	FindOrCreate(ctx context.Context, p *model.Plan) (*model.Plan, error)
	FindByID(ctx context.Context, id string) (*model.Plan, error)
	ListAll(ctx context.Context) ([]*model.Plan, error)
	// Update persists name, price and active flag of an existing plan.
	Update(ctx context.Context, p *model.Plan) error
	Delete(ctx context.Context, id string) error
}
