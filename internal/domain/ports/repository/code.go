package repository

import (
	"context"

	"lodge-codevault/internal/domain/model"
)

// CodeRepository is the port for the code vault.
type CodeRepository interface {
	// Add stores c unless a code with the same fingerprint already exists
	// under c.PlanID, in which case the existing code is returned and created
	// is false.
	Add(ctx context.Context, c *model.Code) (view model.CodeView, created bool, err error)
	// ListByPlan returns public projections, newest first.
	ListByPlan(ctx context.Context, planID string) ([]model.CodeView, error)
	CountByPlan(ctx context.Context, planID string) (int, error)
	// DeleteByID reports whether a row was removed.
	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteAllByPlan(ctx context.Context, planID string) (int, error)
	// ClaimOne atomically removes one code of the plan and records receipt
	// in the same transaction. It returns domain.ErrExhausted when the plan
	// has no codes and domain.ErrAlreadyIssued when receipt.PaymentRef was
	// already used.
	ClaimOne(ctx context.Context, planID string, receipt *model.ClaimReceipt) (*model.Code, error)
	FindReceiptByPaymentRef(ctx context.Context, paymentRef string) (*model.ClaimReceipt, error)
}
