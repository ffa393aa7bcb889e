package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/adapter"
	"lodge-codevault/internal/domain/ports/repository"
	"lodge-codevault/internal/infra/logging"
	"lodge-codevault/internal/infra/metrics"
)

// Compile-time check
var _ CodeUseCase = (*codeUC)(nil)

// MaxBatchSize bounds a single batch import.
const MaxBatchSize = 10000

const (
	alertTimeout        = 5 * time.Second
	cascadeAttempts     = 3
	deleteReasonAdmin   = "admin"
	deleteReasonCascade = "cascade"
)

// CodeUseCase is the vault's application surface: admin code management,
// plan maintenance, availability and the claim flow.
type CodeUseCase interface {
	AddCode(ctx context.Context, in AddCodeInput) (*AddCodeResult, error)
	AddCodes(ctx context.Context, in BatchInput) (*BatchResult, error)
	DeleteCode(ctx context.Context, codeID string) error
	DeletePlanCascade(ctx context.Context, planID string) (int, error)
	CheckAvailability(ctx context.Context, planID string) (*Availability, error)
	Claim(ctx context.Context, planID, paymentRef string) (*ClaimResult, error)
	ListCodes(ctx context.Context, planID string) ([]model.CodeView, error)

	GetPlan(ctx context.Context, planID string) (*model.Plan, error)
	ListPlans(ctx context.Context) ([]*model.Plan, error)
	UpdatePlan(ctx context.Context, planID string, in PlanUpdate) (*model.Plan, error)
	GetReceipt(ctx context.Context, paymentRef string) (*model.ClaimReceipt, error)
}

// PlanSpec identifies the plan a code is loaded under. Plans are matched on
// the normalized name, sizing and price; Kind is only used on creation.
type PlanSpec struct {
	PlanName string         `json:"planName" validate:"required"`
	Sizing   int            `json:"sizingAttribute" validate:"gt=0"`
	Price    int64          `json:"price" validate:"gte=0"`
	Kind     model.PlanKind `json:"kind" validate:"required,oneof=device tv"`
}

type AddCodeInput struct {
	PlanSpec
	Code string `json:"code" validate:"required,nomask"`
}

type AddCodeResult struct {
	PlanID  string `json:"planId"`
	CodeID  string `json:"codeId"`
	Mask    string `json:"mask"`
	Created bool   `json:"created"`
}

type BatchInput struct {
	PlanSpec
	Codes []string `json:"codes" validate:"min=1,max=10000,dive,nomask"`
}

type BatchItem struct {
	Line    int    `json:"line"`
	CodeID  string `json:"codeId"`
	Mask    string `json:"mask"`
	Created bool   `json:"created"`
}

type BatchResult struct {
	PlanID     string      `json:"planId"`
	Added      int         `json:"added"`
	Duplicates int         `json:"duplicates"`
	Blank      int         `json:"blank"`
	Items      []BatchItem `json:"items"`
}

type Availability struct {
	Available bool `json:"available"`
	Count     int  `json:"count"`
}

// ClaimResult carries the plaintext to the one caller that claimed it.
type ClaimResult struct {
	Code    string
	Receipt *model.ClaimReceipt
}

// PlanUpdate holds an admin edit; nil fields are left unchanged. Kind and
// sizing are part of what was sold and cannot be edited.
type PlanUpdate struct {
	Name   *string `json:"name"`
	Price  *int64  `json:"price" validate:"omitempty,gte=0"`
	Active *bool   `json:"active"`
}

type codeUC struct {
	plans   repository.PlanRepository
	codes   repository.CodeRepository
	cipher  adapter.CodeCipher
	alerter adapter.OperatorAlerter
	log     *zerolog.Logger
}

func NewCodeUseCase(
	plans repository.PlanRepository,
	codes repository.CodeRepository,
	cipher adapter.CodeCipher,
	alerter adapter.OperatorAlerter,
	logger *zerolog.Logger,
) *codeUC {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &codeUC{plans: plans, codes: codes, cipher: cipher, alerter: alerter, log: logger}
}

func (s *PlanSpec) normalize() {
	s.PlanName = strings.TrimSpace(s.PlanName)
	s.Kind = model.PlanKind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
}

func (u *codeUC) resolvePlan(ctx context.Context, spec PlanSpec) (*model.Plan, error) {
	candidate, err := model.NewPlan("", spec.PlanName, spec.Kind, spec.Sizing, spec.Price)
	if err != nil {
		return nil, domain.Validationf("invalid plan: %v", err)
	}
	return u.plans.FindOrCreate(ctx, candidate)
}

// AddCode finds or creates the plan and stores the code under it. Adding a
// code that is already waiting in the plan returns the stored one.
func (u *codeUC) AddCode(ctx context.Context, in AddCodeInput) (*AddCodeResult, error) {
	defer logging.TraceDuration(u.log, "CodeUC.AddCode")()

	in.normalize()
	in.Code = strings.TrimSpace(in.Code)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	plan, err := u.resolvePlan(ctx, in.PlanSpec)
	if err != nil {
		return nil, err
	}
	view, created, err := u.addOne(ctx, plan.ID, in.Code)
	if err != nil {
		return nil, err
	}
	return &AddCodeResult{PlanID: plan.ID, CodeID: view.ID, Mask: view.Mask, Created: created}, nil
}

// AddCodes loads many codes under one plan. Blank entries are skipped and
// counted; codes already present are reported with Created=false.
func (u *codeUC) AddCodes(ctx context.Context, in BatchInput) (*BatchResult, error) {
	defer logging.TraceDuration(u.log, "CodeUC.AddCodes")()

	in.normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	plan, err := u.resolvePlan(ctx, in.PlanSpec)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{PlanID: plan.ID, Items: make([]BatchItem, 0, len(in.Codes))}
	for i, raw := range in.Codes {
		code := strings.TrimSpace(raw)
		if code == "" {
			res.Blank++
			continue
		}
		view, created, err := u.addOne(ctx, plan.ID, code)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", i+1, err)
		}
		if created {
			res.Added++
		} else {
			res.Duplicates++
		}
		res.Items = append(res.Items, BatchItem{Line: i + 1, CodeID: view.ID, Mask: view.Mask, Created: created})
	}
	logging.With(ctx, u.log).Info().
		Str("plan_id", plan.ID).Int("added", res.Added).Int("duplicates", res.Duplicates).
		Msg("batch import finished")
	return res, nil
}

func (u *codeUC) addOne(ctx context.Context, planID, plaintext string) (model.CodeView, bool, error) {
	ciphertext, err := u.cipher.Encrypt(plaintext)
	if err != nil {
		metrics.IncCryptoError("encrypt")
		u.raise(ctx, adapter.SeverityCritical, "Code encryption failed",
			fmt.Sprintf("plan %s: %v", planID, err))
		return model.CodeView{}, false, err
	}
	code := &model.Code{
		ID:          uuid.NewString(),
		PlanID:      planID,
		Ciphertext:  ciphertext,
		Fingerprint: u.cipher.Fingerprint(plaintext),
		Mask:        u.cipher.Mask(plaintext),
		CreatedAt:   time.Now().UTC(),
	}
	view, created, err := u.codes.Add(ctx, code)
	if err != nil {
		return model.CodeView{}, false, err
	}
	metrics.IncCodeAdded(created)
	return view, created, nil
}

// DeleteCode is idempotent: an unknown id is treated as already deleted.
func (u *codeUC) DeleteCode(ctx context.Context, codeID string) error {
	if strings.TrimSpace(codeID) == "" {
		return domain.Validationf("codeId is required")
	}
	removed, err := u.codes.DeleteByID(ctx, codeID)
	if err != nil {
		return err
	}
	if removed {
		metrics.AddCodesDeleted(deleteReasonAdmin, 1)
	}
	return nil
}

// DeletePlanCascade removes the plan's codes, then the plan. Codes added
// concurrently make the plan delete fail; the sweep is then repeated.
func (u *codeUC) DeletePlanCascade(ctx context.Context, planID string) (int, error) {
	defer logging.TraceDuration(u.log, "CodeUC.DeletePlanCascade")()

	plan, err := u.plans.FindByID(ctx, planID)
	if err != nil {
		return 0, err
	}
	log := logging.With(logging.WithPlanID(ctx, planID), u.log)

	total := 0
	for attempt := 0; attempt < cascadeAttempts; attempt++ {
		n, err := u.codes.DeleteAllByPlan(ctx, planID)
		total += n
		metrics.AddCodesDeleted(deleteReasonCascade, n)
		if err != nil {
			return total, err
		}

		err = u.plans.Delete(ctx, planID)
		switch {
		case err == nil, errors.Is(err, domain.ErrNotFound):
			metrics.DeletePlanStock(plan.ID, plan.Name)
			log.Info().Int("deleted_codes", total).Msg("plan deleted")
			return total, nil
		case errors.Is(err, domain.ErrAlreadyExists):
			log.Warn().Int("attempt", attempt+1).Msg("codes were added during plan delete; sweeping again")
			continue
		default:
			log.Error().Err(err).Int("deleted_codes", total).Msg("plan delete failed after its codes were removed")
			return total, fmt.Errorf("%d codes removed but plan delete failed: %w", total, err)
		}
	}
	return total, fmt.Errorf("plan %s kept receiving codes during delete: %w", planID, domain.ErrAlreadyExists)
}

// CheckAvailability is advisory: a following claim may still be Exhausted.
func (u *codeUC) CheckAvailability(ctx context.Context, planID string) (*Availability, error) {
	if _, err := u.plans.FindByID(ctx, planID); err != nil {
		return nil, err
	}
	n, err := u.codes.CountByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &Availability{Available: n > 0, Count: n}, nil
}

// Claim removes one code from the plan and returns its plaintext. Inactive
// plans can still be claimed from, since the caller has already been paid.
//
// When the removed code cannot be decrypted the removal stands: the code is
// lost, operators are alerted and the caller gets an
// *domain.IssuedButUndecryptableError carrying a support reference.
func (u *codeUC) Claim(ctx context.Context, planID, paymentRef string) (*ClaimResult, error) {
	defer logging.TraceDuration(u.log, "CodeUC.Claim")()

	planID = strings.TrimSpace(planID)
	paymentRef = strings.TrimSpace(paymentRef)
	if planID == "" {
		return nil, domain.Validationf("planId is required")
	}
	ctx = logging.WithPlanID(ctx, planID)
	if paymentRef != "" {
		ctx = logging.WithPaymentRef(ctx, paymentRef)
	}
	log := logging.With(ctx, u.log)

	if _, err := u.plans.FindByID(ctx, planID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			metrics.IncClaim(metrics.ClaimError)
		}
		return nil, err
	}

	receipt := model.NewClaimReceipt(planID, paymentRef)
	code, err := u.codes.ClaimOne(ctx, planID, receipt)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrExhausted):
		metrics.IncClaim(metrics.ClaimExhausted)
		log.Info().Msg("claim found plan sold out")
		return nil, err
	case errors.Is(err, domain.ErrAlreadyIssued):
		metrics.IncClaim(metrics.ClaimAlreadyIssued)
		log.Warn().Msg("claim repeated for a payment that already received a code")
		return nil, err
	default:
		metrics.IncClaim(metrics.ClaimError)
		log.Error().Err(err).Msg("claim failed")
		return nil, err
	}

	plaintext, err := u.cipher.Decrypt(code.Ciphertext)
	if err != nil {
		metrics.IncClaim(metrics.ClaimUndecryptable)
		metrics.IncCryptoError("decrypt")
		lost := &domain.IssuedButUndecryptableError{
			PlanID:    planID,
			CodeID:    code.ID,
			Reference: receipt.ID,
			ClaimedAt: receipt.ClaimedAt,
			Err:       err,
		}
		log.Error().Err(err).
			Str("severity", "critical").
			Str("code_id", code.ID).
			Str("reference", receipt.ID).
			Msg("code removed from vault but could not be decrypted")
		u.raise(ctx, adapter.SeverityCritical, "Issued code could not be decrypted",
			fmt.Sprintf("plan: %s\ncode: %s (%s)\nreference: %s\nclaimed at: %s\nerror: %v",
				planID, code.ID, code.Mask, receipt.ID, receipt.ClaimedAt.Format(time.RFC3339), err))
		return nil, lost
	}

	metrics.IncClaim(metrics.ClaimIssued)
	log.Info().Str("receipt_id", receipt.ID).Str("mask", code.Mask).Msg("code issued")
	return &ClaimResult{Code: plaintext, Receipt: receipt}, nil
}

// raise sends an operator alert without letting the caller's deadline or a
// delivery failure change the outcome of the operation.
func (u *codeUC) raise(ctx context.Context, sev adapter.Severity, title, body string) {
	if u.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if err := u.alerter.Alert(actx, sev, title, body); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("title", title).Msg("operator alert failed")
	}
}

// ListCodes returns an empty list for a plan that no longer exists.
func (u *codeUC) ListCodes(ctx context.Context, planID string) ([]model.CodeView, error) {
	return u.codes.ListByPlan(ctx, planID)
}

func (u *codeUC) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	return u.plans.FindByID(ctx, planID)
}

func (u *codeUC) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	plans, err := u.plans.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []*model.Plan{}
	}
	return plans, nil
}

// UpdatePlan applies an admin edit. Renaming to a name that normalizes to an
// existing plan with the same sizing and price fails with ErrAlreadyExists.
func (u *codeUC) UpdatePlan(ctx context.Context, planID string, in PlanUpdate) (*model.Plan, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	plan, err := u.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, domain.Validationf("name must not be empty")
		}
		plan.Name = name
		plan.NameKey = model.NormalizePlanName(name)
	}
	if in.Price != nil {
		plan.Price = *in.Price
	}
	if in.Active != nil {
		plan.Active = *in.Active
	}
	if err := u.plans.Update(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (u *codeUC) GetReceipt(ctx context.Context, paymentRef string) (*model.ClaimReceipt, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, domain.Validationf("paymentRef is required")
	}
	return u.codes.FindReceiptByPaymentRef(ctx, paymentRef)
}
