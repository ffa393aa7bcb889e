//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/adapter"
	"lodge-codevault/internal/usecase"
)

func TestCodeUseCase_AddCodeResolvesSamePlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	r1, err := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "  code-1  "))
	if err != nil {
		t.Fatalf("AddCode #1: %v", err)
	}
	r2, err := f.uc.AddCode(ctx, lodgeInput("lodge 10gb", "code-2"))
	if err != nil {
		t.Fatalf("AddCode #2: %v", err)
	}

	if r1.PlanID != r2.PlanID {
		t.Fatalf("expected the same plan, got %s and %s", r1.PlanID, r2.PlanID)
	}
	if !r1.Created || !r2.Created {
		t.Errorf("both codes should be new: %v %v", r1.Created, r2.Created)
	}
	plan, err := f.uc.GetPlan(ctx, r1.PlanID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if plan.Name != "Lodge 10GB" || !plan.Active {
		t.Errorf("unexpected plan %+v", plan)
	}

	// the stored code is the trimmed one
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		res, err := f.uc.Claim(ctx, r1.PlanID, "")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		got[res.Code] = true
	}
	if !got["code-1"] || !got["code-2"] {
		t.Errorf("claimed %v, want code-1 and code-2", got)
	}
}

func TestCodeUseCase_AddCodeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "ABC123XYZ"))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]*usecase.AddCodeResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", " ABC123XYZ"))
			if err != nil {
				t.Errorf("AddCode: %v", err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Created || r.CodeID != first.CodeID {
			t.Errorf("duplicate add should return the stored code %s, got %+v", first.CodeID, r)
		}
	}
	av, _ := f.uc.CheckAvailability(ctx, first.PlanID)
	if av.Count != 1 {
		t.Errorf("expected a single stored code, got %d", av.Count)
	}
	if first.Mask != "AB******YZ" {
		t.Errorf("mask = %q", first.Mask)
	}
}

func TestCodeUseCase_AddCodeValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(in *usecase.AddCodeInput)
	}{
		{"blank code", func(in *usecase.AddCodeInput) { in.Code = "   " }},
		{"blank plan name", func(in *usecase.AddCodeInput) { in.PlanName = " \t" }},
		{"negative price", func(in *usecase.AddCodeInput) { in.Price = -1 }},
		{"zero sizing", func(in *usecase.AddCodeInput) { in.Sizing = 0 }},
		{"unknown kind", func(in *usecase.AddCodeInput) { in.Kind = "phone" }},
		{"missing kind", func(in *usecase.AddCodeInput) { in.Kind = "" }},
		{"mask filler in code", func(in *usecase.AddCodeInput) { in.Code = "a*******b" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := lodgeInput("Lodge 10GB", "code-1")
			tc.mutate(&in)
			_, err := f.uc.AddCode(ctx, in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	plans, _ := f.uc.ListPlans(ctx)
	if len(plans) != 0 {
		t.Errorf("invalid input must not create plans, got %d", len(plans))
	}

	t.Run("kind is case-insensitive and zero price is allowed", func(t *testing.T) {
		in := lodgeInput("Free TV", "tv-code-1")
		in.Kind, in.Price = "TV", 0
		r, err := f.uc.AddCode(ctx, in)
		if err != nil {
			t.Fatalf("AddCode: %v", err)
		}
		p, _ := f.uc.GetPlan(ctx, r.PlanID)
		if p.Kind != model.PlanKindTV {
			t.Errorf("kind = %q", p.Kind)
		}
	})
}

func TestCodeUseCase_TwoBuyersOneCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	in := lodgeInput("3-Device-Weekly", "ABC123XYZ")
	in.Sizing = 3
	added, err := f.uc.AddCode(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		codes     []string
		exhausted int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.uc.Claim(ctx, added.PlanID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				codes = append(codes, res.Code)
			case errors.Is(err, domain.ErrExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(codes) != 1 || codes[0] != "ABC123XYZ" || exhausted != 1 {
		t.Fatalf("got codes=%v exhausted=%d", codes, exhausted)
	}
	av, err := f.uc.CheckAvailability(ctx, added.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if av.Available || av.Count != 0 {
		t.Errorf("expected {false 0}, got %+v", av)
	}
}

func TestCodeUseCase_AtMostOnceIssuance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	const n = 40
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("LODGE-%04d", i)
	}
	batch, err := f.uc.AddCodes(ctx, usecase.BatchInput{
		PlanSpec: usecase.PlanSpec{PlanName: "Bulk", Sizing: 1, Price: 100, Kind: model.PlanKindDevice},
		Codes:    codes,
	})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		issued    = map[string]int{}
		exhausted int
	)
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.uc.Claim(ctx, batch.PlanID, "")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrExhausted) {
				exhausted++
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			issued[res.Code]++
		}()
	}
	wg.Wait()

	if len(issued) != n || exhausted != 1 {
		t.Fatalf("issued %d distinct codes and %d exhausted, want %d and 1", len(issued), exhausted, n)
	}
	for _, c := range codes {
		if issued[c] != 1 {
			t.Errorf("code %s issued %d times", c, issued[c])
		}
	}
}

func TestCodeUseCase_UnknownPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.uc.Claim(ctx, "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Claim: expected ErrNotFound, got %v", err)
	}
	if _, err := f.uc.CheckAvailability(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CheckAvailability: expected ErrNotFound, got %v", err)
	}
	if _, err := f.uc.DeletePlanCascade(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeletePlanCascade: expected ErrNotFound, got %v", err)
	}
	if _, err := f.uc.Claim(ctx, "  ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Claim with blank plan: expected ErrValidation, got %v", err)
	}
}

func TestCodeUseCase_IssuedButUndecryptable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	added, err := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "SECRET-CODE-77"))
	if err != nil {
		t.Fatal(err)
	}

	// same vault, key changed since the code was sealed
	logs := &syncBuffer{}
	logger := zerolog.New(logs)
	alerter := &MockAlerter{}
	rotated := usecase.NewCodeUseCase(f.store.Plans(), f.store.Codes(), newCipher(t, 99), alerter, &logger)

	_, err = rotated.Claim(ctx, added.PlanID, "pay-77")
	if !errors.Is(err, domain.ErrIssuedButUndecryptable) {
		t.Fatalf("expected ErrIssuedButUndecryptable, got %v", err)
	}
	if !errors.Is(err, domain.ErrCrypto) {
		t.Errorf("the cause should remain a crypto error: %v", err)
	}
	var lost *domain.IssuedButUndecryptableError
	if !errors.As(err, &lost) {
		t.Fatalf("expected *IssuedButUndecryptableError, got %T", err)
	}
	if lost.PlanID != added.PlanID || lost.CodeID != added.CodeID || lost.Reference == "" || lost.ClaimedAt.IsZero() {
		t.Errorf("incomplete incident context: %+v", lost)
	}

	// the removal is not rolled back
	av, _ := rotated.CheckAvailability(ctx, added.PlanID)
	if av.Count != 0 {
		t.Errorf("code must stay removed, %d left", av.Count)
	}
	receipt, err := rotated.GetReceipt(ctx, "pay-77")
	if err != nil || receipt.ID != lost.Reference {
		t.Errorf("receipt should carry the support reference: %+v %v", receipt, err)
	}

	if alerter.Count() != 1 || alerter.Alerts[0].Severity != adapter.SeverityCritical {
		t.Fatalf("expected one critical alert, got %+v", alerter.Alerts)
	}
	if !strings.Contains(alerter.Alerts[0].Body, lost.Reference) {
		t.Errorf("alert should name the reference: %q", alerter.Alerts[0].Body)
	}
	for _, text := range []string{alerter.Alerts[0].Body, logs.String()} {
		if strings.Contains(text, "SECRET-CODE-77") {
			t.Error("plaintext leaked into alerts or logs")
		}
	}
	if !strings.Contains(logs.String(), `"severity":"critical"`) {
		t.Errorf("expected a critical log line, got %s", logs.String())
	}
}

func TestCodeUseCase_AlertFailureDoesNotMaskOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	added, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "SECRET-CODE-78"))

	alerter := &MockAlerter{AlertFunc: func(ctx context.Context, sev adapter.Severity, title, body string) error {
		return errors.New("telegram down")
	}}
	rotated := usecase.NewCodeUseCase(f.store.Plans(), f.store.Codes(), newCipher(t, 42), alerter, nil)
	if _, err := rotated.Claim(ctx, added.PlanID, ""); !errors.Is(err, domain.ErrIssuedButUndecryptable) {
		t.Fatalf("expected ErrIssuedButUndecryptable, got %v", err)
	}
}

func TestCodeUseCase_PaymentReferenceIdempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	a, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-a1"))
	f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-a2"))

	res, err := f.uc.Claim(ctx, a.PlanID, "order-1001")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Receipt == nil || res.Receipt.PaymentRef == nil || *res.Receipt.PaymentRef != "order-1001" {
		t.Fatalf("unexpected receipt %+v", res.Receipt)
	}

	if _, err := f.uc.Claim(ctx, a.PlanID, " order-1001 "); !errors.Is(err, domain.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
	av, _ := f.uc.CheckAvailability(ctx, a.PlanID)
	if av.Count != 1 {
		t.Errorf("a repeated payment must not consume a code, %d left", av.Count)
	}

	receipt, err := f.uc.GetReceipt(ctx, "order-1001")
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if receipt.ID != res.Receipt.ID || receipt.Mask == "" {
		t.Errorf("receipt mismatch: %+v", receipt)
	}
	if _, err := f.uc.GetReceipt(ctx, "order-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCodeUseCase_DeletePlanCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("removes codes then plan", func(t *testing.T) {
		f := newFixture(t)
		var planID string
		for i := 0; i < 3; i++ {
			r, err := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", fmt.Sprintf("code-%d", i)))
			if err != nil {
				t.Fatal(err)
			}
			planID = r.PlanID
		}

		n, err := f.uc.DeletePlanCascade(ctx, planID)
		if err != nil || n != 3 {
			t.Fatalf("DeletePlanCascade: n=%d err=%v", n, err)
		}
		codes, err := f.uc.ListCodes(ctx, planID)
		if err != nil || len(codes) != 0 {
			t.Errorf("ListCodes after cascade: %v %v", codes, err)
		}
		if _, err := f.uc.GetPlan(ctx, planID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetPlan after cascade: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("reports removed count when plan delete fails", func(t *testing.T) {
		f := newFixture(t)
		plans := &planRepoStub{PlanRepository: f.store.Plans(), DeleteFunc: func(ctx context.Context, id string) error {
			return errors.New("connection reset")
		}}
		uc := usecase.NewCodeUseCase(plans, f.store.Codes(), newCipher(t, 1), f.alerter, nil)
		r, _ := uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-x"))
		uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-y"))

		n, err := uc.DeletePlanCascade(ctx, r.PlanID)
		if err == nil || n != 2 {
			t.Fatalf("expected an error with n=2, got n=%d err=%v", n, err)
		}
		codes, _ := uc.ListCodes(ctx, r.PlanID)
		if len(codes) != 0 {
			t.Errorf("codes must be gone even though the plan remains, %d left", len(codes))
		}
	})

	t.Run("sweeps again when codes arrive during delete", func(t *testing.T) {
		f := newFixture(t)
		calls := 0
		plans := &planRepoStub{PlanRepository: f.store.Plans()}
		plans.DeleteFunc = func(ctx context.Context, id string) error {
			calls++
			if calls == 1 {
				return fmt.Errorf("plan %s still has codes: %w", id, domain.ErrAlreadyExists)
			}
			return plans.PlanRepository.Delete(ctx, id)
		}
		uc := usecase.NewCodeUseCase(plans, f.store.Codes(), newCipher(t, 1), f.alerter, nil)
		r, _ := uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-z"))

		if _, err := uc.DeletePlanCascade(ctx, r.PlanID); err != nil {
			t.Fatalf("DeletePlanCascade: %v", err)
		}
		if calls != 2 {
			t.Errorf("expected 2 delete attempts, got %d", calls)
		}
	})

	t.Run("unknown plan is NotFound, also on a second delete", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.uc.DeletePlanCascade(ctx, "no-such-plan"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		r, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-gone"))
		if _, err := f.uc.DeletePlanCascade(ctx, r.PlanID); err != nil {
			t.Fatalf("DeletePlanCascade: %v", err)
		}
		n, err := f.uc.DeletePlanCascade(ctx, r.PlanID)
		if !errors.Is(err, domain.ErrNotFound) || n != 0 {
			t.Errorf("repeat cascade: expected ErrNotFound and n=0, got n=%d err=%v", n, err)
		}
	})
}

func TestCodeUseCase_DeleteCodeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	r, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-1"))
	for i := 0; i < 2; i++ {
		if err := f.uc.DeleteCode(ctx, r.CodeID); err != nil {
			t.Fatalf("DeleteCode #%d: %v", i+1, err)
		}
	}
	if err := f.uc.DeleteCode(ctx, "never-existed"); err != nil {
		t.Errorf("unknown id should be treated as deleted, got %v", err)
	}
	if err := f.uc.DeleteCode(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank id: expected ErrValidation, got %v", err)
	}
	codes, _ := f.uc.ListCodes(ctx, r.PlanID)
	if len(codes) != 0 {
		t.Errorf("expected no codes, got %d", len(codes))
	}
}

func TestCodeUseCase_BatchImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.uc.AddCodes(ctx, usecase.BatchInput{
		PlanSpec: usecase.PlanSpec{PlanName: "Lodge 10GB", Sizing: 5, Price: 3500, Kind: model.PlanKindDevice},
		Codes:    []string{"alpha-001", "", "alpha-001", "  beta-002 ", "\t"},
	})
	if err != nil {
		t.Fatalf("AddCodes: %v", err)
	}
	if res.Added != 2 || res.Duplicates != 1 || res.Blank != 2 {
		t.Errorf("got added=%d duplicates=%d blank=%d", res.Added, res.Duplicates, res.Blank)
	}
	if len(res.Items) != 3 || res.Items[2].Line != 4 {
		t.Errorf("unexpected items %+v", res.Items)
	}

	single, _ := f.uc.AddCode(ctx, lodgeInput("LODGE 10gb", "beta-002"))
	if single.PlanID != res.PlanID || single.Created {
		t.Errorf("batch and single add should share plan and dedup: %+v", single)
	}

	if _, err := f.uc.AddCodes(ctx, usecase.BatchInput{PlanSpec: usecase.PlanSpec{PlanName: "x", Sizing: 1, Kind: model.PlanKindTV}}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty batch: expected ErrValidation, got %v", err)
	}

	before, _ := f.uc.ListCodes(ctx, res.PlanID)
	_, err = f.uc.AddCodes(ctx, usecase.BatchInput{
		PlanSpec: usecase.PlanSpec{PlanName: "Lodge 10GB", Sizing: 5, Price: 3500, Kind: model.PlanKindDevice},
		Codes:    []string{"gamma-003", "ga**a-004"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("code with mask filler: expected ErrValidation, got %v", err)
	}
	if after, _ := f.uc.ListCodes(ctx, res.PlanID); len(after) != len(before) {
		t.Errorf("a rejected batch must not store any code: %d -> %d", len(before), len(after))
	}
}

func TestCodeUseCase_ListCodesNeverExposesSecrets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	r, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "VERY-SECRET-1"))
	f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "VERY-SECRET-2"))

	codes, err := f.uc.ListCodes(ctx, r.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %d", len(codes))
	}
	for _, c := range codes {
		if strings.Contains(fmt.Sprintf("%+v", c), "SECRET") {
			t.Errorf("projection leaks plaintext: %+v", c)
		}
		if len([]rune(c.Mask)) != 10 {
			t.Errorf("mask %q has wrong length", c.Mask)
		}
	}
}

func TestCodeUseCase_UpdatePlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	a, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-1"))
	other := lodgeInput("Lodge 20GB", "code-2")
	b, _ := f.uc.AddCode(ctx, other)

	name, price, inactive := "Lodge 10 GB Promo", int64(3000), false
	p, err := f.uc.UpdatePlan(ctx, a.PlanID, usecase.PlanUpdate{Name: &name, Price: &price, Active: &inactive})
	if err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if p.Name != name || p.NameKey != "lodge 10 gb promo" || p.Price != 3000 || p.Active {
		t.Errorf("plan not updated: %+v", p)
	}

	// an inactive plan still honours paid claims
	if _, err := f.uc.Claim(ctx, a.PlanID, ""); err != nil {
		t.Errorf("claim on inactive plan: %v", err)
	}

	clash := "lodge 20gb"
	orig := int64(3500)
	if _, err := f.uc.UpdatePlan(ctx, a.PlanID, usecase.PlanUpdate{Name: &clash, Price: &orig}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists when colliding with %s, got %v", b.PlanID, err)
	}

	negative := int64(-5)
	if _, err := f.uc.UpdatePlan(ctx, a.PlanID, usecase.PlanUpdate{Price: &negative}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	blank := "  "
	if _, err := f.uc.UpdatePlan(ctx, a.PlanID, usecase.PlanUpdate{Name: &blank}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := f.uc.UpdatePlan(ctx, "missing", usecase.PlanUpdate{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCodeUseCase_ClaimPassesThroughStoreErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	r, _ := f.uc.AddCode(ctx, lodgeInput("Lodge 10GB", "code-1"))

	codes := &codeRepoStub{CodeRepository: f.store.Codes(), ClaimOneFunc: func(ctx context.Context, planID string, rc *model.ClaimReceipt) (*model.Code, error) {
		return nil, domain.ErrContention
	}}
	uc := usecase.NewCodeUseCase(f.store.Plans(), codes, newCipher(t, 1), f.alerter, nil)
	if _, err := uc.Claim(ctx, r.PlanID, ""); !errors.Is(err, domain.ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
	if f.alerter.Count() != 0 {
		t.Error("contention is not an operator incident")
	}
}
