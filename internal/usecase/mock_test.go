//go:build !integration

package usecase_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/adapter"
	"lodge-codevault/internal/domain/ports/repository"
	"lodge-codevault/internal/infra/db/memory"
	"lodge-codevault/internal/infra/security"
	"lodge-codevault/internal/usecase"
)

// =============================
// Adapters
// =============================

// MockAlerter records every alert it is asked to deliver.
type MockAlerter struct {
	mu     sync.Mutex
	Alerts []RecordedAlert

	AlertFunc func(ctx context.Context, sev adapter.Severity, title, body string) error
}

type RecordedAlert struct {
	Severity adapter.Severity
	Title    string
	Body     string
}

var _ adapter.OperatorAlerter = (*MockAlerter)(nil)

func (m *MockAlerter) Alert(ctx context.Context, sev adapter.Severity, title, body string) error {
	m.mu.Lock()
	m.Alerts = append(m.Alerts, RecordedAlert{Severity: sev, Title: title, Body: body})
	m.mu.Unlock()
	if m.AlertFunc != nil {
		return m.AlertFunc(ctx, sev, title, body)
	}
	return nil
}

func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// =============================
// Repositories
// =============================

// planRepoStub wraps a real PlanRepository and lets a test override Delete.
type planRepoStub struct {
	repository.PlanRepository
	DeleteFunc func(ctx context.Context, id string) error
}

func (p *planRepoStub) Delete(ctx context.Context, id string) error {
	if p.DeleteFunc != nil {
		return p.DeleteFunc(ctx, id)
	}
	return p.PlanRepository.Delete(ctx, id)
}

// codeRepoStub wraps a real CodeRepository and lets a test override ClaimOne.
type codeRepoStub struct {
	repository.CodeRepository
	ClaimOneFunc func(ctx context.Context, planID string, r *model.ClaimReceipt) (*model.Code, error)
}

func (c *codeRepoStub) ClaimOne(ctx context.Context, planID string, r *model.ClaimReceipt) (*model.Code, error) {
	if c.ClaimOneFunc != nil {
		return c.ClaimOneFunc(ctx, planID, r)
	}
	return c.CodeRepository.ClaimOne(ctx, planID, r)
}

// =============================
// Fixtures
// =============================

func testKey(b byte) []byte {
	k := make([]byte, security.MasterKeySize)
	for i := range k {
		k[i] = b + byte(i)
	}
	return k
}

func newCipher(t *testing.T, seed byte) *security.CodeCipher {
	t.Helper()
	c, err := security.NewCodeCipher(testKey(seed))
	if err != nil {
		t.Fatalf("NewCodeCipher: %v", err)
	}
	return c
}

// syncBuffer is a log sink safe for concurrent claims.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	store   *memory.Store
	alerter *MockAlerter
	logs    *syncBuffer
	uc      usecase.CodeUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	alerter := &MockAlerter{}
	logs := &syncBuffer{}
	logger := zerolog.New(logs)
	uc := usecase.NewCodeUseCase(store.Plans(), store.Codes(), newCipher(t, 1), alerter, &logger)
	return &fixture{store: store, alerter: alerter, logs: logs, uc: uc}
}

func lodgeInput(name, code string) usecase.AddCodeInput {
	return usecase.AddCodeInput{
		PlanSpec: usecase.PlanSpec{PlanName: name, Sizing: 5, Price: 3500, Kind: model.PlanKindDevice},
		Code:     code,
	}
}
