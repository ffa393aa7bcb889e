//go:build !integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lodge-codevault/internal/domain/model"
	red "lodge-codevault/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerPlanRepo mocks the database repository that the Plan decorator wraps.
type mockInnerPlanRepo struct {
	FindOrCreateFunc func(ctx context.Context, p *model.Plan) (*model.Plan, error)
	FindByIDFunc     func(ctx context.Context, id string) (*model.Plan, error)
	ListAllFunc      func(ctx context.Context) ([]*model.Plan, error)
	UpdateFunc       func(ctx context.Context, p *model.Plan) error
	DeleteFunc       func(ctx context.Context, id string) error
}

func (m *mockInnerPlanRepo) FindOrCreate(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	return m.FindOrCreateFunc(ctx, p)
}
func (m *mockInnerPlanRepo) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	return m.FindByIDFunc(ctx, id)
}
func (m *mockInnerPlanRepo) ListAll(ctx context.Context) ([]*model.Plan, error) {
	return m.ListAllFunc(ctx)
}
func (m *mockInnerPlanRepo) Update(ctx context.Context, p *model.Plan) error {
	return m.UpdateFunc(ctx, p)
}
func (m *mockInnerPlanRepo) Delete(ctx context.Context, id string) error {
	return m.DeleteFunc(ctx, id)
}

// mockRedisClient mocks our Redis client wrapper. Unset funcs behave like an
// empty cache that accepts every write.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	DelFunc   func(ctx context.Context, keys ...string) error
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if m.SetNXFunc == nil {
		return true, nil
	}
	return m.SetNXFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error {
	if m.PingFunc == nil {
		return nil
	}
	return m.PingFunc(ctx)
}
func (m *mockRedisClient) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

// mapRedis is a tiny in-process Redis with real key semantics, for tests
// that interleave reads and writes. TTLs are ignored.
type mapRedis struct {
	mu   sync.Mutex
	data map[string]string
}

var _ red.RedisClient = (*mapRedis)(nil)

func newMapRedis() *mapRedis { return &mapRedis{data: map[string]string{}} }

func toString(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func (m *mapRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", red.Nil
	}
	return v, nil
}
func (m *mapRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	return nil
}
func (m *mapRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}
func (m *mapRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *mapRedis) Ping(ctx context.Context) error { return nil }
func (m *mapRedis) Close() error                   { return nil }
