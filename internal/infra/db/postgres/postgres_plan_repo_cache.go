package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/repository"
	"lodge-codevault/internal/infra/metrics"
	red "lodge-codevault/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

const (
	planListKey = "plans:all"
	// planTombstone marks a deleted plan. Plan ids are never reused, so it
	// lives for the full TTL.
	planTombstone = "deleted"
)

func planKey(id string) string { return fmt.Sprintf("plan:%s", id) }

// planRepoCacheDecorator is a read-through Redis cache in front of a
// PlanRepository. Only plan metadata is cached; code counts never are.
//
// Read-through fills use SETNX and Delete leaves a tombstone, so a reader
// that loaded a plan just before it was deleted cannot put it back.
type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "plan_cache").Logger()
	return &planRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	key := planKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil && val == planTombstone {
		metrics.IncCacheRequest("plan", "hit")
		return nil, domain.ErrNotFound
	}
	if err == nil {
		var plan model.Plan
		if json.Unmarshal([]byte(val), &plan) == nil {
			metrics.IncCacheRequest("plan", "hit")
			return &plan, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("plan", "error")
		d.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}

	metrics.IncCacheRequest("plan", "miss")
	plan, err := d.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.fill(ctx, key, plan)
	return plan, nil
}

func (d *planRepoCacheDecorator) ListAll(ctx context.Context) ([]*model.Plan, error) {
	val, err := d.cache.Get(ctx, planListKey)
	if err == nil {
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			metrics.IncCacheRequest("plan_list", "hit")
			return plans, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("plan_list", "error")
		d.log.Warn().Err(err).Msg("cache get failed")
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, planListKey, plans)
	return plans, nil
}

// FindOrCreate may insert a plan, so the list entry is always dropped.
func (d *planRepoCacheDecorator) FindOrCreate(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	plan, err := d.inner.FindOrCreate(ctx, p)
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx, planListKey)
	return plan, nil
}

func (d *planRepoCacheDecorator) Update(ctx context.Context, p *model.Plan) error {
	err := d.inner.Update(ctx, p)
	d.invalidate(ctx, planKey(p.ID), planListKey)
	return err
}

func (d *planRepoCacheDecorator) Delete(ctx context.Context, id string) error {
	err := d.inner.Delete(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.invalidate(ctx, planKey(id), planListKey)
		return err
	}
	if serr := d.cache.Set(ctx, planKey(id), planTombstone, d.ttl); serr != nil {
		d.log.Warn().Err(serr).Str("plan_id", id).Msg("cache tombstone failed")
		d.invalidate(ctx, planKey(id), planListKey)
		return err
	}
	d.invalidate(ctx, planListKey)
	return err
}

func (d *planRepoCacheDecorator) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// fill stores a freshly read plan unless the key is already taken, which
// includes a tombstone left by Delete.
func (d *planRepoCacheDecorator) fill(ctx context.Context, key string, p *model.Plan) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if _, err := d.cache.SetNX(ctx, key, b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (d *planRepoCacheDecorator) invalidate(ctx context.Context, keys ...string) {
	if err := d.cache.Del(ctx, keys...); err != nil {
		d.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}
