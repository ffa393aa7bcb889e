package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"lodge-codevault/internal/domain"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*PostgresPlanRepo)(nil)

// findOrCreateAttempts bounds the insert/select loop when a matching plan is
// deleted between our insert conflict and our read.
const findOrCreateAttempts = 5

const planCols = `id, name, name_key, kind, sizing, price, active, created_at, updated_at`

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

func scanPlan(row pgx.Row) (*model.Plan, error) {
	var p model.Plan
	var kind string
	if err := row.Scan(&p.ID, &p.Name, &p.NameKey, &kind, &p.Sizing, &p.Price, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Kind = model.PlanKind(kind)
	return &p, nil
}

// FindOrCreate relies on the plans_natural_key unique constraint: concurrent
// callers with the same key race on the insert, exactly one wins, and the
// others read the winner's row.
func (r *PostgresPlanRepo) FindOrCreate(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	const insertSQL = `
INSERT INTO plans (` + planCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT ON CONSTRAINT plans_natural_key DO NOTHING
RETURNING ` + planCols + `;`
	const selectSQL = `
SELECT ` + planCols + `
  FROM plans
 WHERE name_key = $1 AND sizing = $2 AND price = $3;`

	for attempt := 0; attempt < findOrCreateAttempts; attempt++ {
		created, err := scanPlan(r.pool.QueryRow(ctx, insertSQL,
			p.ID, p.Name, p.NameKey, string(p.Kind), p.Sizing, p.Price, p.Active, p.CreatedAt, p.UpdatedAt,
		))
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("insert plan: %w", err)
		}

		existing, err := scanPlan(r.pool.QueryRow(ctx, selectSQL, p.NameKey, p.Sizing, p.Price))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("select plan by key: %w", err)
		}
		// the conflicting row was deleted in between; try again
	}
	return nil, fmt.Errorf("find-or-create plan %q: gave up after %d attempts", p.NameKey, findOrCreateAttempts)
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	const sql = `SELECT ` + planCols + ` FROM plans WHERE id = $1;`
	p, err := scanPlan(r.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("FindByID plan: %w", err)
	}
	return p, nil
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context) ([]*model.Plan, error) {
	const sql = `SELECT ` + planCols + ` FROM plans ORDER BY kind, price, name_key;`
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("ListAll plans: %w", err)
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresPlanRepo) Update(ctx context.Context, p *model.Plan) error {
	const sql = `
UPDATE plans
   SET name = $2, name_key = $3, price = $4, active = $5, updated_at = $6
 WHERE id = $1;`
	p.UpdatedAt = time.Now().UTC()
	ct, err := r.pool.Exec(ctx, sql, p.ID, p.Name, p.NameKey, p.Price, p.Active, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("Update plan: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete fails while codes still reference the plan (ON DELETE RESTRICT);
// callers remove codes first.
func (r *PostgresPlanRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1;`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("plan %s still has codes: %w", id, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("Delete plan: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
