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

// Ensure implementation satisfies the interface.
var _ repository.CodeRepository = (*PostgresCodeRepo)(nil)

const (
	addAttempts   = 5
	claimAttempts = 8
	claimBackoff  = 15 * time.Millisecond
)

// errNothingClaimable means the claim's row selection matched nothing; the
// plan is either empty or all its rows are locked by concurrent claims.
var errNothingClaimable = errors.New("no claimable row")

type PostgresCodeRepo struct {
	pool *pgxpool.Pool
	txm  repository.TransactionManager
}

func NewPostgresCodeRepo(pool *pgxpool.Pool, txm repository.TransactionManager) *PostgresCodeRepo {
	return &PostgresCodeRepo{pool: pool, txm: txm}
}

// Add inserts c unless (plan_id, fingerprint) already exists, in which case
// the existing row's projection is returned with created=false.
func (r *PostgresCodeRepo) Add(ctx context.Context, c *model.Code) (model.CodeView, bool, error) {
	const insertSQL = `
INSERT INTO codes (id, plan_id, ciphertext, fingerprint, mask, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT ON CONSTRAINT codes_plan_fingerprint DO NOTHING
RETURNING id, plan_id, mask, created_at;`
	const selectSQL = `
SELECT id, plan_id, mask, created_at
  FROM codes
 WHERE plan_id = $1 AND fingerprint = $2;`

	for attempt := 0; attempt < addAttempts; attempt++ {
		var v model.CodeView
		err := r.pool.QueryRow(ctx, insertSQL, c.ID, c.PlanID, c.Ciphertext, c.Fingerprint, c.Mask, c.CreatedAt).
			Scan(&v.ID, &v.PlanID, &v.Mask, &v.CreatedAt)
		if err == nil {
			return v, true, nil
		}
		if isForeignKeyViolation(err) {
			return model.CodeView{}, false, fmt.Errorf("plan %s: %w", c.PlanID, domain.ErrNotFound)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return model.CodeView{}, false, fmt.Errorf("insert code: %w", err)
		}

		err = r.pool.QueryRow(ctx, selectSQL, c.PlanID, c.Fingerprint).Scan(&v.ID, &v.PlanID, &v.Mask, &v.CreatedAt)
		if err == nil {
			return v, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return model.CodeView{}, false, fmt.Errorf("select duplicate code: %w", err)
		}
		// the duplicate was claimed or deleted in between; insert again
	}
	return model.CodeView{}, false, fmt.Errorf("add code to plan %s: gave up after %d attempts", c.PlanID, addAttempts)
}

func (r *PostgresCodeRepo) ListByPlan(ctx context.Context, planID string) ([]model.CodeView, error) {
	const sql = `
SELECT id, plan_id, mask, created_at
  FROM codes
 WHERE plan_id = $1
 ORDER BY created_at DESC, id DESC;`
	rows, err := r.pool.Query(ctx, sql, planID)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	out := []model.CodeView{}
	for rows.Next() {
		var v model.CodeView
		if err := rows.Scan(&v.ID, &v.PlanID, &v.Mask, &v.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PostgresCodeRepo) CountByPlan(ctx context.Context, planID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM codes WHERE plan_id = $1;`, planID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count codes: %w", err)
	}
	return n, nil
}

func (r *PostgresCodeRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM codes WHERE id = $1;`, id)
	if err != nil {
		return false, fmt.Errorf("delete code: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresCodeRepo) DeleteAllByPlan(ctx context.Context, planID string) (int, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM codes WHERE plan_id = $1;`, planID)
	if err != nil {
		return 0, fmt.Errorf("delete codes of plan: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// ClaimOne takes the oldest unlocked code of the plan with a single
// DELETE ... RETURNING under FOR UPDATE SKIP LOCKED, and writes the receipt in
// the same transaction. Concurrent claimers therefore never see the same row.
// When the selection comes back empty while rows still exist (they are locked
// by in-flight claims that may yet roll back) the claim is retried.
func (r *PostgresCodeRepo) ClaimOne(ctx context.Context, planID string, receipt *model.ClaimReceipt) (*model.Code, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		code, err := r.claimOnce(ctx, planID, receipt)
		if !errors.Is(err, errNothingClaimable) {
			return code, err
		}

		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM codes WHERE plan_id = $1);`, planID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check remaining codes: %w", err)
		}
		if !exists {
			return nil, domain.ErrExhausted
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimBackoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("claim plan %s: %w", planID, domain.ErrContention)
}

func (r *PostgresCodeRepo) claimOnce(ctx context.Context, planID string, receipt *model.ClaimReceipt) (*model.Code, error) {
	const claimSQL = `
DELETE FROM codes
 WHERE id = (
       SELECT id
         FROM codes
        WHERE plan_id = $1
        ORDER BY created_at, id
        FOR UPDATE SKIP LOCKED
        LIMIT 1)
RETURNING id, plan_id, ciphertext, fingerprint, mask, created_at;`
	const receiptSQL = `
INSERT INTO claim_receipts (id, plan_id, code_id, mask, payment_ref, claimed_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	var claimed *model.Code
	err := r.txm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}

		if receipt.PaymentRef != nil {
			if _, err := findReceipt(ctx, ex, *receipt.PaymentRef); err == nil {
				return domain.ErrAlreadyIssued
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		var c model.Code
		err = ex.QueryRow(ctx, claimSQL, planID).
			Scan(&c.ID, &c.PlanID, &c.Ciphertext, &c.Fingerprint, &c.Mask, &c.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errNothingClaimable
		}
		if err != nil {
			return fmt.Errorf("claim delete: %w", err)
		}

		receipt.CodeID = c.ID
		receipt.Mask = c.Mask
		if _, err := ex.Exec(ctx, receiptSQL,
			receipt.ID, receipt.PlanID, receipt.CodeID, receipt.Mask, receipt.PaymentRef, receipt.ClaimedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyIssued
			}
			return fmt.Errorf("insert receipt: %w", err)
		}
		claimed = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *PostgresCodeRepo) FindReceiptByPaymentRef(ctx context.Context, paymentRef string) (*model.ClaimReceipt, error) {
	return findReceipt(ctx, r.pool, paymentRef)
}

func findReceipt(ctx context.Context, ex executor, paymentRef string) (*model.ClaimReceipt, error) {
	const sql = `
SELECT id, plan_id, code_id, mask, payment_ref, claimed_at
  FROM claim_receipts
 WHERE payment_ref = $1;`
	var rc model.ClaimReceipt
	err := ex.QueryRow(ctx, sql, paymentRef).
		Scan(&rc.ID, &rc.PlanID, &rc.CodeID, &rc.Mask, &rc.PaymentRef, &rc.ClaimedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find receipt: %w", err)
	}
	return &rc, nil
}
