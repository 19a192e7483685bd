// Package billing holds the credit ledger and the duplicate detector.
// Credits are deducted per confirmed send; every deduction leaves an audit
// row. Balances never go negative, the database enforces it.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInsufficientCredit = errors.New("insufficient credit balance")

// Ledger is the pgx-backed tenant credit store.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a new credit ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Balance returns the tenant's current credit balance. Tenants with no
// ledger row have a balance of zero.
func (l *Ledger) Balance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx, `
		SELECT balance FROM tenant_credits WHERE tenant_id = $1
	`, tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Deduct atomically removes amount credits from the tenant's balance and
// records an audit transaction. The guarded UPDATE makes the check and the
// deduction one statement, so concurrent deductions cannot overdraw.
func (l *Ledger) Deduct(ctx context.Context, tenantID uuid.UUID, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balanceAfter int64
	err = tx.QueryRow(ctx, `
		UPDATE tenant_credits
		SET balance = balance - $2, updated_at = now()
		WHERE tenant_id = $1 AND balance >= $2
		RETURNING balance
	`, tenantID, amount).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInsufficientCredit
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (tenant_id, amount, reason, balance_after)
		VALUES ($1, $2, $3, $4)
	`, tenantID, -amount, reason, balanceAfter)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Credit adds amount credits to the tenant's balance, creating the ledger
// row if needed, and records the audit transaction.
func (l *Ledger) Credit(ctx context.Context, tenantID uuid.UUID, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balanceAfter int64
	err = tx.QueryRow(ctx, `
		INSERT INTO tenant_credits (tenant_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id)
		DO UPDATE SET balance = tenant_credits.balance + $2, updated_at = now()
		RETURNING balance
	`, tenantID, amount).Scan(&balanceAfter)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (tenant_id, amount, reason, balance_after)
		VALUES ($1, $2, $3, $4)
	`, tenantID, amount, reason, balanceAfter)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
