package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/port/ledger"
)

var _ ledger.Ledger = (*Ledger)(nil)

// Ledger implements ledger.Ledger on the wallet_transactions table. The
// balance is always derived from the transactions, never stored.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Balance(ctx context.Context, userID string) (wallet.MicroUnits, error) {
	var sum int64
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("wallet balance %s: %w", userID, err)
	}
	return wallet.MicroUnits(sum), nil
}

func (l *Ledger) Post(ctx context.Context, tx wallet.Transaction) (bool, error) {
	meta, err := marshalNullable(tx.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal transaction metadata: %w", err)
	}
	const q = `INSERT INTO wallet_transactions (id, user_id, type, amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		ON CONFLICT (id) DO NOTHING`
	var created any
	if !tx.CreatedAt.IsZero() {
		created = tx.CreatedAt
	}
	tag, err := l.pool.Exec(ctx, q, tx.ID, tx.UserID, string(tx.Type), int64(tx.Amount), meta, created)
	if err != nil {
		return false, fmt.Errorf("post transaction %s: %w", tx.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, type, amount, metadata, created_at FROM wallet_transactions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, lim)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", userID, err)
	}
	defer rows.Close()

	var result []wallet.Transaction
	for rows.Next() {
		var (
			tx     wallet.Transaction
			amount int64
			meta   []byte
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &amount, &meta, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Amount = wallet.MicroUnits(amount)
		if err := unmarshalOptional(meta, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode transaction metadata: %w", err)
		}
		result = append(result, tx)
	}
	return orEmpty(result), rows.Err()
}
