// Package ledger defines the wallet ledger port.
package ledger

import (
	"context"

	"github.com/Strob0t/AgentForge/internal/domain/wallet"
)

// Ledger is the authoritative store of wallet transactions.
type Ledger interface {
	// Balance is the sum of every transaction of the user.
	Balance(ctx context.Context, userID string) (wallet.MicroUnits, error)
	// Post records tx. Posting an id that already exists is a no-op and
	// reports inserted=false.
	Post(ctx context.Context, tx wallet.Transaction) (inserted bool, err error)
	Transactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error)
}
