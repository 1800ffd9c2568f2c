// Package ledger implements the double-entry credit ledger. Transfers are
// the only way balances move; every transfer appends exactly one Transaction
// row. The ledger never commits on behalf of callers — Transfer participates
// in the caller's transaction so composite operations (spawn, auction
// clearing, attention settlement) stay atomic.
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/store"
)

type Ledger struct {
	store  store.Store
	logger *log.Logger
}

func New(s store.Store) *Ledger {
	return &Ledger{
		store:  s,
		logger: log.New(log.Writer(), "[Ledger] ", log.LstdFlags),
	}
}

// Transfer atomically moves credits inside the caller's transaction. Either
// endpoint may be a reserved sink (SYSTEM, HUMAN, ATTENTION_ESCROW); sinks
// carry no balance row and no counters. Non-sink rows are locked before
// mutation.
func (l *Ledger) Transfer(tx store.Tx, from, to string, amount float64, memo string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, amount)
	}

	if !domain.IsSink(from) {
		src, err := tx.GetAgentForUpdate(from)
		if err != nil {
			return nil, err
		}
		if src.Status == domain.AgentDead {
			return nil, fmt.Errorf("%w: agent %s is dead", domain.ErrInvalidState, from)
		}
		if src.Balance < amount {
			return nil, fmt.Errorf("%w: agent %s has %.2f, needs %.2f", domain.ErrInsufficientFunds, from, src.Balance, amount)
		}
		src.Balance -= amount
		src.TotalSpent += amount
		if err := tx.UpdateAgent(src); err != nil {
			return nil, err
		}
	}

	if !domain.IsSink(to) {
		dst, err := tx.GetAgentForUpdate(to)
		if err != nil {
			return nil, err
		}
		dst.Balance += amount
		dst.TotalEarned += amount
		if err := tx.UpdateAgent(dst); err != nil {
			return nil, err
		}
	}

	tr := &domain.Transaction{
		ID:         uuid.New().String(),
		FromEntity: from,
		ToEntity:   to,
		Amount:     amount,
		Memo:       memo,
		Timestamp:  time.Now().UTC(),
	}
	if err := tx.InsertTransaction(tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// Balance returns a read-only snapshot of an agent's balance.
func (l *Ledger) Balance(ctx context.Context, agentID string) (float64, error) {
	var balance float64
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		balance = a.Balance
		return nil
	})
	return balance, err
}

// History returns an entity's transactions, newest first. Sinks are valid
// entities here.
func (l *Ledger) History(ctx context.Context, entityID string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListTransactionsByEntity(entityID)
		return err
	})
	return out, err
}

// TransferCtx runs a standalone transfer in its own transaction. The API
// surface uses this for direct agent-to-agent payments.
func (l *Ledger) TransferCtx(ctx context.Context, from, to string, amount float64, memo string) error {
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := l.Transfer(tx, from, to, amount, memo)
		return err
	})
	if err == nil {
		l.logger.Printf("💸 %s -> %s: %.2f (%s)", from, to, amount, memo)
	}
	return err
}
