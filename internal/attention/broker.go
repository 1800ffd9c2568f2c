// Package attention runs the human attention market: prompt bids are
// escrowed at submission, pending prompts are ranked by bid, and human
// scores convert to credits under fixed conversion rates. Escrowed bids are
// spent regardless of score — they flow to SYSTEM at settlement, never back
// to the submitter.
package attention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/store"
)

type Broker struct {
	store  store.Store
	ledger *ledger.Ledger
	logger *log.Logger
	rates  map[string]float64
}

// NewBroker wires the attention market. rates defaults to
// domain.AttentionConversionRates when nil.
func NewBroker(s store.Store, l *ledger.Ledger, rates map[string]float64) *Broker {
	if rates == nil {
		rates = domain.AttentionConversionRates
	}
	return &Broker{
		store:  s,
		ledger: l,
		logger: log.New(log.Writer(), "[Attention] ", log.LstdFlags),
		rates:  rates,
	}
}

// SubmitPrompt escrows the bid and queues a pending prompt. The agent must
// hold an attention allocation in the named execution's bundle.
func (b *Broker) SubmitPrompt(ctx context.Context, agentID, executionID string, content map[string]interface{}, bidAmount float64) (*domain.Prompt, error) {
	if bidAmount < 0 {
		return nil, fmt.Errorf("%w: bid amount %.2f", domain.ErrInvalidAmount, bidAmount)
	}

	prompt := &domain.Prompt{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		ExecutionID: executionID,
		Content:     content,
		BidAmount:   bidAmount,
		Status:      domain.PromptPending,
		Timestamp:   time.Now().UTC(),
	}
	err := b.store.WithTx(ctx, func(tx store.Tx) error {
		exec, err := tx.GetExecution(executionID)
		if err != nil {
			return err
		}
		bundle, err := tx.GetBundle(exec.BundleID)
		if err != nil {
			return err
		}
		if bundle.AttentionPercent <= 0 {
			return fmt.Errorf("%w: no attention allocation in execution %s", domain.ErrInvalidState, executionID)
		}

		if bidAmount > 0 {
			if _, err := b.ledger.Transfer(tx, agentID, domain.SinkAttentionEscrow, bidAmount, "Bid for attention slot"); err != nil {
				return err
			}
		} else if _, err := tx.GetAgent(agentID); err != nil {
			return err
		}
		return tx.InsertPrompt(prompt)
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// Pending returns the prompt queue ranked by bid amount descending, ties
// broken by earliest submission.
func (b *Broker) Pending(ctx context.Context) ([]*domain.Prompt, error) {
	var out []*domain.Prompt
	err := b.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListPendingPrompts()
		return err
	})
	return out, err
}

// Reward settles one prompt in a single transaction: the Response row, the
// HUMAN reward transfer, and the escrow finalization to SYSTEM.
func (b *Broker) Reward(ctx context.Context, promptID string, interesting, useful, understandable float64, reason string) (*domain.Response, error) {
	for _, score := range []float64{interesting, useful, understandable} {
		if score < 0 || score > 10 {
			return nil, fmt.Errorf("%w: %.2f", domain.ErrInvalidScore, score)
		}
	}

	credits := interesting*b.rates["interesting"] +
		useful*b.rates["useful"] +
		understandable*b.rates["understandable"]

	response := &domain.Response{
		ID:             uuid.New().String(),
		PromptID:       promptID,
		Interesting:    interesting,
		Useful:         useful,
		Understandable: understandable,
		Reason:         reason,
		CreditsAwarded: credits,
		Timestamp:      time.Now().UTC(),
	}
	err := b.store.WithTx(ctx, func(tx store.Tx) error {
		prompt, err := tx.GetPromptForUpdate(promptID)
		if err != nil {
			return err
		}
		if prompt.Status == domain.PromptResponded {
			return fmt.Errorf("%w: prompt %s already responded", domain.ErrInvalidState, promptID)
		}

		// Active marks settlement in progress; visible if anything below
		// inspects the row before commit.
		prompt.Status = domain.PromptActive
		if err := tx.UpdatePrompt(prompt); err != nil {
			return err
		}

		if err := tx.InsertResponse(response); err != nil {
			return err
		}
		if credits > 0 {
			if _, err := b.ledger.Transfer(tx, domain.SinkHuman, prompt.AgentID, credits,
				fmt.Sprintf("Reward for prompt %s", promptID)); err != nil {
				return err
			}
		}
		if prompt.BidAmount > 0 {
			if _, err := b.ledger.Transfer(tx, domain.SinkAttentionEscrow, domain.SinkSystem, prompt.BidAmount,
				fmt.Sprintf("Finalized bid payment for prompt %s", promptID)); err != nil {
				return err
			}
		}

		prompt.Status = domain.PromptResponded
		return tx.UpdatePrompt(prompt)
	})
	if err != nil {
		return nil, err
	}

	b.logger.Printf("🎖️ Prompt %s rewarded: %.0f credits", promptID, credits)
	return response, nil
}

// Drain settles every pending prompt in ranked order, pulling scores from
// the operator. Per-prompt failures are logged and skipped so one bad prompt
// cannot wedge the cycle. Returns the number of prompts settled.
func (b *Broker) Drain(ctx context.Context, op Operator) (int, error) {
	prompts, err := b.Pending(ctx)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range prompts {
		scores, err := op.Present(p)
		if err != nil {
			b.logger.Printf("⚠️ operator failed for prompt %s: %v (using neutral scores)", p.ID, err)
			scores = NeutralScores()
		}
		if _, err := b.Reward(ctx, p.ID, scores.Interesting, scores.Useful, scores.Understandable, scores.Reason); err != nil {
			b.logger.Printf("❌ reward for prompt %s failed: %v", p.ID, err)
			continue
		}
		settled++
	}
	return settled, nil
}
