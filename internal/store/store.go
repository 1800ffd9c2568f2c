// Package store is the single transactional data store shared by the control
// plane. Components mutate state only inside WithTx; a returned error aborts
// the whole transaction with no partial writes.
//
// Two backends exist: Postgres (production, row locks via SELECT ... FOR
// UPDATE) and an in-memory store (tests, demo mode).
package store

import (
	"context"

	"github.com/syntropism/backend/internal/domain"
)

// Store opens transactions against the shared relational state.
type Store interface {
	// WithTx runs fn inside one transaction. If fn returns an error the
	// transaction rolls back and the error is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx exposes the typed row operations available inside a transaction.
// GetXxxForUpdate variants take a row lock for the remainder of the
// transaction; contested rows (agent balances, prompts during reward, the
// parent during spawn) must be read through them before mutation.
type Tx interface {
	// Agents
	InsertAgent(a *domain.Agent) error
	GetAgent(id string) (*domain.Agent, error)
	GetAgentForUpdate(id string) (*domain.Agent, error)
	UpdateAgent(a *domain.Agent) error
	ListAgentsByStatus(status domain.AgentStatus) ([]*domain.Agent, error)

	// Workspaces
	InsertWorkspace(w *domain.Workspace) error
	GetWorkspace(id string) (*domain.Workspace, error)
	GetWorkspaceByAgent(agentID string) (*domain.Workspace, error)

	// Transactions (append-only)
	InsertTransaction(t *domain.Transaction) error
	ListTransactionsByEntity(entityID string) ([]*domain.Transaction, error)

	// Resource bundles (immutable)
	InsertBundle(b *domain.ResourceBundle) error
	GetBundle(id string) (*domain.ResourceBundle, error)

	// Bids
	InsertBid(b *domain.Bid) error
	GetBid(id string) (*domain.Bid, error)
	UpdateBid(b *domain.Bid) error
	ListBidsByStatus(status domain.BidStatus) ([]*domain.Bid, error)
	ListBidsByAgent(agentID string) ([]*domain.Bid, error)

	// Executions
	InsertExecution(e *domain.Execution) error
	GetExecution(id string) (*domain.Execution, error)
	UpdateExecution(e *domain.Execution) error

	// Market states
	InsertMarketState(ms *domain.MarketState) error
	GetMarketState(kind domain.ResourceType) (*domain.MarketState, error)
	UpdateMarketState(ms *domain.MarketState) error
	ListMarketStates() ([]*domain.MarketState, error)

	// Prompts
	InsertPrompt(p *domain.Prompt) error
	GetPrompt(id string) (*domain.Prompt, error)
	GetPromptForUpdate(id string) (*domain.Prompt, error)
	UpdatePrompt(p *domain.Prompt) error
	// ListPendingPrompts returns pending prompts ranked by bid amount
	// descending, ties broken by earliest timestamp.
	ListPendingPrompts() ([]*domain.Prompt, error)

	// Responses
	InsertResponse(r *domain.Response) error
	GetResponseByPrompt(promptID string) (*domain.Response, error)

	// Messages
	InsertMessage(m *domain.Message) error
	ListMessagesForAgent(agentID string) ([]*domain.Message, error)
}
