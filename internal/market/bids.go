package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/events"
	"github.com/syntropism/backend/internal/store"
)

// Desk accepts bids from the request surface. Each submission is its own
// short transaction; the bid sits Pending until the next clearing cycle.
type Desk struct {
	store store.Store
	bus   events.Emitter
}

func NewDesk(s store.Store, bus events.Emitter) *Desk {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Desk{store: s, bus: bus}
}

// PlaceBid validates the agent and bundle and inserts a Pending bid. The
// balance check here is advisory; the binding check happens at clearing time
// against the live balance.
func (d *Desk) PlaceBid(ctx context.Context, agentID, bundleID string, amount float64) (*domain.Bid, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, amount)
	}

	bid := &domain.Bid{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		BundleID:  bundleID,
		Amount:    amount,
		Status:    domain.BidPending,
		Timestamp: time.Now().UTC(),
	}
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		agent, err := tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		if agent.Status != domain.AgentAlive {
			return fmt.Errorf("%w: agent %s is dead", domain.ErrInvalidState, agentID)
		}
		if agent.Balance < amount {
			return fmt.Errorf("%w: balance %.2f, bid %.2f", domain.ErrInsufficientFunds, agent.Balance, amount)
		}
		if _, err := tx.GetBundle(bundleID); err != nil {
			return err
		}
		return tx.InsertBid(bid)
	})
	if err != nil {
		return nil, err
	}

	d.bus.Emit(events.TopicBidPlaced, "market", bid.ID, map[string]interface{}{
		"agent_id":           agentID,
		"amount":             amount,
		"resource_bundle_id": bundleID,
	})
	return bid, nil
}

// CreateBundle validates and persists an immutable bundle from a surface
// request, converting legacy absolute fields at ingestion.
func (d *Desk) CreateBundle(ctx context.Context, req *BundleRequest) (*domain.ResourceBundle, error) {
	bundle, err := req.ToBundle()
	if err != nil {
		return nil, err
	}
	err = d.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertBundle(bundle)
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// History returns an agent's bids, newest first.
func (d *Desk) History(ctx context.Context, agentID string) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListBidsByAgent(agentID)
		return err
	})
	return out, err
}

// Prices returns the current per-resource prices from the store.
func (d *Desk) Prices(ctx context.Context) (map[domain.ResourceType]float64, error) {
	out := make(map[domain.ResourceType]float64)
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		states, err := tx.ListMarketStates()
		if err != nil {
			return err
		}
		for _, ms := range states {
			out[ms.Kind] = ms.CurrentPrice
		}
		return nil
	})
	return out, err
}

// States returns the full market rows.
func (d *Desk) States(ctx context.Context) ([]*domain.MarketState, error) {
	var out []*domain.MarketState
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListMarketStates()
		return err
	})
	return out, err
}
