package market

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/events"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/store"
)

// Auctioneer clears pending bids against capacity once per cycle and
// discovers per-resource prices from the clearing activity.
type Auctioneer struct {
	store  store.Store
	ledger *ledger.Ledger
	bus    events.Emitter
	cache  *PriceCache // optional
	logger *log.Logger

	minPrice float64
	maxPrice float64
}

// NewAuctioneer wires the auction against the shared store. cache may be nil.
func NewAuctioneer(s store.Store, l *ledger.Ledger, bus events.Emitter, cache *PriceCache) *Auctioneer {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Auctioneer{
		store:    s,
		ledger:   l,
		bus:      bus,
		cache:    cache,
		logger:   log.New(log.Writer(), "[Auctioneer] ", log.LstdFlags),
		minPrice: domain.MinPrice,
		maxPrice: domain.MaxPrice,
	}
}

// SetPriceBounds overrides the clamp range (config hook).
func (a *Auctioneer) SetPriceBounds(min, max float64) {
	a.minPrice, a.maxPrice = min, max
}

// BidOutcome records one processed bid for event egress.
type BidOutcome struct {
	Bid    *domain.Bid
	Winner bool
}

// PriceUpdate records one market row after the cycle.
type PriceUpdate struct {
	Kind        domain.ResourceType
	Price       float64
	Utilization float64
	Discovered  bool // false when no winner touched the resource
}

// CycleResult is what one clearing pass committed.
type CycleResult struct {
	Outcomes []BidOutcome
	Prices   []PriceUpdate
	Winners  int
}

// RunCycle reads all pending bids and the market rows under one transaction,
// assigns winners highest-amount-first (ties to the earlier bid), creates a
// pending Execution per winner, debits winners to SYSTEM through the ledger,
// and replaces utilization and discovered prices. Any error aborts the whole
// transaction; the bids stay Pending for the next cycle.
func (a *Auctioneer) RunCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}

	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		result.Outcomes = result.Outcomes[:0]
		result.Prices = result.Prices[:0]
		result.Winners = 0

		pending, err := tx.ListBidsByStatus(domain.BidPending)
		if err != nil {
			return err
		}
		states, err := tx.ListMarketStates()
		if err != nil {
			return err
		}

		supply := make(map[domain.ResourceType]float64, len(states))
		consumed := make(map[domain.ResourceType]float64, len(states))
		credits := make(map[domain.ResourceType]float64, len(states))
		capacitySeconds := make(map[domain.ResourceType]float64, len(states))
		for _, ms := range states {
			supply[ms.Kind] = ms.AvailableSupply
		}

		// Highest amount first; ListBidsByStatus is already timestamp
		// ascending, so a stable sort keeps the earlier bid ahead on ties.
		ordered := make([]*domain.Bid, len(pending))
		copy(ordered, pending)
		stableSortByAmountDesc(ordered)

		for _, bid := range ordered {
			bundle, err := tx.GetBundle(bid.BundleID)
			if err != nil {
				return err
			}

			admit := Feasible(bundle, consumed, supply)
			var agent *domain.Agent
			if admit {
				// Re-check the live balance: earlier admissions in this
				// cycle may have debited the same agent.
				agent, err = tx.GetAgentForUpdate(bid.AgentID)
				if err != nil {
					return err
				}
				if agent.Status != domain.AgentAlive || agent.Balance < bid.Amount {
					admit = false
				}
			}

			if !admit {
				bid.Status = domain.BidOutbid
				if err := tx.UpdateBid(bid); err != nil {
					return err
				}
				result.Outcomes = append(result.Outcomes, BidOutcome{Bid: bid})
				continue
			}

			exec := &domain.Execution{
				ID:        uuid.New().String(),
				AgentID:   bid.AgentID,
				BundleID:  bid.BundleID,
				StartTime: time.Now().UTC(),
				Status:    domain.ExecutionPending,
			}
			if err := tx.InsertExecution(exec); err != nil {
				return err
			}

			if _, err := a.ledger.Transfer(tx, bid.AgentID, domain.SinkSystem, bid.Amount, "bid"); err != nil {
				return err
			}

			bid.Status = domain.BidWinning
			bid.ExecutionID = exec.ID
			if err := tx.UpdateBid(bid); err != nil {
				return err
			}

			for _, rt := range domain.ResourceTypes {
				req := bundle.Fraction(rt)
				if req <= 0 {
					continue
				}
				consumed[rt] += req
				credits[rt] += bid.Amount
				capacitySeconds[rt] += req * bundle.DurationSeconds
			}
			result.Winners++
			result.Outcomes = append(result.Outcomes, BidOutcome{Bid: bid, Winner: true})
		}

		// Publish utilization and discovered prices. A resource with no
		// winning demand keeps its previous price.
		now := time.Now().UTC()
		for _, ms := range states {
			ms.CurrentUtilization = consumed[ms.Kind]
			update := PriceUpdate{Kind: ms.Kind, Utilization: ms.CurrentUtilization}
			if capacitySeconds[ms.Kind] > 0 {
				ms.CurrentPrice = clamp(credits[ms.Kind]/capacitySeconds[ms.Kind], a.minPrice, a.maxPrice)
				update.Discovered = true
			}
			update.Price = ms.CurrentPrice
			ms.UpdatedAt = now
			if err := tx.UpdateMarketState(ms); err != nil {
				return err
			}
			result.Prices = append(result.Prices, update)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.emit(ctx, result)
	return result, nil
}

// emit publishes the committed cycle's events and refreshes the price
// snapshot cache. Best-effort on both counts.
func (a *Auctioneer) emit(ctx context.Context, result *CycleResult) {
	for _, o := range result.Outcomes {
		bid := o.Bid
		a.bus.Emit(events.TopicBidProcessed, "auctioneer", bid.ID,
			events.BidProcessed(bid.ID, bid.AgentID, bid.Amount, string(bid.Status), bid.BundleID))
		if o.Winner {
			a.bus.Emit(events.TopicCreditsBurned, "auctioneer", bid.AgentID,
				events.CreditsBurned(bid.AgentID, bid.Amount, "bid"))
		} else {
			a.bus.Emit(events.TopicBidRejected, "auctioneer", bid.ID, map[string]interface{}{
				"agent_id": bid.AgentID,
				"reason":   "insufficient supply or credits during allocation cycle",
			})
		}
	}

	prices := make(map[domain.ResourceType]float64, len(result.Prices))
	for _, p := range result.Prices {
		prices[p.Kind] = p.Price
		if p.Discovered {
			a.bus.Emit(events.TopicPriceDiscovered, "auctioneer", string(p.Kind),
				events.PriceDiscovered(string(p.Kind), p.Price, p.Utilization))
		}
	}
	if a.cache != nil {
		if err := a.cache.Put(ctx, prices); err != nil {
			a.logger.Printf("⚠️ price cache update failed: %v", err)
		}
	}

	if len(result.Outcomes) > 0 {
		a.logger.Printf("🏛️ Cycle cleared: %d bids processed, %d winners", len(result.Outcomes), result.Winners)
	}
}

func stableSortByAmountDesc(bids []*domain.Bid) {
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Amount > bids[j].Amount })
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
