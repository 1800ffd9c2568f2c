// Package cycle drives the economy heartbeat. Each tick runs the fixed
// sequence: allocate, execute, settle attention, sweep the dead. Allocation
// failure aborts the tick (bids stay pending); failures in later stages are
// logged and the tick continues.
package cycle

import (
	"context"
	"log"
	"time"

	"github.com/syntropism/backend/internal/attention"
	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/executor"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/store"
)

type Driver struct {
	store      store.Store
	auctioneer *market.Auctioneer
	executor   *executor.Executor
	broker     *attention.Broker
	operator   attention.Operator
	metrics    *Metrics
	logger     *log.Logger
}

// NewDriver wires the heartbeat. metrics may be nil for tests.
func NewDriver(s store.Store, a *market.Auctioneer, e *executor.Executor, b *attention.Broker, op attention.Operator, m *Metrics) *Driver {
	if op == nil {
		op = attention.Static{Scores: attention.NeutralScores()}
	}
	return &Driver{
		store:      s,
		auctioneer: a,
		executor:   e,
		broker:     b,
		operator:   op,
		metrics:    m,
		logger:     log.New(log.Writer(), "[Cycle] ", log.LstdFlags),
	}
}

// RunCycle runs one tick of the economy.
func (d *Driver) RunCycle(ctx context.Context) error {
	result, err := d.auctioneer.RunCycle(ctx)
	if err != nil {
		if d.metrics != nil {
			d.metrics.CycleErrors.Inc()
		}
		return err
	}
	d.observeAuction(result)

	if err := d.executor.RunWinners(ctx); err != nil {
		d.logger.Printf("⚠️ execution stage failed: %v", err)
	}

	settled, err := d.broker.Drain(ctx, d.operator)
	if err != nil {
		d.logger.Printf("⚠️ attention stage failed: %v", err)
	} else if d.metrics != nil {
		d.metrics.PromptsSettled.Add(float64(settled))
	}

	died, err := d.SweepDead(ctx)
	if err != nil {
		d.logger.Printf("⚠️ death sweep failed: %v", err)
	} else if d.metrics != nil {
		d.metrics.AgentsDied.Add(float64(died))
	}

	if d.metrics != nil {
		d.metrics.CyclesTotal.Inc()
	}
	return nil
}

// Run ticks RunCycle on the interval until ctx is cancelled. A failed tick
// is logged; the loop keeps going.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	d.logger.Printf("💓 Heartbeat started (interval %s)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("💤 Heartbeat stopped")
			return
		case <-ticker.C:
			if err := d.RunCycle(ctx); err != nil {
				d.logger.Printf("❌ cycle failed: %v", err)
			}
		}
	}
}

// SweepDead marks every living agent with a non-positive balance as dead.
// Idempotent: already-dead agents are never touched.
func (d *Driver) SweepDead(ctx context.Context) (int, error) {
	died := 0
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		died = 0
		alive, err := tx.ListAgentsByStatus(domain.AgentAlive)
		if err != nil {
			return err
		}
		for _, agent := range alive {
			if agent.Balance > 0 {
				continue
			}
			agent.Status = domain.AgentDead
			if err := tx.UpdateAgent(agent); err != nil {
				return err
			}
			died++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if died > 0 {
		d.logger.Printf("💀 %d agent(s) died of starvation", died)
	}
	return died, nil
}

func (d *Driver) observeAuction(result *market.CycleResult) {
	if d.metrics == nil {
		return
	}
	for _, o := range result.Outcomes {
		if o.Winner {
			d.metrics.BidsProcessed.WithLabelValues("winning").Inc()
			d.metrics.CreditsBurned.Add(o.Bid.Amount)
		} else {
			d.metrics.BidsProcessed.WithLabelValues("outbid").Inc()
		}
	}
	for _, p := range result.Prices {
		d.metrics.ResourcePrice.WithLabelValues(string(p.Kind)).Set(p.Price)
		d.metrics.ResourceUsage.WithLabelValues(string(p.Kind)).Set(p.Utilization)
	}
}
