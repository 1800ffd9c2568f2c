package market

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/store"
)

type fixture struct {
	store      *store.Memory
	ledger     *ledger.Ledger
	auctioneer *Auctioneer
	desk       *Desk
}

func newFixture(t *testing.T, supply map[domain.ResourceType]float64) *fixture {
	t.Helper()
	s := store.NewMemory()
	defaults := make(map[domain.ResourceType]domain.ResourceDefault)
	for rt, d := range domain.MarketResources {
		defaults[rt] = d
	}
	for rt, sup := range supply {
		defaults[rt] = domain.ResourceDefault{Supply: sup, Price: domain.MarketResources[rt].Price}
	}
	require.NoError(t, Bootstrap(context.Background(), s, defaults))

	l := ledger.New(s)
	return &fixture{
		store:      s,
		ledger:     l,
		auctioneer: NewAuctioneer(s, l, nil, nil),
		desk:       NewDesk(s, nil),
	}
}

func (f *fixture) seedAgent(t *testing.T, id string, balance float64) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertAgent(&domain.Agent{
			ID:        id,
			Balance:   balance,
			Status:    domain.AgentAlive,
			CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

// insertBundle bypasses surface validation so tests can shape any request,
// including infeasible ones.
func (f *fixture) insertBundle(t *testing.T, b *domain.ResourceBundle) string {
	t.Helper()
	b.ID = uuid.New().String()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertBundle(b)
	})
	require.NoError(t, err)
	return b.ID
}

func (f *fixture) insertBid(t *testing.T, agentID, bundleID string, amount float64, ts time.Time) string {
	t.Helper()
	bid := &domain.Bid{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		BundleID:  bundleID,
		Amount:    amount,
		Status:    domain.BidPending,
		Timestamp: ts,
	}
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertBid(bid)
	})
	require.NoError(t, err)
	return bid.ID
}

func (f *fixture) getBid(t *testing.T, id string) *domain.Bid {
	t.Helper()
	var b *domain.Bid
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		b, err = tx.GetBid(id)
		return err
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) getAgent(t *testing.T, id string) *domain.Agent {
	t.Helper()
	var a *domain.Agent
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		a, err = tx.GetAgent(id)
		return err
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) getState(t *testing.T, rt domain.ResourceType) *domain.MarketState {
	t.Helper()
	var ms *domain.MarketState
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		ms, err = tx.GetMarketState(rt)
		return err
	})
	require.NoError(t, err)
	return ms
}

func TestAuctionHigherBidWins(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceAttention: 1})
	f.seedAgent(t, "low", 100)
	f.seedAgent(t, "high", 100)

	bundle := &domain.ResourceBundle{AttentionPercent: 1, DurationSeconds: 60}
	bundleID := f.insertBundle(t, bundle)

	now := time.Now().UTC()
	lowBid := f.insertBid(t, "low", bundleID, 50, now)
	highBid := f.insertBid(t, "high", bundleID, 75, now.Add(time.Millisecond))

	result, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Winners)

	winner := f.getBid(t, highBid)
	loser := f.getBid(t, lowBid)
	assert.Equal(t, domain.BidWinning, winner.Status)
	assert.NotEmpty(t, winner.ExecutionID)
	assert.Equal(t, domain.BidOutbid, loser.Status)
	assert.Empty(t, loser.ExecutionID)

	assert.Equal(t, 25.0, f.getAgent(t, "high").Balance)
	assert.Equal(t, 100.0, f.getAgent(t, "low").Balance)
}

func TestAuctionTieBreaksByEarlierTimestamp(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceAttention: 1})
	f.seedAgent(t, "early", 100)
	f.seedAgent(t, "late", 100)

	bundleID := f.insertBundle(t, &domain.ResourceBundle{AttentionPercent: 1, DurationSeconds: 60})

	now := time.Now().UTC()
	earlyBid := f.insertBid(t, "early", bundleID, 50, now)
	lateBid := f.insertBid(t, "late", bundleID, 50, now.Add(time.Second))

	_, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.BidWinning, f.getBid(t, earlyBid).Status)
	assert.Equal(t, domain.BidOutbid, f.getBid(t, lateBid).Status)
}

func TestAuctionCapacityExhaustion(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceCPU: 2})
	f.seedAgent(t, "a", 1000)
	f.seedAgent(t, "b", 1000)
	f.seedAgent(t, "c", 1000)

	now := time.Now().UTC()
	var bids []string
	for i, spec := range []struct {
		agent  string
		amount float64
	}{{"a", 100}, {"b", 50}, {"c", 10}} {
		bundleID := f.insertBundle(t, &domain.ResourceBundle{CPUPercent: 1.0, DurationSeconds: 30})
		bids = append(bids, f.insertBid(t, spec.agent, bundleID, spec.amount, now.Add(time.Duration(i)*time.Millisecond)))
	}

	result, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Winners)

	assert.Equal(t, domain.BidWinning, f.getBid(t, bids[0]).Status)
	assert.Equal(t, domain.BidWinning, f.getBid(t, bids[1]).Status)
	assert.Equal(t, domain.BidOutbid, f.getBid(t, bids[2]).Status)

	cpu := f.getState(t, domain.ResourceCPU)
	assert.Equal(t, 2.0, cpu.CurrentUtilization)
	// price = (100+50) / (1.0*30 + 1.0*30) = 2.5
	assert.InDelta(t, 2.5, cpu.CurrentPrice, 1e-9)

	// Resources no winner touched keep their seeded price.
	mem := f.getState(t, domain.ResourceMemory)
	assert.Equal(t, domain.MarketResources[domain.ResourceMemory].Price, mem.CurrentPrice)
	assert.Equal(t, 0.0, mem.CurrentUtilization)
}

func TestAuctionBundleAllOrNothing(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{
		domain.ResourceCPU:    1,
		domain.ResourceMemory: 1,
	})
	f.seedAgent(t, "greedy", 100)

	// Memory request exceeds supply; CPU alone would fit.
	bundleID := f.insertBundle(t, &domain.ResourceBundle{
		CPUPercent:      0.5,
		MemoryPercent:   1.5,
		DurationSeconds: 30,
	})
	bidID := f.insertBid(t, "greedy", bundleID, 10, time.Now().UTC())

	result, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Winners)

	assert.Equal(t, domain.BidOutbid, f.getBid(t, bidID).Status)
	assert.Equal(t, 100.0, f.getAgent(t, "greedy").Balance)
	assert.Equal(t, 0.0, f.getState(t, domain.ResourceCPU).CurrentUtilization)
	assert.Equal(t, 0.0, f.getState(t, domain.ResourceMemory).CurrentUtilization)
}

func TestAuctionRechecksLiveBalance(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceCPU: 10})
	f.seedAgent(t, "splitter", 100)

	// Two bids from the same agent totalling more than the balance: the
	// higher one wins, the second fails the live re-check.
	now := time.Now().UTC()
	b1 := f.insertBundle(t, &domain.ResourceBundle{CPUPercent: 0.5, DurationSeconds: 30})
	b2 := f.insertBundle(t, &domain.ResourceBundle{CPUPercent: 0.5, DurationSeconds: 30})
	first := f.insertBid(t, "splitter", b1, 80, now)
	second := f.insertBid(t, "splitter", b2, 60, now.Add(time.Millisecond))

	_, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.BidWinning, f.getBid(t, first).Status)
	assert.Equal(t, domain.BidOutbid, f.getBid(t, second).Status)
	assert.Equal(t, 20.0, f.getAgent(t, "splitter").Balance)
}

func TestAuctionDeadAgentOutbid(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceCPU: 10})
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertAgent(&domain.Agent{
			ID:        "ghost",
			Balance:   100,
			Status:    domain.AgentDead,
			CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	bundleID := f.insertBundle(t, &domain.ResourceBundle{CPUPercent: 0.5, DurationSeconds: 30})
	bidID := f.insertBid(t, "ghost", bundleID, 10, time.Now().UTC())

	_, err = f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.BidOutbid, f.getBid(t, bidID).Status)
	assert.Equal(t, 100.0, f.getAgent(t, "ghost").Balance)
}

func TestAuctionZeroPendingBids(t *testing.T) {
	f := newFixture(t, nil)

	before := f.getState(t, domain.ResourceCPU).CurrentPrice
	result, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Winners)
	assert.Empty(t, result.Outcomes)

	after := f.getState(t, domain.ResourceCPU)
	assert.Equal(t, before, after.CurrentPrice)
	assert.Equal(t, 0.0, after.CurrentUtilization)
}

func TestAuctionPriceClamped(t *testing.T) {
	f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceCPU: 10})
	f.seedAgent(t, "whale", 1e7)

	// Tiny capacity-seconds against a huge bid pushes the raw price far
	// beyond the cap.
	bundleID := f.insertBundle(t, &domain.ResourceBundle{CPUPercent: 0.01, DurationSeconds: 1})
	f.insertBid(t, "whale", bundleID, 1e6, time.Now().UTC())

	_, err := f.auctioneer.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MaxPrice, f.getState(t, domain.ResourceCPU).CurrentPrice)
}

func TestAuctionMonotonicity(t *testing.T) {
	// Raising the losing bid above the winner must flip the outcome.
	run := func(lowAmount float64) (domain.BidStatus, domain.BidStatus) {
		f := newFixture(t, map[domain.ResourceType]float64{domain.ResourceAttention: 1})
		f.seedAgent(t, "low", 1000)
		f.seedAgent(t, "high", 1000)
		bundleID := f.insertBundle(t, &domain.ResourceBundle{AttentionPercent: 1, DurationSeconds: 60})
		now := time.Now().UTC()
		lowBid := f.insertBid(t, "low", bundleID, lowAmount, now)
		highBid := f.insertBid(t, "high", bundleID, 75, now.Add(time.Millisecond))
		_, err := f.auctioneer.RunCycle(context.Background())
		require.NoError(t, err)
		return f.getBid(t, lowBid).Status, f.getBid(t, highBid).Status
	}

	low, high := run(50)
	assert.Equal(t, domain.BidOutbid, low)
	assert.Equal(t, domain.BidWinning, high)

	low, high = run(80)
	assert.Equal(t, domain.BidWinning, low)
	assert.Equal(t, domain.BidOutbid, high)
}
