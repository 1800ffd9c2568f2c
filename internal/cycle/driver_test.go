package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntropism/backend/internal/attention"
	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/executor"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/sandbox"
	"github.com/syntropism/backend/internal/store"
)

type cycleFixture struct {
	store  *store.Memory
	ledger *ledger.Ledger
	box    *sandbox.Stub
	driver *Driver
}

func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	s := store.NewMemory()
	require.NoError(t, market.Bootstrap(context.Background(), s, nil))
	l := ledger.New(s)
	box := sandbox.NewStub()
	auctioneer := market.NewAuctioneer(s, l, nil, nil)
	exec := executor.New(s, box, nil, 1)
	broker := attention.NewBroker(s, l, nil)
	driver := NewDriver(s, auctioneer, exec, broker, attention.Static{Scores: attention.NeutralScores()}, nil)
	return &cycleFixture{store: s, ledger: l, box: box, driver: driver}
}

func (f *cycleFixture) seedAgent(t *testing.T, id string, balance float64, workspace string) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		ws := &domain.Workspace{
			ID:             uuid.New().String(),
			AgentID:        id,
			FilesystemPath: workspace,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.InsertWorkspace(ws); err != nil {
			return err
		}
		return tx.InsertAgent(&domain.Agent{
			ID:          id,
			Balance:     balance,
			Status:      domain.AgentAlive,
			WorkspaceID: ws.ID,
			CreatedAt:   time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

func (f *cycleFixture) getAgent(t *testing.T, id string) *domain.Agent {
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

func TestSweepDeadMarksBrokeAgents(t *testing.T) {
	f := newCycleFixture(t)
	f.seedAgent(t, "rich", 100, t.TempDir())
	f.seedAgent(t, "broke", 0, t.TempDir())

	died, err := f.driver.SweepDead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, died)
	assert.Equal(t, domain.AgentDead, f.getAgent(t, "broke").Status)
	assert.Equal(t, domain.AgentAlive, f.getAgent(t, "rich").Status)

	// Idempotent: a second sweep finds nothing.
	died, err = f.driver.SweepDead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, died)
}

func TestSweepDeadNeverRevivesAgents(t *testing.T) {
	f := newCycleFixture(t)
	f.seedAgent(t, "lucky", 0, t.TempDir())

	_, err := f.driver.SweepDead(context.Background())
	require.NoError(t, err)

	// Credits arriving after death do not bring the agent back.
	require.NoError(t, f.ledger.TransferCtx(context.Background(), domain.SinkHuman, "lucky", 50, "too late"))
	_, err = f.driver.SweepDead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AgentDead, f.getAgent(t, "lucky").Status)
}

func TestRunCycleEndToEnd(t *testing.T) {
	f := newCycleFixture(t)
	f.seedAgent(t, "worker", 100, t.TempDir())

	// A pending bid that consumes the whole balance: after clearing and
	// execution, the death sweep in the same tick collects the agent.
	bundleID := uuid.New().String()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertBundle(&domain.ResourceBundle{
			ID:              bundleID,
			CPUPercent:      0.5,
			DurationSeconds: 10,
		}); err != nil {
			return err
		}
		return tx.InsertBid(&domain.Bid{
			ID:        uuid.New().String(),
			AgentID:   "worker",
			BundleID:  bundleID,
			Amount:    100,
			Status:    domain.BidPending,
			Timestamp: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	require.NoError(t, f.driver.RunCycle(context.Background()))

	worker := f.getAgent(t, "worker")
	assert.Equal(t, 0.0, worker.Balance)
	assert.Equal(t, domain.AgentDead, worker.Status)
	assert.NotNil(t, worker.LastExecutionAt)

	var executions []*domain.Bid
	err = f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		executions, err = tx.ListBidsByStatus(domain.BidCompleted)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestRunCycleSettlesPendingPrompts(t *testing.T) {
	f := newCycleFixture(t)
	f.seedAgent(t, "asker", 100, t.TempDir())

	execID := uuid.New().String()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		bundle := &domain.ResourceBundle{
			ID:               uuid.New().String(),
			AttentionPercent: 1,
			DurationSeconds:  10,
		}
		if err := tx.InsertBundle(bundle); err != nil {
			return err
		}
		return tx.InsertExecution(&domain.Execution{
			ID:        execID,
			AgentID:   "asker",
			BundleID:  bundle.ID,
			StartTime: time.Now().UTC(),
			Status:    domain.ExecutionPending,
		})
	})
	require.NoError(t, err)

	broker := attention.NewBroker(f.store, f.ledger, nil)
	_, err = broker.SubmitPrompt(context.Background(), "asker", execID,
		map[string]interface{}{"q": "look"}, 10)
	require.NoError(t, err)

	require.NoError(t, f.driver.RunCycle(context.Background()))

	// Neutral scores pay 750; escrowed 10 never returns.
	assert.Equal(t, 100.0-10+750, f.getAgent(t, "asker").Balance)
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	f := newCycleFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.driver.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
