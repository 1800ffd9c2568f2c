package genesis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/store"
)

func newGenesis(t *testing.T) (*Genesis, *ledger.Ledger, string) {
	t.Helper()
	s := store.NewMemory()
	l := ledger.New(s)
	root := t.TempDir()
	return New(s, l, root, domain.SpawnCost, domain.GenesisInitialCredits), l, root
}

func TestCreateRootIdempotent(t *testing.T) {
	g, l, root := newGenesis(t)

	agent, err := g.CreateRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisAgentID, agent.ID)
	assert.Equal(t, domain.GenesisInitialCredits, agent.Balance)
	assert.Empty(t, agent.Lineage)
	assert.DirExists(t, filepath.Join(root, domain.GenesisAgentID))

	again, err := g.CreateRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.ID, again.ID)

	balance, err := l.Balance(context.Background(), domain.GenesisAgentID)
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisInitialCredits, balance)
}

func TestSpawnChildTransfersAndInheritsLineage(t *testing.T) {
	g, l, root := newGenesis(t)
	_, err := g.CreateRoot(context.Background())
	require.NoError(t, err)

	child, err := g.SpawnChild(context.Background(), domain.GenesisAgentID, 100,
		map[string]string{"main.py": "print('hello')"})
	require.NoError(t, err)

	assert.Equal(t, 100.0, child.Balance)
	assert.Equal(t, []string{domain.GenesisAgentID}, child.Lineage)

	// Parent lost spawn cost plus seed credits.
	parentBalance, err := l.Balance(context.Background(), domain.GenesisAgentID)
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisInitialCredits-domain.SpawnCost-100, parentBalance)

	// Workspace exists with the seeded payload.
	path := filepath.Join(root, "agent-"+child.ID)
	assert.DirExists(t, path)
	content, err := os.ReadFile(filepath.Join(path, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hello')", string(content))

	// Grandchild stacks lineage parent-first.
	grandchild, err := g.SpawnChild(context.Background(), child.ID, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID, domain.GenesisAgentID}, grandchild.Lineage)
}

func TestSpawnChildInsufficientFundsLeavesNothing(t *testing.T) {
	g, _, root := newGenesis(t)
	_, err := g.CreateRoot(context.Background())
	require.NoError(t, err)

	// Needs spawn cost + seed; genesis holds 1000.
	_, err = g.SpawnChild(context.Background(), domain.GenesisAgentID, 5000, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// No workspace directory left behind besides the root's own.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.GenesisAgentID, entries[0].Name())
}

func TestSpawnChildRejectsEscapingPayloadNames(t *testing.T) {
	g, l, root := newGenesis(t)
	_, err := g.CreateRoot(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"../evil.sh", "a/b.txt", `a\b.txt`, "..", "dir/../../x"} {
		_, err := g.SpawnChild(context.Background(), domain.GenesisAgentID, 10,
			map[string]string{name: "payload"})
		assert.ErrorIs(t, err, domain.ErrInvalidState, "name %q", name)
	}

	// Failed spawns rolled everything back, including the spawn fee.
	balance, err := l.Balance(context.Background(), domain.GenesisAgentID)
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisInitialCredits, balance)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSpawnChildSkipsEmptyPayloadNames(t *testing.T) {
	g, _, root := newGenesis(t)
	_, err := g.CreateRoot(context.Background())
	require.NoError(t, err)

	child, err := g.SpawnChild(context.Background(), domain.GenesisAgentID, 0,
		map[string]string{"": "ignored", "kept.txt": "ok"})
	require.NoError(t, err)

	path := filepath.Join(root, "agent-"+child.ID)
	assert.FileExists(t, filepath.Join(path, "kept.txt"))
	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSpawnChildZeroSeedCredits(t *testing.T) {
	g, l, _ := newGenesis(t)
	_, err := g.CreateRoot(context.Background())
	require.NoError(t, err)

	child, err := g.SpawnChild(context.Background(), domain.GenesisAgentID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, child.Balance)

	parentBalance, err := l.Balance(context.Background(), domain.GenesisAgentID)
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisInitialCredits-domain.SpawnCost, parentBalance)
}

func TestSpawnChildNegativeSeedRejected(t *testing.T) {
	g, _, _ := newGenesis(t)
	_, err := g.CreateRoot(context.Background())
	require.NoError(t, err)

	_, err = g.SpawnChild(context.Background(), domain.GenesisAgentID, -1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestSpawnChildUnknownParent(t *testing.T) {
	g, _, _ := newGenesis(t)
	_, err := g.SpawnChild(context.Background(), "nobody", 0, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
