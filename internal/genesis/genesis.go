// Package genesis creates agents: the root agent on first boot and children
// spawned by living parents. A spawn is one atomic unit — parent debit,
// child row, workspace, lineage and both transactions commit together or
// not at all.
package genesis

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/store"
)

type Genesis struct {
	store          store.Store
	ledger         *ledger.Ledger
	workspaceRoot  string
	spawnCost      float64
	genesisCredits float64
	logger         *log.Logger
}

func New(s store.Store, l *ledger.Ledger, workspaceRoot string, spawnCost, genesisCredits float64) *Genesis {
	if spawnCost <= 0 {
		spawnCost = domain.SpawnCost
	}
	if genesisCredits <= 0 {
		genesisCredits = domain.GenesisInitialCredits
	}
	return &Genesis{
		store:          s,
		ledger:         l,
		workspaceRoot:  workspaceRoot,
		spawnCost:      spawnCost,
		genesisCredits: genesisCredits,
		logger:         log.New(log.Writer(), "[Genesis] ", log.LstdFlags),
	}
}

// CreateRoot creates the genesis agent with its seed credits and workspace.
// Idempotent: if the root already exists it is returned unchanged.
func (g *Genesis) CreateRoot(ctx context.Context) (*domain.Agent, error) {
	var root *domain.Agent
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		if existing, err := tx.GetAgent(domain.GenesisAgentID); err == nil {
			root = existing
			return nil
		}

		path := filepath.Join(g.workspaceRoot, domain.GenesisAgentID)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return domain.StorageError(err)
		}
		agent, err := g.createAgentWithWorkspace(tx, domain.GenesisAgentID, g.genesisCredits, nil, path)
		if err != nil {
			return err
		}
		root = agent
		g.logger.Printf("🌱 Genesis agent created with %.0f credits", g.genesisCredits)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// SpawnChild atomically debits the parent by spawn cost plus seed credits,
// creates the child with inherited lineage and a fresh workspace seeded with
// the payload files, and records both transactions. Failure at any step
// leaves the parent untouched and no workspace behind.
func (g *Genesis) SpawnChild(ctx context.Context, parentID string, initialCredits float64, payload map[string]string) (*domain.Agent, error) {
	if initialCredits < 0 {
		return nil, fmt.Errorf("%w: initial credits %.2f", domain.ErrInvalidAmount, initialCredits)
	}

	childID := uuid.New().String()
	childPath := filepath.Join(g.workspaceRoot, "agent-"+childID)

	var child *domain.Agent
	workspaceCreated := false
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		parent, err := tx.GetAgentForUpdate(parentID)
		if err != nil {
			return err
		}
		total := g.spawnCost + initialCredits
		if parent.Balance < total {
			return fmt.Errorf("%w: spawning needs %.2f, parent has %.2f", domain.ErrInsufficientFunds, total, parent.Balance)
		}

		if _, err := g.ledger.Transfer(tx, parentID, domain.SinkSystem, g.spawnCost, "Agent spawn fee"); err != nil {
			return err
		}

		if err := os.MkdirAll(childPath, 0o755); err != nil {
			return domain.StorageError(err)
		}
		workspaceCreated = true
		if err := seedPayload(childPath, payload); err != nil {
			return err
		}

		lineage := append([]string{parentID}, parent.Lineage...)
		child, err = g.createAgentWithWorkspace(tx, childID, 0, lineage, childPath)
		if err != nil {
			return err
		}

		if initialCredits > 0 {
			if _, err := g.ledger.Transfer(tx, parentID, childID, initialCredits, "Initial credits for child agent"); err != nil {
				return err
			}
			child.Balance = initialCredits
		}
		return nil
	})
	if err != nil {
		if workspaceCreated {
			os.RemoveAll(childPath)
		}
		return nil, err
	}

	g.logger.Printf("👶 Agent %s spawned by %s with %.0f credits", childID, parentID, initialCredits)
	return child, nil
}

func (g *Genesis) createAgentWithWorkspace(tx store.Tx, agentID string, balance float64, lineage []string, path string) (*domain.Agent, error) {
	now := time.Now().UTC()
	workspace := &domain.Workspace{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		FilesystemPath: path,
		CreatedAt:      now,
	}
	if err := tx.InsertWorkspace(workspace); err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		ID:          agentID,
		Balance:     balance,
		Status:      domain.AgentAlive,
		Lineage:     lineage,
		WorkspaceID: workspace.ID,
		CreatedAt:   now,
	}
	if err := tx.InsertAgent(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// seedPayload writes payload files into a fresh workspace. Filenames must be
// clean basenames; anything trying to escape the workspace is rejected.
// Empty names are silently skipped.
func seedPayload(dir string, payload map[string]string) error {
	for name, content := range payload {
		if name == "" {
			continue
		}
		if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			return fmt.Errorf("%w: payload filename %q must be a basename", domain.ErrInvalidState, name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return domain.StorageError(err)
		}
	}
	return nil
}
