// Package executor materializes winning allocations: it prepares the
// workspace contract surface, hands the run to the sandbox collaborator, and
// records the outcome. A failed execution is a valid terminal state — errors
// here never abort the cycle.
package executor

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/events"
	"github.com/syntropism/backend/internal/sandbox"
	"github.com/syntropism/backend/internal/store"
)

// EnvFileName is the runtime contract surface consumed by the agent inside
// the sandbox.
const EnvFileName = "env.json"

// ReasoningFileName, when present after a run, is emitted as a reasoning
// trace event. Its absence is not an error.
const ReasoningFileName = "reasoning.txt"

// terminationReasonLimit caps what goes into the execution record.
const terminationReasonLimit = 500

// EnvDescriptor is written to <workspace>/env.json before every run. Field
// names are part of the compatibility surface.
type EnvDescriptor struct {
	AgentID        string  `json:"agent_id"`
	Credits        float64 `json:"credits"`
	ExecutionID    string  `json:"execution_id"`
	AttentionShare float64 `json:"attention_share"`
}

type Executor struct {
	store  store.Store
	box    sandbox.Sandbox
	bus    events.Emitter
	logger *log.Logger
	fanout int
}

// New wires the executor. fanout bounds parallel sandbox dispatch within one
// cycle; values below 1 mean sequential.
func New(s store.Store, box sandbox.Sandbox, bus events.Emitter, fanout int) *Executor {
	if bus == nil {
		bus = events.Nop{}
	}
	if fanout < 1 {
		fanout = 1
	}
	return &Executor{
		store:  s,
		box:    box,
		bus:    bus,
		logger: log.New(log.Writer(), "[Executor] ", log.LstdFlags),
		fanout: fanout,
	}
}

// RunWinners executes every bid currently in Winning state — the ones the
// auctioneer just committed plus any survivors from an interrupted cycle.
// Per-bid failures are logged and skipped; the cycle continues.
func (e *Executor) RunWinners(ctx context.Context) error {
	var winners []*domain.Bid
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		winners, err = tx.ListBidsByStatus(domain.BidWinning)
		return err
	})
	if err != nil {
		return err
	}

	sem := make(chan struct{}, e.fanout)
	var wg sync.WaitGroup
	for _, bid := range winners {
		sem <- struct{}{}
		wg.Add(1)
		go func(b *domain.Bid) {
			defer func() { <-sem; wg.Done() }()
			if err := e.RunOne(ctx, b); err != nil {
				e.logger.Printf("❌ execution for bid %s failed: %v", b.ID, err)
			}
		}(bid)
	}
	wg.Wait()
	return nil
}

// RunOne drives a single winning bid through its sandboxed run.
func (e *Executor) RunOne(ctx context.Context, bid *domain.Bid) error {
	var (
		agent     *domain.Agent
		workspace *domain.Workspace
		bundle    *domain.ResourceBundle
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if agent, err = tx.GetAgent(bid.AgentID); err != nil {
			return err
		}
		if workspace, err = tx.GetWorkspaceByAgent(bid.AgentID); err != nil {
			return err
		}
		bundle, err = tx.GetBundle(bid.BundleID)
		return err
	})
	if err != nil {
		return err
	}

	env := EnvDescriptor{
		AgentID:        agent.ID,
		Credits:        agent.Balance,
		ExecutionID:    bid.ExecutionID,
		AttentionShare: bundle.AttentionPercent,
	}
	if err := writeEnvFile(workspace.FilesystemPath, env); err != nil {
		return err
	}

	e.bus.Emit(events.TopicExecutionStarted, "executor", bid.ExecutionID,
		events.ExecutionStarted(bid.ExecutionID, agent.ID, bid.BundleID))

	exitCode, logs, runErr := e.box.Run(ctx, sandbox.RunSpec{
		AgentID:       agent.ID,
		ExecutionID:   bid.ExecutionID,
		WorkspacePath: workspace.FilesystemPath,
		Budget: sandbox.Budget{
			CPUFraction:     bundle.CPUPercent,
			MemoryFraction:  bundle.MemoryPercent,
			DurationSeconds: bundle.DurationSeconds,
		},
	})
	if runErr != nil {
		// Sandbox failures are not fatal: record them as a failed run.
		if exitCode == 0 {
			exitCode = 1
		}
		if logs == "" {
			logs = runErr.Error()
		}
	}

	now := time.Now().UTC()
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBid(bid.ID)
		if err != nil {
			return err
		}
		b.Status = domain.BidCompleted
		if err := tx.UpdateBid(b); err != nil {
			return err
		}

		exec, err := tx.GetExecution(bid.ExecutionID)
		if err != nil {
			return err
		}
		if exitCode == 0 {
			exec.Status = domain.ExecutionCompleted
		} else {
			exec.Status = domain.ExecutionFailed
		}
		exec.ExitCode = &exitCode
		exec.TerminationReason = truncate(logs, terminationReasonLimit)
		exec.EndTime = &now
		if err := tx.UpdateExecution(exec); err != nil {
			return err
		}

		a, err := tx.GetAgentForUpdate(agent.ID)
		if err != nil {
			return err
		}
		a.LastExecutionAt = &now
		return tx.UpdateAgent(a)
	})
	if err != nil {
		return err
	}

	e.bus.Emit(events.TopicExecutionTerminated, "executor", bid.ExecutionID,
		events.ExecutionTerminated(bid.ExecutionID, agent.ID, exitCode, truncate(logs, 100)))
	e.emitReasoningTrace(agent.ID, workspace.FilesystemPath)

	e.logger.Printf("🏁 Agent %s finished (exit=%d)", agent.ID, exitCode)
	return nil
}

func (e *Executor) emitReasoningTrace(agentID, workspacePath string) {
	path := filepath.Join(workspacePath, ReasoningFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		return // no trace file, nothing to emit
	}
	e.bus.Emit(events.TopicReasoningTrace, "executor", agentID,
		events.ReasoningTrace(agentID, string(content)))
}

func writeEnvFile(workspacePath string, env EnvDescriptor) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspacePath, EnvFileName), data, 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
