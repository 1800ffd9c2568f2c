// Demo: drives one full economic cycle against the in-memory store — spawn,
// bid, clearing, sandboxed run (stubbed), attention reward and death sweep.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/syntropism/backend/internal/attention"
	"github.com/syntropism/backend/internal/cycle"
	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/executor"
	"github.com/syntropism/backend/internal/genesis"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/sandbox"
	"github.com/syntropism/backend/internal/store"
)

func main() {
	fmt.Println("🤖 Syntropism economy simulation (in-memory, stub sandbox)")

	ctx := context.Background()
	s := store.NewMemory()
	l := ledger.New(s)

	if err := market.Bootstrap(ctx, s, nil); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	workspaceRoot, err := os.MkdirTemp("", "syntropism-sim-")
	if err != nil {
		log.Fatalf("workspace root: %v", err)
	}
	defer os.RemoveAll(workspaceRoot)

	gen := genesis.New(s, l, workspaceRoot, domain.SpawnCost, domain.GenesisInitialCredits)
	root, err := gen.CreateRoot(ctx)
	if err != nil {
		log.Fatalf("genesis: %v", err)
	}
	fmt.Printf("🌱 Root agent %q holds %.0f credits\n", root.ID, root.Balance)

	child, err := gen.SpawnChild(ctx, root.ID, 200, map[string]string{
		"main.py": "print('hello economy')",
	})
	if err != nil {
		log.Fatalf("spawn: %v", err)
	}
	fmt.Printf("👶 Spawned %s (lineage %v) with %.0f credits\n", child.ID, child.Lineage, child.Balance)

	desk := market.NewDesk(s, nil)
	bundle, err := desk.CreateBundle(ctx, &market.BundleRequest{
		CPUPercent:       0.5,
		MemoryPercent:    0.25,
		AttentionPercent: 1,
		DurationSeconds:  30,
	})
	if err != nil {
		log.Fatalf("bundle: %v", err)
	}
	bid, err := desk.PlaceBid(ctx, child.ID, bundle.ID, 50)
	if err != nil {
		log.Fatalf("bid: %v", err)
	}
	fmt.Printf("🏷️ Bid %s placed: %.0f credits for bundle %s\n", bid.ID, bid.Amount, bundle.ID)

	auctioneer := market.NewAuctioneer(s, l, nil, nil)
	exec := executor.New(s, sandbox.NewStub(), nil, 1)
	broker := attention.NewBroker(s, l, nil)
	driver := cycle.NewDriver(s, auctioneer, exec, broker,
		attention.Static{Scores: attention.Scores{Interesting: 8, Useful: 9, Understandable: 7, Reason: "simulated"}}, nil)

	if err := driver.RunCycle(ctx); err != nil {
		log.Fatalf("cycle: %v", err)
	}

	// The winning execution bought attention; file a prompt and let the
	// next cycle settle it with the static verdict.
	var execID string
	err = s.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBid(bid.ID)
		if err != nil {
			return err
		}
		execID = b.ExecutionID
		return nil
	})
	if err != nil || execID == "" {
		log.Fatalf("bid did not win: %v", err)
	}

	if _, err := broker.SubmitPrompt(ctx, child.ID, execID, map[string]interface{}{
		"output": "hello economy",
	}, 10); err != nil {
		log.Fatalf("prompt: %v", err)
	}
	if err := driver.RunCycle(ctx); err != nil {
		log.Fatalf("cycle: %v", err)
	}

	balance, err := l.Balance(ctx, child.ID)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	fmt.Printf("💰 Child balance after reward: %.0f credits\n", balance)

	history, err := l.History(ctx, child.ID)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	fmt.Println("📜 Ledger trail (newest first):")
	for _, tr := range history {
		fmt.Printf("   %-18s -> %-18s %8.1f  %s\n", tr.FromEntity, tr.ToEntity, tr.Amount, tr.Memo)
	}
}
