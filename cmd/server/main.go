package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/syntropism/backend/internal/api"
	"github.com/syntropism/backend/internal/attention"
	"github.com/syntropism/backend/internal/config"
	"github.com/syntropism/backend/internal/cycle"
	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/events"
	"github.com/syntropism/backend/internal/executor"
	"github.com/syntropism/backend/internal/genesis"
	"github.com/syntropism/backend/internal/ledger"
	"github.com/syntropism/backend/internal/market"
	"github.com/syntropism/backend/internal/sandbox"
	"github.com/syntropism/backend/internal/store"
)

func main() {
	log.Println("🔥 Starting Syntropism Economy Backend...")

	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	var st store.Store
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgres(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		st = pg
		log.Println("🗄️ Using Postgres store")
	} else {
		st = store.NewMemory()
		log.Println("🗄️ Using in-memory store")
	}

	// Event egress: in-process bus always, Pub/Sub mirror when configured.
	bus := events.NewBus()
	var emitter events.Emitter = bus
	if cfg.PubSub.ProjectID != "" {
		psBus, err := events.NewPubSubBus(cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			log.Fatalf("pubsub: %v", err)
		}
		defer psBus.Close()
		bus = psBus.Bus
		emitter = psBus
		log.Printf("📡 Mirroring events to Pub/Sub project %s", cfg.PubSub.ProjectID)
	}

	// Price snapshot cache is optional.
	var cache *market.PriceCache
	if cfg.Redis.Addr != "" {
		cache, err = market.NewPriceCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer cache.Close()
	}

	resources := make(map[domain.ResourceType]domain.ResourceDefault, len(domain.MarketResources))
	for rt, d := range domain.MarketResources {
		resources[rt] = d
	}
	for kind, rc := range cfg.Economy.Resources {
		resources[domain.ResourceType(kind)] = domain.ResourceDefault{Supply: rc.Supply, Price: rc.Price}
	}
	if err := market.Bootstrap(ctx, st, resources); err != nil {
		log.Fatalf("market bootstrap: %v", err)
	}

	led := ledger.New(st)
	desk := market.NewDesk(st, emitter)
	auctioneer := market.NewAuctioneer(st, led, emitter, cache)
	auctioneer.SetPriceBounds(cfg.Economy.MinPrice, cfg.Economy.MaxPrice)

	var box sandbox.Sandbox
	if cfg.Sandbox.Stub {
		box = sandbox.NewStub()
		log.Println("📦 Sandbox stubbed out")
	} else {
		box, err = sandbox.NewDocker(cfg.Sandbox.Image, cfg.Sandbox.TotalMemoryMB, "http://host.docker.internal:"+cfg.Server.Port)
		if err != nil {
			log.Fatalf("docker: %v", err)
		}
	}
	exec := executor.New(st, box, emitter, cfg.Cycle.Fanout)

	rates := cfg.Economy.AttentionRates
	if len(rates) == 0 {
		rates = nil
	}
	broker := attention.NewBroker(st, led, rates)
	var operator attention.Operator
	if cfg.Cycle.Interactive {
		operator = attention.NewConsole(os.Stdin, os.Stdout)
	} else {
		operator = attention.Static{Scores: attention.NeutralScores()}
	}

	gen := genesis.New(st, led, cfg.Sandbox.WorkspaceRoot, cfg.Economy.SpawnCost, cfg.Economy.GenesisCredits)
	if _, err := gen.CreateRoot(ctx); err != nil {
		log.Fatalf("genesis: %v", err)
	}

	driver := cycle.NewDriver(st, auctioneer, exec, broker, operator, cycle.NewMetrics())
	go driver.Run(ctx, cfg.Cycle.Interval)

	server := api.NewServer(st, led, desk, cache, broker, gen, bus)
	if err := server.Start(cfg.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
