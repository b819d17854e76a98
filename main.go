package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"gitlab.com/stratomesh/provisioning-service/adapter/machines"
	"gitlab.com/stratomesh/provisioning-service/allocation"
	"gitlab.com/stratomesh/provisioning-service/api"
	"gitlab.com/stratomesh/provisioning-service/db"
	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	repositories_gorm "gitlab.com/stratomesh/provisioning-service/db/repositories/gorm"
	repositories_memory "gitlab.com/stratomesh/provisioning-service/db/repositories/memory"
	"gitlab.com/stratomesh/provisioning-service/integrations/chainregistry"
	"gitlab.com/stratomesh/provisioning-service/integrations/cloudverify"
	"gitlab.com/stratomesh/provisioning-service/internal/background_tasks"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/internal/tracing"
	"gitlab.com/stratomesh/provisioning-service/registry"
	"gitlab.com/stratomesh/provisioning-service/reputation"
	"gitlab.com/stratomesh/provisioning-service/verification"
)

type stores struct {
	promises    repositories.PromiseRepository
	allocations repositories.AllocationRepository
	reputations repositories.ReputationRepository
	jobs        repositories.BenchmarkJobRepository
}

func openStores(cfg *config.Config) (*stores, error) {
	// The local environment runs entirely in memory; testnet and mainnet
	// keep their state in sqlite under the data directory.
	if cfg.General.Environment == "local" {
		return &stores{
			promises:    repositories_memory.NewPromiseRepository(),
			allocations: repositories_memory.NewAllocationRepository(),
			reputations: repositories_memory.NewReputationRepository(),
			jobs:        repositories_memory.NewBenchmarkJobRepository(),
		}, nil
	}

	database, err := db.ConnectDatabase(cfg.General.DataDir)
	if err != nil {
		return nil, err
	}
	return &stores{
		promises:    repositories_gorm.NewPromiseRepository(database),
		allocations: repositories_gorm.NewAllocationRepository(database),
		reputations: repositories_gorm.NewReputationRepository(database),
		jobs:        repositories_gorm.NewBenchmarkJobRepository(database),
	}, nil
}

func main() {
	config.LoadConfig()
	cfg := config.GetConfig()

	cleanup := tracing.InitTracer()
	defer cleanup(context.Background())

	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}

	clk := clock.New()

	var chain chainregistry.Client = chainregistry.Noop{}
	if cfg.Integrations.ChainGatewayURL != "" {
		chain = chainregistry.NewHTTPGateway(cfg.Integrations.ChainGatewayURL)
	}
	var verifier cloudverify.Verifier
	if cfg.Integrations.VerifierURL != "" {
		verifier = cloudverify.NewHTTPVerifier(cfg.Integrations.VerifierURL)
	}

	machineClient := machines.NewClient()
	reg := registry.NewRegistry(st.promises, registry.NoopScheduler{}, cfg.Provisioning, clk)
	rep := reputation.NewEngine(st.reputations, cfg.Verification, clk)
	engine := allocation.NewEngine(st.allocations, reg, machineClient, cfg.Provisioning, clk)
	executor := verification.NewExecutor(st.jobs, reg, rep, machineClient, chain, verifier, cfg.Verification, clk)
	scheduler := verification.NewScheduler(reg, rep, executor, cfg.Verification, clk)

	tasks := background_tasks.NewScheduler(3)
	tasks.AddTask(&background_tasks.Task{
		Name:        "heartbeat sweep",
		Description: "marks promises with lapsed heartbeats offline",
		Function: func() error {
			return reg.SweepStale(context.Background())
		},
		Triggers: []background_tasks.Trigger{
			&background_tasks.PeriodicTrigger{Interval: cfg.Provisioning.HeartbeatInterval()},
		},
	})
	tasks.AddTask(&background_tasks.Task{
		Name:        "allocation cleanup",
		Description: "recovers allocations stuck in pending or activating",
		Function: func() error {
			return engine.CleanupStuck(context.Background())
		},
		Triggers: []background_tasks.Trigger{
			&background_tasks.PeriodicTrigger{Interval: 60 * time.Second},
		},
	})
	tasks.AddTask(&background_tasks.Task{
		Name:        "benchmark tick",
		Description: "dispatches due verification benchmarks",
		Function: func() error {
			return scheduler.Tick(context.Background())
		},
		Triggers: []background_tasks.Trigger{
			&background_tasks.PeriodicTrigger{CronExpr: "@hourly"},
		},
	})
	tasks.Start()
	defer tasks.Stop()

	router := api.SetupRouter(&api.Handlers{
		Registry:   reg,
		Engine:     engine,
		Reputation: rep,
		Executor:   executor,
	})
	if err := router.Run(fmt.Sprintf(":%d", cfg.Rest.Port)); err != nil {
		log.Fatalf("rest server stopped: %v", err)
	}
}
