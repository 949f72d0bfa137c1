package main

import (
	"strings"
	"time"

	netagent "github.com/fleetops/netagent"
	"github.com/fleetops/netagent/internal/config"
	"github.com/fleetops/netagent/internal/sshx"
	"github.com/fleetops/netagent/pkg/recorder"
	"github.com/pkg/errors"
)

const (
	envInventoryPath = "NETAGENT_INVENTORY"
	envConcurrency   = "NETAGENT_CONCURRENCY"
	envPoolCapacity  = "NETAGENT_POOL_CAPACITY"
	envCacheTTL      = "NETAGENT_CACHE_TTL"
	envDialTimeout   = "NETAGENT_DIAL_TIMEOUT"
)

func loadInventory() (*netagent.Inventory, error) {
	path := strings.TrimSpace(rootInventory)
	if path == "" {
		path = config.String(envInventoryPath, "")
	}
	if path == "" {
		return nil, errors.Errorf("--inventory or $%s is required", envInventoryPath)
	}
	return netagent.LoadInventory(path)
}

func buildOrchestrator(concurrency int) (*netagent.Orchestrator, error) {
	inventory, err := loadInventory()
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = config.Int(envConcurrency, 0)
	}
	rec, err := recorder.NewFromEnv()
	if err != nil {
		return nil, err
	}
	transport := sshx.NewTransport(sshx.EnvCredentialResolver{}, config.Duration(envDialTimeout, 10*time.Second))
	return netagent.NewOrchestrator(inventory, transport, netagent.OrchestratorConfig{
		Concurrency:  concurrency,
		PoolCapacity: config.Int(envPoolCapacity, 0),
		CacheTTL:     config.Duration(envCacheTTL, 0),
		Recorder:     rec,
	}), nil
}
