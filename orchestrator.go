package netagent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchConcurrency = 5
	defaultRateWindow       = time.Minute
)

// BatchRecorder persists finished batch results to an external store.
// Recording is best-effort: failures are logged, never surfaced.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, result *BatchResult) error
}

// ProgressFunc receives dispatcher progress while a batch runs: devices
// settled so far, total devices, and a human-readable stage.
type ProgressFunc func(done, total int, stage string)

// OrchestratorConfig controls batch execution behavior.
type OrchestratorConfig struct {
	// Concurrency bounds the worker pool; default 5.
	Concurrency int
	// PoolCapacity bounds the connection pool; 0 selects the default.
	PoolCapacity int
	// CacheTTL bounds result-cache entry age; 0 selects the default.
	CacheTTL time.Duration
	// RateLimit caps commands per device per RateWindow; 0 disables.
	RateLimit  int
	RateWindow time.Duration
	// Recorder is an optional audit sink for finished batches.
	Recorder BatchRecorder
}

// Orchestrator dispatches a single logical command across a device fleet,
// aggregating per-device outcomes into one BatchResult.
type Orchestrator struct {
	inventory  *Inventory
	validator  *CommandValidator
	classifier *ErrorClassifier
	pool       *ConnPool
	cache      *ResultCache
	limiter    *deviceRateLimiter
	recorder   BatchRecorder

	concurrency int
}

// NewOrchestrator wires the orchestrator over inventory and transport.
// Connection-pool eviction invalidates the result cache for the same device
// while the pool lock is held, so a cache read can never race a known-bad
// session back into circulation.
func NewOrchestrator(inventory *Inventory, transport Transport, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultBatchConcurrency
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	cache := NewResultCache(cfg.CacheTTL)
	pool := NewConnPool(transport, cfg.PoolCapacity, cache.Invalidate)
	return &Orchestrator{
		inventory:   inventory,
		validator:   NewCommandValidator(),
		classifier:  NewErrorClassifier(),
		pool:        pool,
		cache:       cache,
		limiter:     newDeviceRateLimiter(cfg.RateLimit, cfg.RateWindow),
		recorder:    cfg.Recorder,
		concurrency: cfg.Concurrency,
	}
}

// Pool exposes the connection pool for health management by callers.
func (o *Orchestrator) Pool() *ConnPool {
	return o.pool
}

// Cache exposes the result cache.
func (o *Orchestrator) Cache() *ResultCache {
	return o.cache
}

// RunBatch validates command, resolves the target set, and executes one unit
// of work per device over a bounded worker pool. Per-device failures never
// abort the batch; only pre-dispatch conditions short-circuit.
func (o *Orchestrator) RunBatch(ctx context.Context, command string, targets []string) *BatchResult {
	return o.RunBatchWithProgress(ctx, command, targets, nil)
}

// RunBatchWithProgress is RunBatch with dispatcher progress reporting; the
// task registry uses it to track in-flight batches.
func (o *Orchestrator) RunBatchWithProgress(ctx context.Context, command string, targets []string, progress ProgressFunc) *BatchResult {
	start := time.Now()
	result := &BatchResult{
		Command:  command,
		Outputs:  make(map[string]string),
		Failures: make(map[string]DeviceFailure),
	}

	if ok, reason := o.validator.Validate(command); !ok {
		log.Warn().Str("command", command).Str("reason", reason).Msg("batch command rejected by validator")
		result.BatchError = &DeviceFailure{
			Message: reason,
			Detail: ErrorDetail{
				Type:       "security_violation",
				Category:   CategorySecurity,
				Severity:   SeverityHigh,
				Suggestion: "only read-only query commands are permitted",
			},
		}
		result.Elapsed = time.Since(start)
		return result
	}

	resolved := o.resolveTargets(ctx, targets)
	if len(resolved) == 0 {
		log.Info().Str("command", command).Msg("batch resolved no matching devices")
		result.BatchError = &DeviceFailure{
			Message: "no matching devices",
			Detail: ErrorDetail{
				Type:       "no_matching_devices",
				Category:   CategoryFilter,
				Severity:   SeverityInfo,
				Suggestion: "check the requested device list against the inventory and any active scope restriction",
			},
		}
		result.Elapsed = time.Since(start)
		return result
	}
	result.TotalDevices = len(resolved)

	// Pre-flight: drop known-bad pooled sessions so they cannot waste a
	// worker slot mid-batch.
	if len(resolved) > 1 {
		for _, addr := range resolved {
			o.pool.HealthCheck(ctx, addr)
		}
	}

	log.Info().
		Str("command", command).
		Int("devices", len(resolved)).
		Int("concurrency", o.concurrency).
		Msg("dispatching batch")

	var (
		mu      sync.Mutex
		settled int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.concurrency)
	for _, addr := range resolved {
		dev, _ := o.inventory.Lookup(addr)
		group.Go(func() error {
			output, failure, cacheHit := o.runUnit(groupCtx, dev, command)
			mu.Lock()
			if failure != nil {
				result.Failures[dev.Address] = *failure
			} else {
				result.Outputs[dev.Address] = output
			}
			if cacheHit {
				result.CacheHits++
			} else {
				result.CacheMisses++
			}
			settled++
			done := settled
			mu.Unlock()
			if progress != nil {
				progress(done, len(resolved), "executing on "+dev.Address)
			}
			return nil
		})
	}
	// Workers never return errors: per-device failures are aggregated.
	_ = group.Wait()

	result.Elapsed = time.Since(start)
	log.Info().
		Str("command", command).
		Int("total", result.TotalDevices).
		Int("success", result.SuccessCount()).
		Int("failed", result.FailureCount()).
		Dur("elapsed", result.Elapsed).
		Msg("batch finished")

	if o.recorder != nil {
		if err := o.recorder.RecordBatch(ctx, result); err != nil {
			log.Error().Err(err).Msg("record batch result failed")
		}
	}
	return result
}

// resolveTargets intersects the caller-specified device list with the
// inventory and any context scope restriction. The scope only narrows.
func (o *Orchestrator) resolveTargets(ctx context.Context, targets []string) []string {
	scope, scoped := ScopeFrom(ctx)
	candidates := targets
	if candidates == nil {
		candidates = o.inventory.Addresses()
	}
	resolved := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, addr := range candidates {
		dev, ok := o.inventory.Lookup(addr)
		if !ok {
			continue
		}
		if scoped && !scope.Allows(dev.Address) {
			continue
		}
		if _, dup := seen[dev.Address]; dup {
			continue
		}
		seen[dev.Address] = struct{}{}
		resolved = append(resolved, dev.Address)
	}
	return resolved
}

// runUnit executes command on one device: cache short-circuit, pooled
// execution, and a single retry after eviction for transport-classified
// failures.
func (o *Orchestrator) runUnit(ctx context.Context, dev Device, command string) (string, *DeviceFailure, bool) {
	cacheable := o.cache.Cacheable(command)
	if cacheable {
		if output, ok := o.cache.Get(dev.Address, command); ok {
			log.Debug().Str("device", dev.Address).Msg("serving cached output")
			return output, nil, true
		}
	}

	if !o.limiter.allow(dev.Address, time.Now()) {
		detail := o.classifier.Classify("resource busy: rate limit")
		return "", &DeviceFailure{
			Message: "resource busy: device command rate limit exceeded",
			Detail:  detail,
		}, false
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		output, err := o.execute(ctx, dev, command)
		if err == nil {
			if cacheable {
				o.cache.Put(dev.Address, command, output)
			}
			return output, nil, false
		}
		lastErr = err
		detail := o.classifier.Classify(err.Error())
		if !IsTransport(detail) {
			return "", &DeviceFailure{Message: err.Error(), Detail: detail}, false
		}
		// Transport failure: the session is suspect regardless of whether
		// a retry is still available.
		o.pool.Evict(dev.Address)
		if attempt == 0 {
			log.Warn().Err(err).Str("device", dev.Address).Msg("transport failure, retrying once after eviction")
		}
	}
	return "", &DeviceFailure{
		Message: lastErr.Error(),
		Detail:  o.classifier.Classify(lastErr.Error()),
	}, false
}

func (o *Orchestrator) execute(ctx context.Context, dev Device, command string) (string, error) {
	conn, err := o.pool.Acquire(ctx, dev)
	if err != nil {
		return "", err
	}
	defer o.pool.Release(conn)
	return conn.Run(ctx, command)
}
