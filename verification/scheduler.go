package verification

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"

	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/registry"
	"gitlab.com/stratomesh/provisioning-service/reputation"
)

// Scheduler decides, on every tick, which available machines are due for a
// verification benchmark. The re-check interval is tiered by reputation
// score, with a low-probability spot check in between.
type Scheduler struct {
	registry   *registry.Registry
	reputation *reputation.Engine
	executor   *Executor
	cfg        config.Verification
	clock      clock.Clock
	randPct    func() float64 // uniform draw from [0,100)
}

func NewScheduler(
	reg *registry.Registry,
	rep *reputation.Engine,
	exec *Executor,
	cfg config.Verification,
	clk clock.Clock,
) *Scheduler {
	return &Scheduler{
		registry:   reg,
		reputation: rep,
		executor:   exec,
		cfg:        cfg,
		clock:      clk,
		randPct:    func() float64 { return rand.Float64() * 100 },
	}
}

// Tick walks the available machines and dispatches benchmarks up to the
// global concurrency budget. Machines already being benchmarked are skipped.
func (s *Scheduler) Tick(ctx context.Context) error {
	promises, err := s.registry.ListAvailable(ctx, registry.MachineFilter{})
	if err != nil {
		return err
	}

	budget := s.cfg.MaxConcurrentBenchmarks - s.executor.InFlightCount()
	now := s.clock.Now()

	for _, promise := range promises {
		if budget <= 0 {
			break
		}
		if s.executor.InFlight(promise.ID) {
			continue
		}

		record, err := s.reputation.Get(ctx, promise.ID)
		if err != nil {
			zlog.Sugar().Errorf("failed to load reputation for %s: %v", promise.ID, err)
			continue
		}

		needed, trigger := s.ShouldBenchmark(record, now)
		if !needed {
			continue
		}

		if _, err := s.executor.Dispatch(ctx, promise.ID, trigger); err != nil {
			if !errors.Is(err, ErrBenchmarkInFlight) {
				zlog.Sugar().Errorf("failed to dispatch benchmark for %s: %v", promise.ID, err)
			}
			continue
		}
		budget--
	}
	return nil
}

// ShouldBenchmark applies the tiered schedule: never-checked machines are
// always due; otherwise the interval depends on the trust score, and once a
// day there is one spot-check draw against the configured percentage.
func (s *Scheduler) ShouldBenchmark(record *models.MachineReputation, now time.Time) (bool, models.BenchmarkTrigger) {
	if record.BenchmarkCount == 0 || record.LastBenchmarkAt == nil {
		return true, models.TriggerInitial
	}

	intervalDays := s.cfg.MidTierIntervalDays
	switch {
	case record.Score < 30:
		intervalDays = s.cfg.LowTierIntervalDays
	case record.Score >= 70:
		intervalDays = s.cfg.HighTierIntervalDays
	}

	elapsedDays := now.Sub(*record.LastBenchmarkAt).Hours() / 24
	if elapsedDays >= float64(intervalDays) {
		return true, models.TriggerScheduled
	}
	if elapsedDays >= 1 && s.randPct() < s.cfg.SpotCheckPercent {
		return true, models.TriggerRandom
	}
	return false, ""
}
