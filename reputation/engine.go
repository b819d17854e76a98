package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/internal/logger"
	"gitlab.com/stratomesh/provisioning-service/models"
)

var zlog *logger.Logger

func init() {
	zlog = logger.New("reputation")
}

// Engine owns the per-machine trust records. It is the only writer; the
// benchmark executor feeds it one completed result at a time.
type Engine struct {
	records repositories.ReputationRepository
	cfg     config.Verification
	clock   clock.Clock
	mu      sync.Mutex
}

func NewEngine(records repositories.ReputationRepository, cfg config.Verification, clk clock.Clock) *Engine {
	return &Engine{records: records, cfg: cfg, clock: clk}
}

// Get returns the trust record for a machine, or a fresh one at the initial
// score if it has never been benchmarked.
func (e *Engine) Get(ctx context.Context, machineID string) (*models.MachineReputation, error) {
	record, err := e.records.Get(ctx, machineID)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return &models.MachineReputation{
				MachineID: machineID,
				Score:     models.InitialScore,
			}, nil
		}
		return nil, err
	}
	return &record, nil
}

// ApplyResult folds one completed benchmark into the machine's trust record:
// counters, last-benchmark time and deviation, the tiered score adjustment,
// and any signed reputation delta carried by a third-party verification.
func (e *Engine) ApplyResult(ctx context.Context, machineID string, deviationPct float64, result *models.BenchmarkResult) (*models.MachineReputation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.records.Get(ctx, machineID)
	fresh := false
	if err != nil {
		if !errors.Is(err, repositories.NotFoundError) {
			return nil, err
		}
		fresh = true
		record = models.MachineReputation{
			MachineID: machineID,
			Score:     models.InitialScore,
		}
	}

	now := e.clock.Now()
	record.BenchmarkCount++
	record.LastBenchmarkAt = &now
	record.LastDeviationPct = deviationPct

	switch {
	case deviationPct < e.cfg.WarnThresholdPct:
		record.PassCount++
		record.Score = clamp(record.Score + 5)
	case deviationPct < e.cfg.FailThresholdPct:
		record.Score = clamp(record.Score - 2)
	default:
		record.FailCount++
		record.Score = clamp(record.Score - 15)
		record.Flags = append(record.Flags,
			fmt.Sprintf("deviation %.1f%% at %s", deviationPct, now.Format("2006-01-02 15:04:05")))
	}

	if result != nil && result.ReputationDelta != 0 {
		record.Score = clamp(record.Score + result.ReputationDelta)
		if result.CloudVerified {
			record.Flags = append(record.Flags,
				fmt.Sprintf("cloud verification passed (level %d, %+d)", result.CloudAssuranceLevel, result.ReputationDelta))
		} else {
			record.Flags = append(record.Flags,
				fmt.Sprintf("cloud verification failed (%+d)", result.ReputationDelta))
		}
	}

	if fresh {
		record, err = e.records.Create(ctx, record)
	} else {
		record, err = e.records.Update(ctx, machineID, record)
	}
	if err != nil {
		return nil, err
	}

	zlog.Sugar().Infof("machine %s: score %d after %.1f%% deviation (%d/%d pass/fail)",
		machineID, record.Score, deviationPct, record.PassCount, record.FailCount)
	return &record, nil
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
