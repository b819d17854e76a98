package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"

	"gitlab.com/stratomesh/provisioning-service/adapter/machines"
	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/integrations/chainregistry"
	"gitlab.com/stratomesh/provisioning-service/integrations/cloudverify"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/registry"
	"gitlab.com/stratomesh/provisioning-service/reputation"
	"gitlab.com/stratomesh/provisioning-service/utils"
)

// ErrBenchmarkInFlight is returned when a machine already has a benchmark
// running; at most one runs per machine at any instant.
var ErrBenchmarkInFlight = errors.New("benchmark already in flight for this machine")

// Executor runs one verification benchmark end to end: dispatch, strict
// payload validation, deviation scoring, optional Proof-of-Cloud merge,
// reputation update and, past the slash threshold, a dispute filing.
type Executor struct {
	jobs       repositories.BenchmarkJobRepository
	registry   *registry.Registry
	reputation *reputation.Engine
	machines   *machines.Client
	chain      chainregistry.Client
	verifier   cloudverify.Verifier // optional
	cfg        config.Verification
	clock      clock.Clock
	validate   *validator.Validate

	mu       sync.Mutex
	inflight map[string]bool
}

func NewExecutor(
	jobs repositories.BenchmarkJobRepository,
	reg *registry.Registry,
	rep *reputation.Engine,
	client *machines.Client,
	chain chainregistry.Client,
	verifier cloudverify.Verifier,
	cfg config.Verification,
	clk clock.Clock,
) *Executor {
	return &Executor{
		jobs:       jobs,
		registry:   reg,
		reputation: rep,
		machines:   client,
		chain:      chain,
		verifier:   verifier,
		cfg:        cfg,
		clock:      clk,
		validate:   validator.New(),
		inflight:   make(map[string]bool),
	}
}

// InFlight reports whether a machine currently has a benchmark running.
func (e *Executor) InFlight(machineID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[machineID]
}

// InFlightCount returns how many benchmarks are currently running.
func (e *Executor) InFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

func (e *Executor) acquire(machineID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[machineID] {
		return false
	}
	e.inflight[machineID] = true
	return true
}

func (e *Executor) release(machineID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, machineID)
}

// Dispatch creates a benchmark job for the machine and runs it in the
// background. It fails fast if the machine already has one in flight.
func (e *Executor) Dispatch(ctx context.Context, machineID string, trigger models.BenchmarkTrigger) (*models.BenchmarkJob, error) {
	if _, err := e.registry.Get(ctx, machineID); err != nil {
		return nil, err
	}

	if !e.acquire(machineID) {
		return nil, ErrBenchmarkInFlight
	}

	job := models.BenchmarkJob{
		ID:        utils.NewID(),
		MachineID: machineID,
		Trigger:   trigger,
		Status:    models.JobPending,
		CreatedAt: e.clock.Now(),
	}
	created, err := e.jobs.Create(ctx, job)
	if err != nil {
		e.release(machineID)
		return nil, err
	}

	go e.run(created)
	return &created, nil
}

// run drives one job to a terminal state. The in-flight slot and the job's
// terminal status are settled on every exit path, including panics, so a
// machine can never be locked out of future checks.
func (e *Executor) run(job models.BenchmarkJob) {
	defer e.release(job.MachineID)
	defer func() {
		if r := recover(); r != nil {
			zlog.Sugar().Errorf("benchmark job %s panicked: %v", job.ID, r)
			e.failJob(job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.BenchmarkTimeout())
	defer cancel()

	promise, err := e.registry.Get(ctx, job.MachineID)
	if err != nil {
		e.failJob(job, fmt.Sprintf("machine gone: %v", err))
		return
	}

	job.Status = models.JobRunning
	if _, err := e.jobs.Update(ctx, job.ID, job); err != nil {
		zlog.Sugar().Errorf("failed to mark job %s running: %v", job.ID, err)
	}

	result, err := e.machines.RunBenchmark(ctx, promise.ActivationEndpoint, machines.BenchmarkRequest{
		JobID:          job.ID,
		Image:          e.cfg.BenchmarkImage,
		TimeoutSeconds: int(e.cfg.BenchmarkTimeout().Seconds()),
	})
	if err != nil {
		e.failJob(job, fmt.Sprintf("benchmark call failed: %v", err))
		return
	}

	if err := e.validateResult(result); err != nil {
		e.failJob(job, fmt.Sprintf("invalid benchmark payload: %v", err))
		return
	}

	e.mergeCloudVerification(ctx, promise, result)

	deviation := ComputeDeviation(promise.Spec, result)
	e.judge(ctx, promise, job.ID, deviation)

	if _, err := e.reputation.ApplyResult(ctx, promise.ID, deviation, result); err != nil {
		zlog.Sugar().Errorf("failed to update reputation for %s: %v", promise.ID, err)
	}

	if txHash, err := e.chain.SubmitBenchmark(ctx, promise.ID, result); err != nil {
		zlog.Sugar().Warnf("failed to publish benchmark for %s: %v", promise.ID, err)
	} else if txHash != "" {
		zlog.Sugar().Infof("benchmark for %s published as %s", promise.ID, txHash)
	}

	now := e.clock.Now()
	job.Status = models.JobCompleted
	job.Result = result
	job.FinishedAt = &now
	if _, err := e.jobs.Update(context.Background(), job.ID, job); err != nil {
		zlog.Sugar().Errorf("failed to complete job %s: %v", job.ID, err)
	}
}

// validateResult enforces the strict BenchmarkResult shape: numeric ranges,
// enumerated categories and hex-format hashes. Violations fail the job,
// nothing is coerced.
func (e *Executor) validateResult(result *models.BenchmarkResult) error {
	if err := e.validate.Struct(result); err != nil {
		return err
	}
	if result.AttestationHash != "" && !utils.IsHexHash(result.AttestationHash) {
		return fmt.Errorf("attestation hash %q is not hex", result.AttestationHash)
	}
	if result.HardwareIDHash != "" && !utils.IsHexHash(result.HardwareIDHash) {
		return fmt.Errorf("hardware id hash %q is not hex", result.HardwareIDHash)
	}
	return nil
}

// mergeCloudVerification folds the Proof-of-Cloud attestation into the
// result when a TEE was detected and both a verifier and an on-chain agent
// identity are available. The verifier-owned fields are cleared up front: the
// agent's payload cannot vouch for itself, whatever it self-reports there is
// discarded. Verifier failures are logged and leave the cleared result as is.
func (e *Executor) mergeCloudVerification(ctx context.Context, promise *models.MachinePromise, result *models.BenchmarkResult) {
	result.CloudVerified = false
	result.CloudAssuranceLevel = 0
	result.CloudProvider = ""
	result.CloudRegion = ""
	result.HardwareIDHash = ""
	result.ReputationDelta = 0

	if e.verifier == nil || promise.AgentID == "" {
		return
	}
	if !result.TEEDetected || result.AttestationHash == "" {
		return
	}

	verification, err := e.verifier.VerifyNode(ctx, promise.AgentID, result.AttestationHash)
	if err != nil {
		zlog.Sugar().Warnf("cloud verification for %s failed: %v", promise.ID, err)
		return
	}

	result.CloudVerified = verification.Verified
	result.CloudAssuranceLevel = verification.Level
	result.CloudProvider = verification.CloudProvider
	result.CloudRegion = verification.Region
	result.HardwareIDHash = verification.HardwareIDHash
	result.ReputationDelta = verification.ReputationDelta
}

// judge logs the deviation at its threshold severity and, past the slash
// threshold, files a dispute against the operator. A dispute that cannot be
// submitted is logged; local state stands either way.
func (e *Executor) judge(ctx context.Context, promise *models.MachinePromise, jobID string, deviation float64) {
	switch {
	case deviation >= e.cfg.SlashThresholdPct:
		zlog.Sugar().Errorf("machine %s deviates %.1f%% from its claimed spec, filing dispute", promise.ID, deviation)
		reason := fmt.Sprintf("benchmark %s measured %.1f%% deviation from the claimed hardware spec", jobID, deviation)
		if txHash, err := e.chain.DisputeBenchmark(ctx, promise.Operator, reason); err != nil {
			zlog.Sugar().Errorf("failed to file dispute against %s: %v", promise.Operator, err)
		} else if txHash != "" {
			zlog.Sugar().Infof("dispute against %s filed as %s", promise.Operator, txHash)
		}
	case deviation >= e.cfg.FailThresholdPct:
		zlog.Sugar().Warnf("machine %s deviates %.1f%% from its claimed spec", promise.ID, deviation)
	case deviation >= e.cfg.WarnThresholdPct:
		zlog.Sugar().Warnf("machine %s deviates %.1f%%, below the failure threshold", promise.ID, deviation)
	}
}

func (e *Executor) failJob(job models.BenchmarkJob, reason string) {
	now := e.clock.Now()
	job.Status = models.JobFailed
	job.Error = reason
	job.FinishedAt = &now
	if _, err := e.jobs.Update(context.Background(), job.ID, job); err != nil {
		zlog.Sugar().Errorf("failed to fail job %s: %v", job.ID, err)
	}
	zlog.Sugar().Warnf("benchmark job %s failed: %s", job.ID, reason)
}

// GetJob returns one job by id.
func (e *Executor) GetJob(ctx context.Context, id string) (*models.BenchmarkJob, error) {
	job, err := e.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns every benchmark job on record.
func (e *Executor) ListJobs(ctx context.Context) ([]models.BenchmarkJob, error) {
	return e.jobs.FindAll(ctx, e.jobs.GetQuery())
}

// History returns the last completed benchmark results for a machine,
// newest first, capped at ten.
func (e *Executor) History(ctx context.Context, machineID string) ([]models.BenchmarkResult, error) {
	query := e.jobs.GetQuery()
	query.Conditions = []repositories.QueryCondition{
		repositories.EQ("MachineID", machineID),
		repositories.EQ("Status", string(models.JobCompleted)),
	}
	jobs, err := e.jobs.FindAll(ctx, query)
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	results := make([]models.BenchmarkResult, 0, 10)
	for _, job := range jobs {
		if job.Result == nil {
			continue
		}
		results = append(results, *job.Result)
		if len(results) == 10 {
			break
		}
	}
	return results, nil
}
