package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"gitlab.com/stratomesh/provisioning-service/adapter/machines"
	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/registry"
	"gitlab.com/stratomesh/provisioning-service/utils"
)

var (
	ErrNoSuitableMachine = errors.New("no suitable machine for the requested resources")
	ErrNotFound          = errors.New("allocation not found")
	ErrNotAuthorized     = errors.New("user does not own this allocation")
)

// Engine owns the allocation table and drives the lease lifecycle: best-fit
// matching, synchronous reservation, supervised asynchronous activation and
// teardown.
type Engine struct {
	allocations repositories.AllocationRepository
	registry    *registry.Registry
	machines    *machines.Client
	cfg         config.Provisioning
	clock       clock.Clock

	mu          sync.Mutex
	activations map[string]context.CancelFunc // in-flight activation per allocation id
}

func NewEngine(
	allocations repositories.AllocationRepository,
	reg *registry.Registry,
	client *machines.Client,
	cfg config.Provisioning,
	clk clock.Clock,
) *Engine {
	return &Engine{
		allocations: allocations,
		registry:    reg,
		machines:    client,
		cfg:         cfg,
		clock:       clk,
		activations: make(map[string]context.CancelFunc),
	}
}

// Allocate leases the best-fitting available machine to the user. The chosen
// promise is reserved synchronously, before any network call, so a
// concurrent Allocate cannot double-book it; activation then runs in the
// background and commits or rolls the lease back.
func (e *Engine) Allocate(ctx context.Context, user string, req models.AllocationRequirements) (*models.MachineAllocation, error) {
	if user == "" {
		return nil, fmt.Errorf("user must not be empty")
	}

	candidates, err := e.registry.ListAvailable(ctx, registry.MachineFilter{
		Region:          req.Region,
		MinCPUCores:     req.MinCPUCores,
		MinMemoryMB:     req.MinMemoryMB,
		GPURequired:     req.GPURequired,
		TEERequired:     req.TEERequired,
		MaxPricePerHour: req.MaxPricePerHour,
	})
	if err != nil {
		return nil, err
	}

	matched := make([]models.MachinePromise, 0, len(candidates))
	for _, c := range candidates {
		if req.MinStorageMB > 0 && c.Spec.Storage.SizeMB < req.MinStorageMB {
			continue
		}
		if req.GPUType != "" && (c.Spec.GPU == nil || c.Spec.GPU.Type != req.GPUType) {
			continue
		}
		matched = append(matched, c)
	}
	if len(matched) == 0 {
		return nil, ErrNoSuitableMachine
	}

	rankCandidates(matched, req)

	allocationID := utils.NewID()
	var promise *models.MachinePromise
	for i := range matched {
		promise, err = e.registry.Reserve(ctx, matched[i].ID, allocationID, user)
		if err == nil {
			break
		}
		if errors.Is(err, registry.ErrNotAvailable) {
			// Lost the race for this promise; try the next best fit.
			continue
		}
		return nil, err
	}
	if promise == nil {
		return nil, ErrNoSuitableMachine
	}

	alloc := models.MachineAllocation{
		ID:              allocationID,
		PromiseID:       promise.ID,
		User:            user,
		Spec:            promise.Spec,
		Capabilities:    promise.Capabilities,
		Status:          models.AllocationPending,
		PricePerHourWei: promise.PricePerHourWei,
		StartedAt:       e.clock.Now(),
	}
	created, err := e.allocations.Create(ctx, alloc)
	if err != nil {
		if rbErr := e.registry.RestoreAvailable(ctx, promise.ID); rbErr != nil {
			zlog.Sugar().Errorf("failed to roll back reservation of %s: %v", promise.ID, rbErr)
		}
		return nil, err
	}

	e.startActivation(&created, promise)
	return &created, nil
}

// rankCandidates orders promises by the tie-break chain: smallest CPU-core
// surplus over the requirement first, then lowest hourly price, then longest
// proven uptime (earliest registration).
func rankCandidates(promises []models.MachinePromise, req models.AllocationRequirements) {
	sort.SliceStable(promises, func(i, j int) bool {
		si := promises[i].Spec.CPU.Cores - req.MinCPUCores
		sj := promises[j].Spec.CPU.Cores - req.MinCPUCores
		if si != sj {
			return si < sj
		}
		if promises[i].PricePerHourWei != promises[j].PricePerHourWei {
			return promises[i].PricePerHourWei < promises[j].PricePerHourWei
		}
		return promises[i].RegisteredAt.Before(promises[j].RegisteredAt)
	})
}

// Release tears an allocation down. Only the allocation's user may release
// it; releasing a terminated allocation is a no-op. Deactivation failures
// are logged, never fatal: release always proceeds to terminated.
func (e *Engine) Release(ctx context.Context, allocationID, user string) error {
	e.mu.Lock()
	alloc, err := e.allocations.Get(ctx, allocationID)
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, repositories.NotFoundError) {
			return ErrNotFound
		}
		return err
	}
	if alloc.User != user {
		e.mu.Unlock()
		return ErrNotAuthorized
	}
	if alloc.Status == models.AllocationTerminated {
		e.mu.Unlock()
		return nil
	}

	// Cancel any in-flight activation; a result arriving after this point is
	// discarded rather than resurrecting the allocation.
	if cancel, ok := e.activations[allocationID]; ok {
		cancel()
		delete(e.activations, allocationID)
	}

	alloc.Status = models.AllocationTerminating
	if _, err := e.allocations.Update(ctx, alloc.ID, alloc); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	promise, err := e.registry.Get(ctx, alloc.PromiseID)
	if err == nil {
		if err := e.registry.SetDraining(ctx, promise.ID); err != nil {
			zlog.Sugar().Warnf("failed to mark promise %s draining: %v", promise.ID, err)
		}

		deadlineCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ActivationTimeout())
		if err := e.machines.Deactivate(deadlineCtx, promise.ActivationEndpoint, alloc.ID); err != nil {
			zlog.Sugar().Warnf("deactivation of %s on machine %s failed: %v", alloc.ID, promise.ID, err)
		}
		cancel()
	} else {
		zlog.Sugar().Warnf("promise %s gone while releasing allocation %s", alloc.PromiseID, alloc.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	alloc.Status = models.AllocationTerminated
	alloc.EndedAt = &now
	accrueCost(&alloc, now)
	if _, err := e.allocations.Update(ctx, alloc.ID, alloc); err != nil {
		return err
	}

	if err := e.registry.RestoreAvailable(ctx, alloc.PromiseID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		zlog.Sugar().Errorf("failed to restore promise %s: %v", alloc.PromiseID, err)
	}
	zlog.Sugar().Infof("released allocation %s on machine %s", alloc.ID, alloc.PromiseID)
	return nil
}

// Get returns an allocation by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.MachineAllocation, error) {
	alloc, err := e.allocations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &alloc, nil
}

// ListByUser returns all allocations ever created for a user, terminated
// ones included.
func (e *Engine) ListByUser(ctx context.Context, user string) ([]models.MachineAllocation, error) {
	query := e.allocations.GetQuery()
	query.Conditions = []repositories.QueryCondition{repositories.EQ("User", user)}
	return e.allocations.FindAll(ctx, query)
}
