package allocation

import (
	"context"
	"time"

	"gitlab.com/stratomesh/provisioning-service/adapter/machines"
	"gitlab.com/stratomesh/provisioning-service/models"
)

// startActivation launches the supervised activation for a freshly reserved
// allocation. Whatever happens to the call, the outcome is converted into a
// state transition on the allocation and its promise.
func (e *Engine) startActivation(alloc *models.MachineAllocation, promise *models.MachinePromise) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ActivationTimeout())

	e.mu.Lock()
	e.activations[alloc.ID] = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			e.mu.Lock()
			delete(e.activations, alloc.ID)
			e.mu.Unlock()
		}()
		e.runActivation(ctx, alloc.ID, promise)
	}()
}

func (e *Engine) runActivation(ctx context.Context, allocationID string, promise *models.MachinePromise) {
	e.mu.Lock()
	alloc, err := e.allocations.Get(ctx, allocationID)
	if err != nil || alloc.Status != models.AllocationPending {
		// Released or failed before the activation even started.
		e.mu.Unlock()
		return
	}
	alloc.Status = models.AllocationActivating
	if _, err := e.allocations.Update(ctx, alloc.ID, alloc); err != nil {
		e.mu.Unlock()
		zlog.Sugar().Errorf("failed to mark allocation %s activating: %v", alloc.ID, err)
		return
	}
	e.mu.Unlock()

	resp, actErr := e.machines.Activate(ctx, promise.ActivationEndpoint, machines.ActivationRequest{
		AllocationID: alloc.ID,
		User:         alloc.User,
		Specs:        alloc.Spec,
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.allocations.Get(context.Background(), allocationID)
	if err != nil {
		zlog.Sugar().Errorf("allocation %s vanished during activation: %v", allocationID, err)
		return
	}
	if current.Status != models.AllocationActivating {
		// Release won the race. If the machine did come up, tear it back
		// down instead of resurrecting a dead allocation.
		if actErr == nil {
			e.deactivateLate(promise, allocationID)
		}
		return
	}

	if actErr != nil {
		zlog.Sugar().Warnf("activation of %s on machine %s failed: %v", allocationID, promise.ID, actErr)
		now := e.clock.Now()
		current.Status = models.AllocationFailed
		current.EndedAt = &now
		if _, err := e.allocations.Update(context.Background(), current.ID, current); err != nil {
			zlog.Sugar().Errorf("failed to mark allocation %s failed: %v", current.ID, err)
		}
		if err := e.registry.RestoreAvailable(context.Background(), promise.ID); err != nil {
			zlog.Sugar().Errorf("failed to restore promise %s after failed activation: %v", promise.ID, err)
		}
		return
	}

	current.Status = models.AllocationActive
	current.NodeID = resp.NodeID
	current.Endpoint = resp.Endpoint
	current.StartedAt = e.clock.Now()
	if _, err := e.allocations.Update(context.Background(), current.ID, current); err != nil {
		zlog.Sugar().Errorf("failed to mark allocation %s active: %v", current.ID, err)
		return
	}
	if err := e.registry.CommitAllocation(context.Background(), promise.ID); err != nil {
		zlog.Sugar().Errorf("failed to commit promise %s: %v", promise.ID, err)
	}
	zlog.Sugar().Infof("allocation %s active on machine %s (node %s)", current.ID, promise.ID, resp.NodeID)
}

// deactivateLate tears down a machine whose activation completed after the
// allocation was already released.
func (e *Engine) deactivateLate(promise *models.MachinePromise, allocationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ActivationTimeout())
	defer cancel()
	if err := e.machines.Deactivate(ctx, promise.ActivationEndpoint, allocationID); err != nil {
		zlog.Sugar().Warnf("late deactivation of %s failed: %v", allocationID, err)
	}
}

// accrueCost charges the lease up to now at the promise-agreed hourly rate
// snapshot. Settlement itself happens elsewhere; this only maintains the
// running total on the record.
func accrueCost(alloc *models.MachineAllocation, now time.Time) {
	from := alloc.StartedAt
	if alloc.LastBilledAt != nil {
		from = *alloc.LastBilledAt
	}
	if !now.After(from) {
		return
	}
	hours := now.Sub(from).Hours()
	alloc.CostWei += uint64(hours * float64(alloc.PricePerHourWei))
	alloc.LastBilledAt = &now
}
