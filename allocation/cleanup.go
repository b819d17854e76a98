package allocation

import (
	"context"
	"errors"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/registry"
)

// CleanupStuck recovers allocations that never left pending/activating:
// once their promise's reservation age exceeds the environment's allocation
// timeout they are marked failed and the promise goes back to available.
func (e *Engine) CleanupStuck(ctx context.Context) error {
	query := e.allocations.GetQuery()
	query.Conditions = []repositories.QueryCondition{
		repositories.IN("Status", []interface{}{
			string(models.AllocationPending),
			string(models.AllocationActivating),
		}),
	}
	stuck, err := e.allocations.FindAll(ctx, query)
	if err != nil {
		return err
	}

	cutoff := e.clock.Now().Add(-e.cfg.AllocationTimeout())
	for _, alloc := range stuck {
		promise, err := e.registry.Get(ctx, alloc.PromiseID)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				e.failStuck(ctx, alloc)
			}
			continue
		}
		if promise.AllocatedAt == nil || promise.AllocatedAt.After(cutoff) {
			continue
		}

		e.failStuck(ctx, alloc)
		if err := e.registry.RestoreAvailable(ctx, promise.ID); err != nil {
			zlog.Sugar().Errorf("failed to restore promise %s during cleanup: %v", promise.ID, err)
		}
	}
	return nil
}

func (e *Engine) failStuck(ctx context.Context, alloc models.MachineAllocation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-check under the lock; the activation may have completed meanwhile.
	current, err := e.allocations.Get(ctx, alloc.ID)
	if err != nil {
		return
	}
	if current.Status != models.AllocationPending && current.Status != models.AllocationActivating {
		return
	}

	if cancel, ok := e.activations[alloc.ID]; ok {
		cancel()
		delete(e.activations, alloc.ID)
	}

	now := e.clock.Now()
	current.Status = models.AllocationFailed
	current.EndedAt = &now
	if _, err := e.allocations.Update(ctx, current.ID, current); err != nil {
		zlog.Sugar().Errorf("failed to fail stuck allocation %s: %v", current.ID, err)
		return
	}
	zlog.Sugar().Warnf("allocation %s stuck in %s past the timeout, marked failed", current.ID, alloc.Status)
}
