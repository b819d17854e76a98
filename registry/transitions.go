package registry

import (
	"context"
	"errors"

	"github.com/dustin/go-humanize"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/models"
)

// Reserve atomically flips an available promise to reserved and records the
// allocation linkage. A second concurrent reservation of the same promise
// fails with ErrNotAvailable.
func (r *Registry) Reserve(ctx context.Context, id, allocationID, user string) (*models.MachinePromise, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	promise, err := r.promises.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if promise.Status != models.PromiseAvailable {
		return nil, ErrNotAvailable
	}

	now := r.clock.Now()
	promise.Status = models.PromiseReserved
	promise.AllocationID = allocationID
	promise.AllocatedTo = user
	promise.AllocatedAt = &now

	updated, err := r.promises.Update(ctx, id, promise)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CommitAllocation marks a reserved promise as allocated once its activation
// succeeded.
func (r *Registry) CommitAllocation(ctx context.Context, id string) error {
	return r.transition(ctx, id, func(p *models.MachinePromise) {
		p.Status = models.PromiseAllocated
	})
}

// SetDraining marks a promise as draining while its allocation is torn down.
func (r *Registry) SetDraining(ctx context.Context, id string) error {
	return r.transition(ctx, id, func(p *models.MachinePromise) {
		p.Status = models.PromiseDraining
	})
}

// RestoreAvailable rolls a promise back to available and clears the
// allocation linkage. Used on activation failure, release completion and
// stuck-allocation recovery.
func (r *Registry) RestoreAvailable(ctx context.Context, id string) error {
	return r.transition(ctx, id, func(p *models.MachinePromise) {
		p.Status = models.PromiseAvailable
		p.AllocationID = ""
		p.AllocatedTo = ""
		p.AllocatedAt = nil
	})
}

func (r *Registry) transition(ctx context.Context, id string, mutate func(*models.MachinePromise)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	promise, err := r.promises.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return ErrNotFound
		}
		return err
	}
	mutate(&promise)
	_, err = r.promises.Update(ctx, id, promise)
	return err
}

// SweepStale marks every non-offline promise whose heartbeat lapsed beyond
// three sweep periods as offline, once per lapse, and tells the scheduling
// layer to stop placing work on it. The scheduling layer is notified after
// the lock is released so a slow collaborator cannot stall heartbeats and
// reservations for the whole sweep.
func (r *Registry) SweepStale(ctx context.Context) error {
	r.mu.Lock()
	promises, err := r.promises.FindAll(ctx, r.promises.GetQuery())
	if err != nil {
		r.mu.Unlock()
		return err
	}

	cutoff := r.clock.Now().Add(-r.cfg.StaleAfter())
	var swept []string
	for _, promise := range promises {
		if promise.Status == models.PromiseOffline {
			continue
		}
		if promise.LastHeartbeat.After(cutoff) {
			continue
		}

		promise.Status = models.PromiseOffline
		if _, err := r.promises.Update(ctx, promise.ID, promise); err != nil {
			zlog.Sugar().Errorf("failed to mark machine %s offline: %v", promise.ID, err)
			continue
		}
		swept = append(swept, promise.ID)
		zlog.Sugar().Infof("machine %s missed heartbeats since %s, marked offline",
			promise.ID, promise.LastHeartbeat.Format("15:04:05"))
	}
	r.mu.Unlock()

	for _, id := range swept {
		if err := r.workload.MarkOffline(ctx, id); err != nil {
			zlog.Sugar().Warnf("failed to mark machine %s offline in the scheduling layer: %v", id, err)
		}
	}
	return nil
}

// Stats aggregates the promise table: counts by status, total and free
// capacity, and a region histogram.
func (r *Registry) Stats(ctx context.Context) (*models.NetworkStats, error) {
	promises, err := r.promises.FindAll(ctx, r.promises.GetQuery())
	if err != nil {
		return nil, err
	}

	stats := models.NetworkStats{
		Machines:         make(map[models.PromiseStatus]int),
		MachinesByRegion: make(map[string]int),
	}
	for _, p := range promises {
		stats.Machines[p.Status]++
		stats.TotalCPUCores += p.Spec.CPU.Cores
		stats.TotalMemoryMB += p.Spec.Memory.SizeMB
		if p.Spec.GPU != nil {
			stats.TotalGPUs += p.Spec.GPU.Count
		}
		if p.Status == models.PromiseAvailable {
			stats.FreeCPUCores += p.Spec.CPU.Cores
			stats.FreeMemoryMB += p.Spec.Memory.SizeMB
		}
		if region := p.Spec.Location.Region; region != "" {
			stats.MachinesByRegion[region]++
		}
	}

	zlog.Sugar().Debugf("network stats: %d machines, %s free of %s memory",
		len(promises),
		humanize.IBytes(uint64(stats.FreeMemoryMB)*1024*1024),
		humanize.IBytes(uint64(stats.TotalMemoryMB)*1024*1024))
	return &stats, nil
}
