package registry

import (
	"context"

	"gitlab.com/stratomesh/provisioning-service/models"
)

// WorkloadScheduler is the external scheduling layer used for workload
// placement. Registered machines are announced to it so deployments can
// target them; it is a collaborator, not part of this service.
type WorkloadScheduler interface {
	RegisterNode(ctx context.Context, promise *models.MachinePromise) error
	DeregisterNode(ctx context.Context, machineID string) error
	MarkOffline(ctx context.Context, machineID string) error
}

// NoopScheduler satisfies WorkloadScheduler for environments that run
// without a placement layer.
type NoopScheduler struct{}

func (NoopScheduler) RegisterNode(ctx context.Context, promise *models.MachinePromise) error {
	return nil
}

func (NoopScheduler) DeregisterNode(ctx context.Context, machineID string) error { return nil }

func (NoopScheduler) MarkOffline(ctx context.Context, machineID string) error { return nil }
