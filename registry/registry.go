package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/utils"
)

var (
	ErrNotFound      = errors.New("machine not found")
	ErrNotAuthorized = errors.New("operator does not own this machine")
	ErrInvalidSpec   = errors.New("invalid machine spec")
	ErrOperatorAtCap = errors.New("operator has reached the machine limit")
	ErrStakeTooLow   = errors.New("stake below the environment minimum")
	ErrNotAvailable  = errors.New("machine is not available")
	ErrAllocated     = errors.New("machine has an active allocation")
)

// RegisterRequest carries everything an operator submits to advertise a
// machine.
type RegisterRequest struct {
	Operator           string              `json:"operator" validate:"required"`
	AgentID            string              `json:"agent_id,omitempty"`
	Spec               models.MachineSpec  `json:"spec" validate:"required"`
	Capabilities       models.Capabilities `json:"capabilities"`
	ActivationEndpoint string              `json:"activation_endpoint" validate:"required,url"`
	SSHEndpoint        string              `json:"ssh_endpoint,omitempty"`
	PricePerHourWei    uint64              `json:"price_per_hour_wei"`
	PricePerGBWei      uint64              `json:"price_per_gb_wei"`
	MinLeaseHours      int                 `json:"min_lease_hours" validate:"gte=0"`
	StakeWei           uint64              `json:"stake_wei"`
}

// MachineFilter narrows ListAvailable results. Zero values mean no
// constraint.
type MachineFilter struct {
	Region          string
	MinCPUCores     int
	MinMemoryMB     int64
	GPURequired     bool
	TEERequired     bool
	MaxPricePerHour uint64
}

// Registry owns the machine promise table. All status transitions go
// through it under a single lock so a reservation is atomic with respect to
// concurrent allocations.
type Registry struct {
	promises repositories.PromiseRepository
	workload WorkloadScheduler
	cfg      config.Provisioning
	clock    clock.Clock
	validate *validator.Validate
	mu       sync.Mutex
}

func NewRegistry(
	promises repositories.PromiseRepository,
	workload WorkloadScheduler,
	cfg config.Provisioning,
	clk clock.Clock,
) *Registry {
	return &Registry{
		promises: promises,
		workload: workload,
		cfg:      cfg,
		clock:    clk,
		validate: validator.New(),
	}
}

// Register validates a machine promise and adds it to the table with status
// available. The machine is also announced to the workload scheduling layer;
// a failure there is logged, not fatal.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*models.MachinePromise, error) {
	if err := r.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := r.validate.Struct(&req.Spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if req.StakeWei < r.cfg.MinStakeWei {
		return nil, fmt.Errorf("%w: %d < %d", ErrStakeTooLow, req.StakeWei, r.cfg.MinStakeWei)
	}

	// Cap check and create happen under the registry lock so concurrent
	// registrations cannot all pass the check and exceed the cap.
	r.mu.Lock()
	owned, err := r.ListByOperator(ctx, req.Operator)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if len(owned) >= r.cfg.MaxPromisesPerOperator {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d machines", ErrOperatorAtCap, len(owned))
	}

	now := r.clock.Now()
	promise := models.MachinePromise{
		ID:                 utils.NewID(),
		Operator:           req.Operator,
		AgentID:            req.AgentID,
		Spec:               req.Spec,
		Capabilities:       req.Capabilities,
		Status:             models.PromiseAvailable,
		ActivationEndpoint: req.ActivationEndpoint,
		SSHEndpoint:        req.SSHEndpoint,
		PricePerHourWei:    req.PricePerHourWei,
		PricePerGBWei:      req.PricePerGBWei,
		MinLeaseHours:      req.MinLeaseHours,
		StakeWei:           req.StakeWei,
		RegisteredAt:       now,
		LastHeartbeat:      now,
	}

	created, err := r.promises.Create(ctx, promise)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	if err := r.workload.RegisterNode(ctx, &created); err != nil {
		zlog.Sugar().Warnf("failed to announce machine %s to the scheduling layer: %v", created.ID, err)
	}

	zlog.Sugar().Infof("registered machine %s for operator %s (%d cores, %d MB)",
		created.ID, created.Operator, created.Spec.CPU.Cores, created.Spec.Memory.SizeMB)
	return &created, nil
}

// Heartbeat refreshes a machine's liveness. It returns false, without an
// error, when the machine does not exist. A machine that was swept offline
// comes back on its next heartbeat.
func (r *Registry) Heartbeat(ctx context.Context, id, operator string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	promise, err := r.promises.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return false, nil
		}
		return false, err
	}
	if promise.Operator != operator {
		return false, ErrNotAuthorized
	}

	promise.LastHeartbeat = r.clock.Now()
	if promise.Status == models.PromiseOffline {
		// An offline machine carrying a lease goes back to allocated, not
		// available, so the linkage invariant holds.
		if promise.AllocationID != "" {
			promise.Status = models.PromiseAllocated
		} else {
			promise.Status = models.PromiseAvailable
		}
	}

	if _, err := r.promises.Update(ctx, id, promise); err != nil {
		return false, err
	}
	return true, nil
}

// Unregister removes a promise. Only its operator may do so, and only while
// it carries no allocation.
func (r *Registry) Unregister(ctx context.Context, id, operator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	promise, err := r.promises.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return ErrNotFound
		}
		return err
	}
	if promise.Operator != operator {
		return ErrNotAuthorized
	}
	if promise.Status != models.PromiseAvailable && promise.Status != models.PromiseOffline {
		return ErrAllocated
	}

	if err := r.promises.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.workload.DeregisterNode(ctx, id); err != nil {
		zlog.Sugar().Warnf("failed to deregister machine %s from the scheduling layer: %v", id, err)
	}
	zlog.Sugar().Infof("unregistered machine %s", id)
	return nil
}

// Get returns a promise by id.
func (r *Registry) Get(ctx context.Context, id string) (*models.MachinePromise, error) {
	promise, err := r.promises.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.NotFoundError) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &promise, nil
}

// ListByOperator returns every promise an operator has registered.
func (r *Registry) ListByOperator(ctx context.Context, operator string) ([]models.MachinePromise, error) {
	query := r.promises.GetQuery()
	query.Conditions = []repositories.QueryCondition{repositories.EQ("Operator", operator)}
	return r.promises.FindAll(ctx, query)
}

// ListAvailable returns available promises matching the filter.
func (r *Registry) ListAvailable(ctx context.Context, filter MachineFilter) ([]models.MachinePromise, error) {
	query := r.promises.GetQuery()
	query.Conditions = []repositories.QueryCondition{
		repositories.EQ("Status", string(models.PromiseAvailable)),
	}
	promises, err := r.promises.FindAll(ctx, query)
	if err != nil {
		return nil, err
	}

	matched := make([]models.MachinePromise, 0, len(promises))
	for _, p := range promises {
		if MatchesFilter(&p, filter) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// MatchesFilter reports whether a promise satisfies every constraint in the
// filter.
func MatchesFilter(p *models.MachinePromise, filter MachineFilter) bool {
	if filter.Region != "" && p.Spec.Location.Region != filter.Region {
		return false
	}
	if filter.MinCPUCores > 0 && p.Spec.CPU.Cores < filter.MinCPUCores {
		return false
	}
	if filter.MinMemoryMB > 0 && p.Spec.Memory.SizeMB < filter.MinMemoryMB {
		return false
	}
	if filter.GPURequired && (p.Spec.GPU == nil || p.Spec.GPU.Count == 0) {
		return false
	}
	if filter.TEERequired && p.Spec.TEE == "" {
		return false
	}
	if filter.MaxPricePerHour > 0 && p.PricePerHourWei > filter.MaxPricePerHour {
		return false
	}
	return true
}
