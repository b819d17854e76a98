package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repositories_memory "gitlab.com/stratomesh/provisioning-service/db/repositories/memory"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
)

type workloadSpy struct {
	mu           sync.Mutex
	registered   []string
	deregistered []string
	offline      []string
}

func (w *workloadSpy) RegisterNode(ctx context.Context, promise *models.MachinePromise) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registered = append(w.registered, promise.ID)
	return nil
}

func (w *workloadSpy) DeregisterNode(ctx context.Context, machineID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deregistered = append(w.deregistered, machineID)
	return nil
}

func (w *workloadSpy) MarkOffline(ctx context.Context, machineID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.offline = append(w.offline, machineID)
	return nil
}

func (w *workloadSpy) offlineCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.offline)
}

func testProvisioningConfig() config.Provisioning {
	return config.Provisioning{
		HeartbeatIntervalMs:    30000,
		AllocationTimeoutMs:    300000,
		MaxPromisesPerOperator: 3,
		ActivationTimeoutMs:    30000,
	}
}

func newTestRegistry(cfg config.Provisioning) (*Registry, *workloadSpy, *clock.Mock) {
	mock := clock.NewMock()
	spy := &workloadSpy{}
	return NewRegistry(repositories_memory.NewPromiseRepository(), spy, cfg, mock), spy, mock
}

func validRequest(operator string) RegisterRequest {
	return RegisterRequest{
		Operator: operator,
		Spec: models.MachineSpec{
			CPU:     models.CPUSpec{Cores: 8},
			Memory:  models.MemorySpec{SizeMB: 16000},
			Storage: models.StorageSpec{SizeMB: 500000},
			Location: models.LocationSpec{
				Region: "eu-west",
			},
		},
		ActivationEndpoint: "http://10.0.0.1:7700",
		PricePerHourWei:    1_000_000,
	}
}

func TestRegisterCreatesAvailablePromise(t *testing.T) {
	reg, spy, mock := newTestRegistry(testProvisioningConfig())

	promise, err := reg.Register(context.Background(), validRequest("op-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, promise.ID)
	assert.Equal(t, models.PromiseAvailable, promise.Status)
	assert.Equal(t, mock.Now(), promise.RegisteredAt)
	assert.Equal(t, mock.Now(), promise.LastHeartbeat)
	assert.Equal(t, []string{promise.ID}, spy.registered)
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())

	req := validRequest("op-1")
	req.Spec.CPU.Cores = 0
	_, err := reg.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidSpec)

	req = validRequest("op-1")
	req.ActivationEndpoint = "not a url"
	_, err = reg.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestRegisterEnforcesMinimumStake(t *testing.T) {
	cfg := testProvisioningConfig()
	cfg.MinStakeWei = 1_000_000_000
	reg, _, _ := newTestRegistry(cfg)

	req := validRequest("op-1")
	req.StakeWei = 999
	_, err := reg.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrStakeTooLow)

	req.StakeWei = 1_000_000_000
	_, err = reg.Register(context.Background(), req)
	assert.NoError(t, err)
}

func TestRegisterEnforcesOperatorCap(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := reg.Register(ctx, validRequest("op-1"))
		require.NoError(t, err)
	}
	_, err := reg.Register(ctx, validRequest("op-1"))
	assert.ErrorIs(t, err, ErrOperatorAtCap)

	// the cap is per operator, others are unaffected
	_, err = reg.Register(ctx, validRequest("op-2"))
	assert.NoError(t, err)
}

func TestRegisterCapHoldsUnderConcurrency(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	registered := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Register(ctx, validRequest("op-1"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				registered++
			} else {
				assert.ErrorIs(t, err, ErrOperatorAtCap)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, registered)
	owned, err := reg.ListByOperator(ctx, "op-1")
	require.NoError(t, err)
	assert.Len(t, owned, 3)
}

func TestHeartbeatUnknownMachine(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())

	known, err := reg.Heartbeat(context.Background(), "no-such-machine", "op-1")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestHeartbeatWrongOperator(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	_, err = reg.Heartbeat(ctx, promise.ID, "op-2")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSweepMarksStaleMachinesOfflineOnce(t *testing.T) {
	reg, spy, mock := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	stale, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)
	fresh, err := reg.Register(ctx, validRequest("op-2"))
	require.NoError(t, err)

	// three missed 30s heartbeats
	mock.Add(91 * time.Second)
	known, err := reg.Heartbeat(ctx, fresh.ID, "op-2")
	require.NoError(t, err)
	require.True(t, known)

	require.NoError(t, reg.SweepStale(ctx))

	got, err := reg.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseOffline, got.Status)

	got, err = reg.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, got.Status)

	// a second sweep must not re-notify the scheduling layer
	require.NoError(t, reg.SweepStale(ctx))
	assert.Equal(t, 1, spy.offlineCount())
	assert.Equal(t, []string{stale.ID}, spy.offline)
}

// reentrantWorkload reacts to an offline notice by calling back into the
// registry, the way a scheduling layer that drains a node synchronously would.
type reentrantWorkload struct {
	workloadSpy
	reg      *Registry
	operator string
}

func (w *reentrantWorkload) MarkOffline(ctx context.Context, machineID string) error {
	if _, err := w.reg.Heartbeat(ctx, machineID, w.operator); err != nil {
		return err
	}
	return w.workloadSpy.MarkOffline(ctx, machineID)
}

func TestSweepStaleNotifiesOutsideLock(t *testing.T) {
	mock := clock.NewMock()
	spy := &reentrantWorkload{operator: "op-1"}
	reg := NewRegistry(repositories_memory.NewPromiseRepository(), spy, testProvisioningConfig(), mock)
	spy.reg = reg
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	mock.Add(10 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- reg.SweepStale(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not finish; offline notice blocked on the registry lock")
	}

	// the callback's heartbeat ran and revived the machine
	got, err := reg.Get(ctx, promise.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, got.Status)
	assert.Equal(t, 1, spy.offlineCount())
}

func TestHeartbeatRevivesOfflineMachine(t *testing.T) {
	reg, _, mock := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	mock.Add(10 * time.Minute)
	require.NoError(t, reg.SweepStale(ctx))

	known, err := reg.Heartbeat(ctx, promise.ID, "op-1")
	require.NoError(t, err)
	require.True(t, known)

	got, err := reg.Get(ctx, promise.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, got.Status)
	assert.Equal(t, mock.Now(), got.LastHeartbeat)
}

func TestHeartbeatRestoresLeaseAfterOutage(t *testing.T) {
	reg, _, mock := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)
	_, err = reg.Reserve(ctx, promise.ID, "alloc-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, reg.CommitAllocation(ctx, promise.ID))

	mock.Add(10 * time.Minute)
	require.NoError(t, reg.SweepStale(ctx))
	got, err := reg.Get(ctx, promise.ID)
	require.NoError(t, err)
	require.Equal(t, models.PromiseOffline, got.Status)

	// the machine comes back still carrying its lease
	_, err = reg.Heartbeat(ctx, promise.ID, "op-1")
	require.NoError(t, err)
	got, err = reg.Get(ctx, promise.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAllocated, got.Status)
	assert.Equal(t, "alloc-1", got.AllocationID)
}

func TestReserveIsExclusive(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := reg.Reserve(ctx, promise.ID, "alloc", "user")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else {
				assert.ErrorIs(t, err, ErrNotAvailable)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestRestoreAvailableClearsLinkage(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)
	reserved, err := reg.Reserve(ctx, promise.ID, "alloc-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, models.PromiseReserved, reserved.Status)
	require.NotNil(t, reserved.AllocatedAt)

	require.NoError(t, reg.RestoreAvailable(ctx, promise.ID))

	got, err := reg.Get(ctx, promise.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, got.Status)
	assert.Empty(t, got.AllocationID)
	assert.Empty(t, got.AllocatedTo)
	assert.Nil(t, got.AllocatedAt)
}

func TestUnregisterRules(t *testing.T) {
	reg, spy, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	promise, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	err = reg.Unregister(ctx, promise.ID, "op-2")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = reg.Reserve(ctx, promise.ID, "alloc-1", "user-1")
	require.NoError(t, err)
	err = reg.Unregister(ctx, promise.ID, "op-1")
	assert.ErrorIs(t, err, ErrAllocated)

	require.NoError(t, reg.RestoreAvailable(ctx, promise.ID))
	require.NoError(t, reg.Unregister(ctx, promise.ID, "op-1"))
	assert.Equal(t, []string{promise.ID}, spy.deregistered)

	_, err = reg.Get(ctx, promise.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = reg.Unregister(ctx, promise.ID, "op-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAvailableFilters(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	small, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	bigReq := validRequest("op-2")
	bigReq.Spec.CPU.Cores = 64
	bigReq.Spec.Memory.SizeMB = 256000
	bigReq.Spec.GPU = &models.GPUSpec{Type: "a100", Count: 4, MemoryMB: 40000}
	bigReq.Spec.Location.Region = "us-east"
	bigReq.PricePerHourWei = 9_000_000
	big, err := reg.Register(ctx, bigReq)
	require.NoError(t, err)

	all, err := reg.ListAvailable(ctx, MachineFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	gpus, err := reg.ListAvailable(ctx, MachineFilter{GPURequired: true})
	require.NoError(t, err)
	require.Len(t, gpus, 1)
	assert.Equal(t, big.ID, gpus[0].ID)

	cheap, err := reg.ListAvailable(ctx, MachineFilter{MaxPricePerHour: 2_000_000})
	require.NoError(t, err)
	require.Len(t, cheap, 1)
	assert.Equal(t, small.ID, cheap[0].ID)

	region, err := reg.ListAvailable(ctx, MachineFilter{Region: "us-east"})
	require.NoError(t, err)
	require.Len(t, region, 1)
	assert.Equal(t, big.ID, region[0].ID)

	none, err := reg.ListAvailable(ctx, MachineFilter{MinCPUCores: 128})
	require.NoError(t, err)
	assert.Empty(t, none)

	// reserved machines never surface as available
	_, err = reg.Reserve(ctx, big.ID, "alloc-1", "user-1")
	require.NoError(t, err)
	all, err = reg.ListAvailable(ctx, MachineFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, small.ID, all[0].ID)
}

func TestStatsAggregation(t *testing.T) {
	reg, _, _ := newTestRegistry(testProvisioningConfig())
	ctx := context.Background()

	_, err := reg.Register(ctx, validRequest("op-1"))
	require.NoError(t, err)

	gpuReq := validRequest("op-2")
	gpuReq.Spec.CPU.Cores = 16
	gpuReq.Spec.GPU = &models.GPUSpec{Type: "h100", Count: 2, MemoryMB: 80000}
	gpuReq.Spec.Location.Region = "us-east"
	gpu, err := reg.Register(ctx, gpuReq)
	require.NoError(t, err)
	_, err = reg.Reserve(ctx, gpu.ID, "alloc-1", "user-1")
	require.NoError(t, err)

	stats, err := reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Machines[models.PromiseAvailable])
	assert.Equal(t, 1, stats.Machines[models.PromiseReserved])
	assert.Equal(t, 24, stats.TotalCPUCores)
	assert.Equal(t, 8, stats.FreeCPUCores)
	assert.Equal(t, 2, stats.TotalGPUs)
	assert.Equal(t, 1, stats.MachinesByRegion["eu-west"])
	assert.Equal(t, 1, stats.MachinesByRegion["us-east"])
}
