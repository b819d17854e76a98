package allocation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/stratomesh/provisioning-service/adapter/machines"
	repositories_memory "gitlab.com/stratomesh/provisioning-service/db/repositories/memory"
	"gitlab.com/stratomesh/provisioning-service/internal/config"
	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/registry"
)

// agentStub fakes the machine agent. It records activate/deactivate calls and
// can be told to fail or stall activations.
type agentStub struct {
	server *httptest.Server

	mu          sync.Mutex
	activations []string
	deactivated []string
	failNext    bool
	stall       chan struct{}
}

func newAgentStub(t *testing.T) *agentStub {
	t.Helper()
	stub := &agentStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/activate":
			stub.mu.Lock()
			stall := stub.stall
			fail := stub.failNext
			stub.mu.Unlock()
			if stall != nil {
				<-stall
			}
			if fail {
				http.Error(w, "boot failure", http.StatusInternalServerError)
				return
			}
			var req machines.ActivationRequest
			json.NewDecoder(r.Body).Decode(&req)
			stub.mu.Lock()
			stub.activations = append(stub.activations, req.AllocationID)
			stub.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{
				"nodeId":   "node-" + req.AllocationID,
				"endpoint": "10.0.0.5:7000",
			})
		case "/v1/deactivate":
			var req struct {
				AllocationID string `json:"allocationId"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			stub.mu.Lock()
			stub.deactivated = append(stub.deactivated, req.AllocationID)
			stub.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (a *agentStub) deactivations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.deactivated))
	copy(out, a.deactivated)
	return out
}

type engineFixture struct {
	engine   *Engine
	registry *registry.Registry
	clock    *clock.Mock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	mock := clock.NewMock()
	cfg := config.Provisioning{
		HeartbeatIntervalMs:    30000,
		AllocationTimeoutMs:    300000,
		MaxPromisesPerOperator: 20,
		ActivationTimeoutMs:    10000,
	}
	reg := registry.NewRegistry(repositories_memory.NewPromiseRepository(), registry.NoopScheduler{}, cfg, mock)
	engine := NewEngine(repositories_memory.NewAllocationRepository(), reg, machines.NewClient(), cfg, mock)
	return &engineFixture{engine: engine, registry: reg, clock: mock}
}

type machineOpts struct {
	cores       int
	price       uint64
	gpu         *models.GPUSpec
	endpoint    string
	registerGap time.Duration
}

func (f *engineFixture) addMachine(t *testing.T, opts machineOpts) *models.MachinePromise {
	t.Helper()
	if opts.registerGap > 0 {
		f.clock.Add(opts.registerGap)
	}
	cores := opts.cores
	if cores == 0 {
		cores = 8
	}
	endpoint := opts.endpoint
	if endpoint == "" {
		endpoint = "http://192.0.2.1:7700"
	}
	promise, err := f.registry.Register(context.Background(), registry.RegisterRequest{
		Operator: "op-1",
		Spec: models.MachineSpec{
			CPU:     models.CPUSpec{Cores: cores},
			Memory:  models.MemorySpec{SizeMB: 32000},
			Storage: models.StorageSpec{SizeMB: 500000},
			GPU:     opts.gpu,
		},
		ActivationEndpoint: endpoint,
		PricePerHourWei:    opts.price,
	})
	require.NoError(t, err)
	return promise
}

func (f *engineFixture) waitForStatus(t *testing.T, allocationID string, status models.AllocationStatus) *models.MachineAllocation {
	t.Helper()
	var alloc *models.MachineAllocation
	require.Eventually(t, func() bool {
		var err error
		alloc, err = f.engine.Get(context.Background(), allocationID)
		return err == nil && alloc.Status == status
	}, 5*time.Second, 10*time.Millisecond, "allocation should reach %s", status)
	return alloc
}

func TestAllocateNoSuitableMachine(t *testing.T) {
	f := newEngineFixture(t)
	f.addMachine(t, machineOpts{cores: 4})

	_, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{
		MinCPUCores: 32,
	})
	assert.ErrorIs(t, err, ErrNoSuitableMachine)

	// nothing was reserved along the way
	available, err := f.registry.ListAvailable(context.Background(), registry.MachineFilter{})
	require.NoError(t, err)
	assert.Len(t, available, 1)
	assert.Equal(t, models.PromiseAvailable, available[0].Status)
}

func TestAllocateRejectsEmptyUser(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Allocate(context.Background(), "", models.AllocationRequirements{})
	assert.Error(t, err)
}

func TestAllocateActivatesBestFit(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)

	f.addMachine(t, machineOpts{cores: 64, price: 500, endpoint: agent.server.URL})
	tight := f.addMachine(t, machineOpts{cores: 8, price: 900, endpoint: agent.server.URL, registerGap: time.Minute})

	alloc, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{
		MinCPUCores: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, tight.ID, alloc.PromiseID, "smallest core surplus wins over price")
	assert.Equal(t, models.AllocationPending, alloc.Status)
	assert.Equal(t, uint64(900), alloc.PricePerHourWei)

	active := f.waitForStatus(t, alloc.ID, models.AllocationActive)
	assert.Equal(t, "node-"+alloc.ID, active.NodeID)
	assert.Equal(t, "10.0.0.5:7000", active.Endpoint)

	promise, err := f.registry.Get(context.Background(), tight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAllocated, promise.Status)
	assert.Equal(t, alloc.ID, promise.AllocationID)
}

func TestAllocateTieBreaksOnPriceThenAge(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)

	older := f.addMachine(t, machineOpts{cores: 16, price: 700, endpoint: agent.server.URL})
	f.addMachine(t, machineOpts{cores: 16, price: 700, endpoint: agent.server.URL, registerGap: time.Hour})
	cheap := f.addMachine(t, machineOpts{cores: 16, price: 400, endpoint: agent.server.URL, registerGap: time.Hour})

	first, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{MinCPUCores: 16})
	require.NoError(t, err)
	assert.Equal(t, cheap.ID, first.PromiseID, "equal surplus falls through to lowest price")
	f.waitForStatus(t, first.ID, models.AllocationActive)

	second, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{MinCPUCores: 16})
	require.NoError(t, err)
	assert.Equal(t, older.ID, second.PromiseID, "equal surplus and price fall through to earliest registration")
	f.waitForStatus(t, second.ID, models.AllocationActive)
}

func TestAllocateFiltersGPUType(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)

	f.addMachine(t, machineOpts{gpu: &models.GPUSpec{Type: "a100", Count: 1, MemoryMB: 40000}, endpoint: agent.server.URL})
	h100 := f.addMachine(t, machineOpts{gpu: &models.GPUSpec{Type: "h100", Count: 2, MemoryMB: 80000}, endpoint: agent.server.URL})

	alloc, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{
		GPURequired: true,
		GPUType:     "h100",
	})
	require.NoError(t, err)
	assert.Equal(t, h100.ID, alloc.PromiseID)
}

func TestFailedActivationRestoresPromise(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)
	agent.mu.Lock()
	agent.failNext = true
	agent.mu.Unlock()

	machine := f.addMachine(t, machineOpts{endpoint: agent.server.URL})

	alloc, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{})
	require.NoError(t, err)

	failed := f.waitForStatus(t, alloc.ID, models.AllocationFailed)
	assert.NotNil(t, failed.EndedAt)

	require.Eventually(t, func() bool {
		promise, err := f.registry.Get(context.Background(), machine.ID)
		return err == nil && promise.Status == models.PromiseAvailable
	}, 5*time.Second, 10*time.Millisecond, "a failed activation must free the machine")
}

func TestConcurrentAllocateNeverDoubleBooks(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)
	f.addMachine(t, machineOpts{endpoint: agent.server.URL})

	const attempts = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else {
				assert.ErrorIs(t, err, ErrNoSuitableMachine)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestReleaseTearsDownActiveAllocation(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)
	machine := f.addMachine(t, machineOpts{price: 1000, endpoint: agent.server.URL})

	alloc, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{})
	require.NoError(t, err)
	f.waitForStatus(t, alloc.ID, models.AllocationActive)

	f.clock.Add(2 * time.Hour)

	err = f.engine.Release(context.Background(), alloc.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, f.engine.Release(context.Background(), alloc.ID, "user-1"))

	terminated, err := f.engine.Get(context.Background(), alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AllocationTerminated, terminated.Status)
	require.NotNil(t, terminated.EndedAt)
	assert.Equal(t, uint64(2000), terminated.CostWei, "two hours at the snapshotted rate")
	assert.Contains(t, agent.deactivations(), alloc.ID)

	promise, err := f.registry.Get(context.Background(), machine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, promise.Status)
	assert.Empty(t, promise.AllocationID)

	// releasing again is a no-op
	require.NoError(t, f.engine.Release(context.Background(), alloc.ID, "user-1"))
}

func TestReleaseDuringActivationDiscardsLateResult(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)
	stall := make(chan struct{})
	agent.mu.Lock()
	agent.stall = stall
	agent.mu.Unlock()
	machine := f.addMachine(t, machineOpts{endpoint: agent.server.URL})

	alloc, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{})
	require.NoError(t, err)
	f.waitForStatus(t, alloc.ID, models.AllocationActivating)

	// release while the agent is still booting
	agent.mu.Lock()
	agent.stall = nil
	agent.mu.Unlock()
	require.NoError(t, f.engine.Release(context.Background(), alloc.ID, "user-1"))
	close(stall)

	got, err := f.engine.Get(context.Background(), alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AllocationTerminated, got.Status)

	// the late activation result must not resurrect the allocation
	require.Never(t, func() bool {
		got, err := f.engine.Get(context.Background(), alloc.ID)
		return err != nil || got.Status != models.AllocationTerminated
	}, 300*time.Millisecond, 25*time.Millisecond)

	promise, err := f.registry.Get(context.Background(), machine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, promise.Status)
}

func TestCleanupStuckAllocations(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	machine := f.addMachine(t, machineOpts{})

	// build a stuck pending allocation by hand, bypassing activation
	promise, err := f.registry.Reserve(ctx, machine.ID, "alloc-stuck", "user-1")
	require.NoError(t, err)
	_, err = f.engine.allocations.Create(ctx, models.MachineAllocation{
		ID:        "alloc-stuck",
		PromiseID: promise.ID,
		User:      "user-1",
		Spec:      promise.Spec,
		Status:    models.AllocationPending,
		StartedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	// not yet past the timeout
	f.clock.Add(time.Minute)
	require.NoError(t, f.engine.CleanupStuck(ctx))
	got, err := f.engine.Get(ctx, "alloc-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.AllocationPending, got.Status)

	f.clock.Add(10 * time.Minute)
	require.NoError(t, f.engine.CleanupStuck(ctx))

	got, err = f.engine.Get(ctx, "alloc-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.AllocationFailed, got.Status)
	require.NotNil(t, got.EndedAt)

	restored, err := f.registry.Get(ctx, machine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromiseAvailable, restored.Status)
}

func TestListByUser(t *testing.T) {
	f := newEngineFixture(t)
	agent := newAgentStub(t)
	f.addMachine(t, machineOpts{endpoint: agent.server.URL})
	f.addMachine(t, machineOpts{endpoint: agent.server.URL})

	a1, err := f.engine.Allocate(context.Background(), "user-1", models.AllocationRequirements{})
	require.NoError(t, err)
	_, err = f.engine.Allocate(context.Background(), "user-2", models.AllocationRequirements{})
	require.NoError(t, err)
	f.waitForStatus(t, a1.ID, models.AllocationActive)

	mine, err := f.engine.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a1.ID, mine[0].ID)
}
