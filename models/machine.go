package models

import "time"

// PromiseStatus tracks where a machine promise is in its lifecycle.
type PromiseStatus string

const (
	PromiseAvailable PromiseStatus = "available"
	PromiseReserved  PromiseStatus = "reserved"
	PromiseAllocated PromiseStatus = "allocated"
	PromiseDraining  PromiseStatus = "draining"
	PromiseOffline   PromiseStatus = "offline"
)

// CPUSpec describes the processor an operator claims to provide.
type CPUSpec struct {
	Cores        int     `json:"cores" validate:"required,gt=0,lte=1024"`
	Model        string  `json:"model" validate:"max=128"`
	Architecture string  `json:"architecture" validate:"omitempty,oneof=x86_64 arm64"`
	FrequencyMHz float64 `json:"frequency_mhz" validate:"omitempty,gt=0,lte=10000"`
}

type MemorySpec struct {
	SizeMB       int64   `json:"size_mb" validate:"required,gt=0,lte=16777216"`
	Type         string  `json:"type" validate:"omitempty,oneof=ddr3 ddr4 ddr5 hbm2 hbm3"`
	FrequencyMHz float64 `json:"frequency_mhz" validate:"omitempty,gt=0,lte=16000"`
}

type StorageSpec struct {
	SizeMB int64  `json:"size_mb" validate:"required,gt=0"`
	Type   string `json:"type" validate:"omitempty,oneof=hdd ssd nvme"`
	IOPS   int64  `json:"iops" validate:"omitempty,gt=0"`
}

type NetworkSpec struct {
	BandwidthMbps float64  `json:"bandwidth_mbps" validate:"omitempty,gt=0,lte=1000000"`
	PublicIPs     []string `json:"public_ips" validate:"dive,ip"`
}

type GPUSpec struct {
	Type     string `json:"type" validate:"max=128"`
	Count    int    `json:"count" validate:"omitempty,gte=0,lte=64"`
	MemoryMB int64  `json:"memory_mb" validate:"omitempty,gte=0"`
}

type LocationSpec struct {
	Region     string `json:"region" validate:"max=64"`
	Zone       string `json:"zone" validate:"max=64"`
	Datacenter string `json:"datacenter" validate:"max=128"`
}

// MachineSpec is the hardware descriptor claimed by an operator at
// registration. It is validated once and never mutated afterwards.
type MachineSpec struct {
	CPU      CPUSpec      `json:"cpu" validate:"required"`
	Memory   MemorySpec   `json:"memory" validate:"required"`
	Storage  StorageSpec  `json:"storage" validate:"required"`
	Network  NetworkSpec  `json:"network"`
	GPU      *GPUSpec     `json:"gpu,omitempty"`
	TEE      string       `json:"tee_platform,omitempty" validate:"omitempty,oneof=sgx sev tdx"`
	Location LocationSpec `json:"location"`
}

// Capabilities flags what kinds of workloads a promise can serve.
type Capabilities struct {
	Compute bool `json:"compute"`
	Storage bool `json:"storage"`
	CDN     bool `json:"cdn"`
	TEE     bool `json:"tee"`
	GPU     bool `json:"gpu"`
}

// MachinePromise is an operator's advertised, leasable resource.
// AllocationID is set if and only if Status is PromiseAllocated
// (PromiseReserved and PromiseDraining hold it transiently while an
// allocation is being set up or torn down).
type MachinePromise struct {
	ID                 string        `json:"id" gorm:"primaryKey"`
	Operator           string        `json:"operator" gorm:"index"`
	AgentID            string        `json:"agent_id,omitempty"`
	Spec               MachineSpec   `json:"spec" gorm:"serializer:json"`
	Capabilities       Capabilities  `json:"capabilities" gorm:"serializer:json"`
	Status             PromiseStatus `json:"status" gorm:"index"`
	ActivationEndpoint string        `json:"activation_endpoint"`
	SSHEndpoint        string        `json:"ssh_endpoint,omitempty"`
	PricePerHourWei    uint64        `json:"price_per_hour_wei"`
	PricePerGBWei      uint64        `json:"price_per_gb_wei"`
	MinLeaseHours      int           `json:"min_lease_hours"`
	StakeWei           uint64        `json:"stake_wei"`
	RegisteredAt       time.Time     `json:"registered_at"`
	LastHeartbeat      time.Time     `json:"last_heartbeat"`
	AllocationID       string        `json:"allocation_id,omitempty"`
	AllocatedTo        string        `json:"allocated_to,omitempty"`
	AllocatedAt        *time.Time    `json:"allocated_at,omitempty"`
}

// AllocationRequirements is the constraint set a user submits to lease a
// machine. Zero values mean "no constraint".
type AllocationRequirements struct {
	MinCPUCores     int     `json:"min_cpu_cores" validate:"gte=0"`
	MinMemoryMB     int64   `json:"min_memory_mb" validate:"gte=0"`
	MinStorageMB    int64   `json:"min_storage_mb" validate:"gte=0"`
	GPURequired     bool    `json:"gpu_required"`
	GPUType         string  `json:"gpu_type,omitempty"`
	TEERequired     bool    `json:"tee_required"`
	Region          string  `json:"region,omitempty"`
	MaxPricePerHour uint64  `json:"max_price_per_hour_wei"`
	LeaseHours      float64 `json:"lease_hours,omitempty"`
}

// NetworkStats aggregates the state of the whole promise table.
type NetworkStats struct {
	Machines         map[PromiseStatus]int `json:"machines"`
	TotalCPUCores    int                   `json:"total_cpu_cores"`
	FreeCPUCores     int                   `json:"free_cpu_cores"`
	TotalMemoryMB    int64                 `json:"total_memory_mb"`
	FreeMemoryMB     int64                 `json:"free_memory_mb"`
	TotalGPUs        int                   `json:"total_gpus"`
	MachinesByRegion map[string]int        `json:"machines_by_region"`
}
