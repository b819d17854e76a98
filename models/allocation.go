package models

import "time"

// AllocationStatus tracks a lease from creation to teardown. Terminated
// allocations are kept as records, never deleted.
type AllocationStatus string

const (
	AllocationPending     AllocationStatus = "pending"
	AllocationActivating  AllocationStatus = "activating"
	AllocationActive      AllocationStatus = "active"
	AllocationFailed      AllocationStatus = "failed"
	AllocationTerminating AllocationStatus = "terminating"
	AllocationTerminated  AllocationStatus = "terminated"
)

// ResourceUsage holds live counters reported by the runtime node.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      int64   `json:"memory_mb"`
	StorageMB     int64   `json:"storage_mb"`
	NetworkRxMbps float64 `json:"network_rx_mbps"`
	NetworkTxMbps float64 `json:"network_tx_mbps"`
}

// MachineAllocation is a lease of one promise to one user. Spec and
// Capabilities are copied from the promise at lease time so later
// re-registration cannot rewrite the terms of an existing lease.
type MachineAllocation struct {
	ID           string           `json:"id" gorm:"primaryKey"`
	PromiseID    string           `json:"promise_id" gorm:"index"`
	User         string           `json:"user" gorm:"index"`
	Spec         MachineSpec      `json:"spec" gorm:"serializer:json"`
	Capabilities Capabilities     `json:"capabilities" gorm:"serializer:json"`
	Status       AllocationStatus `json:"status" gorm:"index"`

	NodeID   string `json:"node_id,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	PricePerHourWei uint64 `json:"price_per_hour_wei"`

	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	CostWei        uint64        `json:"cost_wei"`
	LastBilledAt   *time.Time    `json:"last_billed_at,omitempty"`
	Usage          ResourceUsage `json:"usage" gorm:"serializer:json"`
	ContainerCount int           `json:"container_count"`
}

// Terminal reports whether the allocation can no longer change state.
func (a *MachineAllocation) Terminal() bool {
	return a.Status == AllocationFailed || a.Status == AllocationTerminated
}
