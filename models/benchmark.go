package models

import "time"

type BenchmarkTrigger string

const (
	TriggerInitial   BenchmarkTrigger = "initial"
	TriggerScheduled BenchmarkTrigger = "scheduled"
	TriggerRandom    BenchmarkTrigger = "random"
	TriggerManual    BenchmarkTrigger = "manual"
)

type BenchmarkJobStatus string

const (
	JobPending   BenchmarkJobStatus = "pending"
	JobRunning   BenchmarkJobStatus = "running"
	JobCompleted BenchmarkJobStatus = "completed"
	JobFailed    BenchmarkJobStatus = "failed"
)

// BenchmarkJob is one verification attempt against one machine.
type BenchmarkJob struct {
	ID         string             `json:"id" gorm:"primaryKey"`
	MachineID  string             `json:"machine_id" gorm:"index"`
	Trigger    BenchmarkTrigger   `json:"trigger"`
	Status     BenchmarkJobStatus `json:"status" gorm:"index"`
	CreatedAt  time.Time          `json:"created_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Result     *BenchmarkResult   `json:"result,omitempty" gorm:"serializer:json"`
	Error      string             `json:"error,omitempty"`
}

// BenchmarkResult is the untrusted report a machine returns from a
// benchmark run. Every numeric field is range-checked and hash fields must
// be strict hex; out-of-range values fail the job rather than being coerced.
type BenchmarkResult struct {
	CPUCores     int     `json:"cpu_cores" validate:"gte=0,lte=1024"`
	CPUScore     int     `json:"cpu_score" validate:"gte=0,lte=10000"`
	MemoryMB     int64   `json:"memory_mb" validate:"gte=0"`
	MemoryScore  int     `json:"memory_score" validate:"gte=0,lte=10000"`
	StorageMB    int64   `json:"storage_mb" validate:"gte=0"`
	StorageType  string  `json:"storage_type" validate:"omitempty,oneof=hdd ssd nvme"`
	StorageIOPS  int64   `json:"storage_iops" validate:"gte=0"`
	NetworkMbps  float64 `json:"network_mbps" validate:"gte=0,lte=1000000"`
	NetworkScore int     `json:"network_score" validate:"gte=0,lte=10000"`

	GPUDetected bool   `json:"gpu_detected"`
	GPUType     string `json:"gpu_type,omitempty" validate:"max=128"`
	GPUCount    int    `json:"gpu_count" validate:"gte=0,lte=64"`
	GPUMemoryMB int64  `json:"gpu_memory_mb" validate:"gte=0"`

	TEEDetected         bool   `json:"tee_detected"`
	TEEPlatform         string `json:"tee_platform,omitempty" validate:"omitempty,oneof=sgx sev tdx"`
	TEEAttestationValid bool   `json:"tee_attestation_valid"`

	CloudVerified       bool   `json:"cloud_verified"`
	CloudAssuranceLevel int    `json:"cloud_assurance_level" validate:"omitempty,gte=1,lte=3"`
	CloudProvider       string `json:"cloud_provider,omitempty" validate:"max=64"`
	CloudRegion         string `json:"cloud_region,omitempty" validate:"max=64"`
	HardwareIDHash      string `json:"hardware_id_hash,omitempty" validate:"omitempty,hexadecimal"`
	ReputationDelta     int    `json:"reputation_delta" validate:"gte=-100,lte=100"`

	OverallScore    int       `json:"overall_score" validate:"gte=0,lte=10000"`
	AttestationHash string    `json:"attestation_hash,omitempty" validate:"omitempty,hexadecimal"`
	Timestamp       time.Time `json:"timestamp"`
}
