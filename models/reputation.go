package models

import "time"

// MachineReputation is the per-machine trust record. It is written only by
// the reputation engine after a completed benchmark.
type MachineReputation struct {
	MachineID        string     `json:"machine_id" gorm:"primaryKey"`
	Score            int        `json:"score"` // clamped to [0,100]
	BenchmarkCount   int        `json:"benchmark_count"`
	PassCount        int        `json:"pass_count"`
	FailCount        int        `json:"fail_count"`
	LastBenchmarkAt  *time.Time `json:"last_benchmark_at,omitempty"`
	LastDeviationPct float64    `json:"last_deviation_pct"`
	Flags            []string   `json:"flags" gorm:"serializer:json"`
}

// InitialScore is the trust score assigned to a machine that has never
// been benchmarked.
const InitialScore = 50
