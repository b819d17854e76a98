package verification

import (
	"math"

	"gitlab.com/stratomesh/provisioning-service/models"
)

// ComputeDeviation scores how far a machine's measured hardware strays from
// its claimed spec. Each applicable claimed/actual pair contributes one
// component in [0,1]; the result is the mean of all components as a
// percentage. No applicable components means no deviation.
func ComputeDeviation(spec models.MachineSpec, result *models.BenchmarkResult) float64 {
	var components []float64

	if spec.CPU.Cores > 0 {
		components = append(components, relative(float64(spec.CPU.Cores), float64(result.CPUCores)))
	}
	if spec.Memory.SizeMB > 0 {
		components = append(components, relative(float64(spec.Memory.SizeMB), float64(result.MemoryMB)))
	}
	if spec.Storage.SizeMB > 0 {
		components = append(components, relative(float64(spec.Storage.SizeMB), float64(result.StorageMB)))
	}
	if spec.Network.BandwidthMbps > 0 {
		components = append(components, relative(spec.Network.BandwidthMbps, result.NetworkMbps))
	}

	if spec.GPU != nil && spec.GPU.Count > 0 && spec.GPU.Type != "" {
		if !result.GPUDetected {
			// A claimed GPU that the benchmark cannot see is a full miss.
			components = append(components, 1.0)
		} else if spec.GPU.MemoryMB > 0 {
			components = append(components, relative(float64(spec.GPU.MemoryMB), float64(result.GPUMemoryMB)))
		}
	}

	if spec.TEE != "" {
		switch {
		case !result.TEEDetected:
			components = append(components, 1.0)
		case !result.TEEAttestationValid:
			components = append(components, 0.5)
		case result.TEEPlatform != spec.TEE:
			components = append(components, 0.3)
		}
	}

	if len(components) == 0 {
		return 0
	}

	var sum float64
	for _, c := range components {
		sum += c
	}
	return sum / float64(len(components)) * 100
}

// relative is the relative difference between a claimed and a measured
// value, capped at 1.
func relative(claimed, actual float64) float64 {
	return math.Min(1, math.Abs(claimed-actual)/claimed)
}
