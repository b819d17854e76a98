package repositories

import (
	"gitlab.com/stratomesh/provisioning-service/models"
)

// PromiseRepository represents a repository for CRUD operations on MachinePromise entities.
type PromiseRepository interface {
	GenericRepository[models.MachinePromise]
}

// AllocationRepository represents a repository for CRUD operations on MachineAllocation entities.
type AllocationRepository interface {
	GenericRepository[models.MachineAllocation]
}

// ReputationRepository represents a repository for CRUD operations on MachineReputation entities.
type ReputationRepository interface {
	GenericRepository[models.MachineReputation]
}

// BenchmarkJobRepository represents a repository for CRUD operations on BenchmarkJob entities.
type BenchmarkJobRepository interface {
	GenericRepository[models.BenchmarkJob]
}
