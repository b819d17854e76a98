package repositories_gorm

import (
	"gorm.io/gorm"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/models"
)

// PromiseRepositoryGORM is a GORM implementation of the PromiseRepository interface.
type PromiseRepositoryGORM struct {
	repositories.GenericRepository[models.MachinePromise]
}

// NewPromiseRepository creates a new instance of PromiseRepositoryGORM.
// It initializes and returns a GORM-based repository for MachinePromise entities.
func NewPromiseRepository(db *gorm.DB) repositories.PromiseRepository {
	return &PromiseRepositoryGORM{NewGenericRepository[models.MachinePromise](db)}
}

// AllocationRepositoryGORM is a GORM implementation of the AllocationRepository interface.
type AllocationRepositoryGORM struct {
	repositories.GenericRepository[models.MachineAllocation]
}

// NewAllocationRepository creates a new instance of AllocationRepositoryGORM.
// It initializes and returns a GORM-based repository for MachineAllocation entities.
func NewAllocationRepository(db *gorm.DB) repositories.AllocationRepository {
	return &AllocationRepositoryGORM{NewGenericRepository[models.MachineAllocation](db)}
}

// ReputationRepositoryGORM is a GORM implementation of the ReputationRepository interface.
type ReputationRepositoryGORM struct {
	repositories.GenericRepository[models.MachineReputation]
}

// NewReputationRepository creates a new instance of ReputationRepositoryGORM.
// It initializes and returns a GORM-based repository for MachineReputation
// entities, which are keyed by MachineID rather than an ID column.
func NewReputationRepository(db *gorm.DB) repositories.ReputationRepository {
	return &ReputationRepositoryGORM{NewGenericRepositoryWithKey[models.MachineReputation](db, "MachineID")}
}

// BenchmarkJobRepositoryGORM is a GORM implementation of the BenchmarkJobRepository interface.
type BenchmarkJobRepositoryGORM struct {
	repositories.GenericRepository[models.BenchmarkJob]
}

// NewBenchmarkJobRepository creates a new instance of BenchmarkJobRepositoryGORM.
// It initializes and returns a GORM-based repository for BenchmarkJob entities.
func NewBenchmarkJobRepository(db *gorm.DB) repositories.BenchmarkJobRepository {
	return &BenchmarkJobRepositoryGORM{NewGenericRepository[models.BenchmarkJob](db)}
}
