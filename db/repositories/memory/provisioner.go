package repositories_memory

import (
	"gitlab.com/stratomesh/provisioning-service/db/repositories"
	"gitlab.com/stratomesh/provisioning-service/models"
)

// NewPromiseRepository returns an in-memory repository for MachinePromise entities.
func NewPromiseRepository() repositories.PromiseRepository {
	return &promiseRepository{NewGenericRepository[models.MachinePromise](
		func(p models.MachinePromise) string { return p.ID },
		func(p *models.MachinePromise, id string) { p.ID = id },
	)}
}

type promiseRepository struct {
	repositories.GenericRepository[models.MachinePromise]
}

// NewAllocationRepository returns an in-memory repository for MachineAllocation entities.
func NewAllocationRepository() repositories.AllocationRepository {
	return &allocationRepository{NewGenericRepository[models.MachineAllocation](
		func(a models.MachineAllocation) string { return a.ID },
		func(a *models.MachineAllocation, id string) { a.ID = id },
	)}
}

type allocationRepository struct {
	repositories.GenericRepository[models.MachineAllocation]
}

// NewReputationRepository returns an in-memory repository for MachineReputation entities.
func NewReputationRepository() repositories.ReputationRepository {
	return &reputationRepository{NewGenericRepository[models.MachineReputation](
		func(r models.MachineReputation) string { return r.MachineID },
		func(r *models.MachineReputation, id string) { r.MachineID = id },
	)}
}

type reputationRepository struct {
	repositories.GenericRepository[models.MachineReputation]
}

// NewBenchmarkJobRepository returns an in-memory repository for BenchmarkJob entities.
func NewBenchmarkJobRepository() repositories.BenchmarkJobRepository {
	return &benchmarkJobRepository{NewGenericRepository[models.BenchmarkJob](
		func(j models.BenchmarkJob) string { return j.ID },
		func(j *models.BenchmarkJob, id string) { j.ID = id },
	)}
}

type benchmarkJobRepository struct {
	repositories.GenericRepository[models.BenchmarkJob]
}
