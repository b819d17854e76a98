package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"gitlab.com/stratomesh/provisioning-service/models"
	"gitlab.com/stratomesh/provisioning-service/registry"
	"gitlab.com/stratomesh/provisioning-service/verification"
)

// HandleGetReputation  godoc
//
//	@Summary	Returns the trust record for a machine.
//	@Tags		verification
//	@Router		/machines/{id}/reputation [get]
func (h *Handlers) HandleGetReputation(c *gin.Context) {
	if _, err := h.Registry.Get(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(404, gin.H{"error": err.Error()})
		return
	}

	record, err := h.Reputation.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, record)
}

// HandleBenchmarkHistory  godoc
//
//	@Summary	Returns the last ten completed benchmark results for a machine.
//	@Tags		verification
//	@Router		/machines/{id}/benchmarks [get]
func (h *Handlers) HandleBenchmarkHistory(c *gin.Context) {
	results, err := h.Executor.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, results)
}

// HandleListJobs  godoc
//
//	@Summary	Lists all benchmark jobs on record.
//	@Tags		verification
//	@Router		/verification/jobs [get]
func (h *Handlers) HandleListJobs(c *gin.Context) {
	jobs, err := h.Executor.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, jobs)
}

// HandleTriggerBenchmark  godoc
//
//	@Summary		Manually starts a verification benchmark for a machine.
//	@Description	Returns the job immediately; progress is observable through the jobs listing.
//	@Tags			verification
//	@Router			/verification/benchmarks/trigger/{id} [post]
func (h *Handlers) HandleTriggerBenchmark(c *gin.Context) {
	job, err := h.Executor.Dispatch(c.Request.Context(), c.Param("id"), models.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			c.JSON(404, gin.H{"error": err.Error()})
		case errors.Is(err, verification.ErrBenchmarkInFlight):
			c.JSON(409, gin.H{"error": err.Error()})
		default:
			c.JSON(500, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(202, job)
}
