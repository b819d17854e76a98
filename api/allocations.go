package api

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"gitlab.com/stratomesh/provisioning-service/allocation"
	"gitlab.com/stratomesh/provisioning-service/models"
)

// HandleAllocate  godoc
//
//	@Summary		Leases the best-fitting available machine to a user.
//	@Description	Matches the requirements against available promises, reserves the winner and starts activation in the background.
//	@Tags			allocations
//	@Router			/allocations [post]
func (h *Handlers) HandleAllocate(c *gin.Context) {
	var body struct {
		User         string                        `json:"user"`
		Requirements models.AllocationRequirements `json:"requirements"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": fmt.Sprintf("invalid payload data for allocation request: %v", err)})
		return
	}
	if body.User == "" {
		c.JSON(400, gin.H{"error": "user is required"})
		return
	}

	alloc, err := h.Engine.Allocate(c.Request.Context(), body.User, body.Requirements)
	if err != nil {
		if errors.Is(err, allocation.ErrNoSuitableMachine) {
			c.JSON(409, gin.H{"error": err.Error()})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(201, alloc)
}

// HandleRelease  godoc
//
//	@Summary	Releases an allocation; a no-op if already terminated.
//	@Tags		allocations
//	@Router		/allocations/{id} [delete]
func (h *Handlers) HandleRelease(c *gin.Context) {
	user := c.Query("user")
	err := h.Engine.Release(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		switch {
		case errors.Is(err, allocation.ErrNotFound):
			c.JSON(404, gin.H{"error": err.Error()})
		case errors.Is(err, allocation.ErrNotAuthorized):
			c.JSON(403, gin.H{"error": err.Error()})
		default:
			c.JSON(500, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(200, gin.H{"message": "allocation released"})
}

// HandleGetAllocation  godoc
//
//	@Summary	Returns one allocation by id.
//	@Tags		allocations
//	@Router		/allocations/{id} [get]
func (h *Handlers) HandleGetAllocation(c *gin.Context) {
	alloc, err := h.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, allocation.ErrNotFound) {
			c.JSON(404, gin.H{"error": err.Error()})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, alloc)
}

// HandleListAllocationsByUser  godoc
//
//	@Summary	Lists a user's allocations, terminated ones included.
//	@Tags		allocations
//	@Router		/allocations/user/{user} [get]
func (h *Handlers) HandleListAllocationsByUser(c *gin.Context) {
	allocs, err := h.Engine.ListByUser(c.Request.Context(), c.Param("user"))
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, allocs)
}
