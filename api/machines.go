package api

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"gitlab.com/stratomesh/provisioning-service/registry"
)

// HandleRegisterMachine  godoc
//
//	@Summary		Registers a machine promise for an operator.
//	@Description	Validates the claimed hardware spec and stake, then adds the machine to the registry as available.
//	@Tags			machines
//	@Router			/machines [post]
func (h *Handlers) HandleRegisterMachine(c *gin.Context) {
	var req registry.RegisterRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": fmt.Sprintf("invalid payload data for machine registration: %v", err)})
		return
	}

	promise, err := h.Registry.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidSpec):
			c.JSON(400, gin.H{"error": err.Error()})
		case errors.Is(err, registry.ErrOperatorAtCap), errors.Is(err, registry.ErrStakeTooLow):
			c.JSON(409, gin.H{"error": err.Error()})
		default:
			c.JSON(500, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(201, promise)
}

// HandleHeartbeat  godoc
//
//	@Summary	Refreshes a machine's liveness timestamp.
//	@Tags		machines
//	@Router		/machines/{id}/heartbeat [post]
func (h *Handlers) HandleHeartbeat(c *gin.Context) {
	var body struct {
		Operator string `json:"operator"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": "operator is required"})
		return
	}

	found, err := h.Registry.Heartbeat(c.Request.Context(), c.Param("id"), body.Operator)
	if err != nil {
		if errors.Is(err, registry.ErrNotAuthorized) {
			c.JSON(403, gin.H{"error": err.Error()})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"found": found})
}

// HandleUnregisterMachine  godoc
//
//	@Summary	Removes a machine promise; rejected while it holds a lease.
//	@Tags		machines
//	@Router		/machines/{id} [delete]
func (h *Handlers) HandleUnregisterMachine(c *gin.Context) {
	operator := c.Query("operator")
	err := h.Registry.Unregister(c.Request.Context(), c.Param("id"), operator)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			c.JSON(404, gin.H{"error": err.Error()})
		case errors.Is(err, registry.ErrNotAuthorized):
			c.JSON(403, gin.H{"error": err.Error()})
		case errors.Is(err, registry.ErrAllocated):
			c.JSON(409, gin.H{"error": err.Error()})
		default:
			c.JSON(500, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(200, gin.H{"message": "machine unregistered"})
}

// HandleListMachines  godoc
//
//	@Summary	Lists available machines, optionally filtered.
//	@Tags		machines
//	@Router		/machines [get]
func (h *Handlers) HandleListMachines(c *gin.Context) {
	filter := registry.MachineFilter{
		Region:      c.Query("region"),
		GPURequired: c.Query("gpu") == "true",
		TEERequired: c.Query("tee") == "true",
	}
	if v := c.Query("min_cpu"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(400, gin.H{"error": "min_cpu must be an integer"})
			return
		}
		filter.MinCPUCores = n
	}
	if v := c.Query("min_memory_mb"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(400, gin.H{"error": "min_memory_mb must be an integer"})
			return
		}
		filter.MinMemoryMB = n
	}
	if v := c.Query("max_price_wei"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(400, gin.H{"error": "max_price_wei must be an integer"})
			return
		}
		filter.MaxPricePerHour = n
	}

	promises, err := h.Registry.ListAvailable(c.Request.Context(), filter)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, promises)
}

// HandleGetMachine  godoc
//
//	@Summary	Returns one machine promise by id.
//	@Tags		machines
//	@Router		/machines/{id} [get]
func (h *Handlers) HandleGetMachine(c *gin.Context) {
	promise, err := h.Registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(404, gin.H{"error": err.Error()})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, promise)
}

// HandleListByOperator  godoc
//
//	@Summary	Lists every machine an operator has registered.
//	@Tags		machines
//	@Router		/machines/operator/{operator} [get]
func (h *Handlers) HandleListByOperator(c *gin.Context) {
	promises, err := h.Registry.ListByOperator(c.Request.Context(), c.Param("operator"))
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, promises)
}

// HandleStats  godoc
//
//	@Summary	Aggregate statistics over the whole promise table.
//	@Tags		stats
//	@Router		/stats [get]
func (h *Handlers) HandleStats(c *gin.Context) {
	stats, err := h.Registry.Stats(c.Request.Context())
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, stats)
}
