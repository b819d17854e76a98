package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"gitlab.com/stratomesh/provisioning-service/allocation"
	"gitlab.com/stratomesh/provisioning-service/internal/tracing"
	"gitlab.com/stratomesh/provisioning-service/registry"
	"gitlab.com/stratomesh/provisioning-service/reputation"
	"gitlab.com/stratomesh/provisioning-service/verification"
)

// Handlers binds the engines to the REST surface. Everything is injected;
// the api package holds no state of its own.
type Handlers struct {
	Registry   *registry.Registry
	Engine     *allocation.Engine
	Reputation *reputation.Engine
	Executor   *verification.Executor
}

func SetupRouter(h *Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(DefaultConfig()))
	router.Use(otelgin.Middleware(tracing.ServiceName))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	m := v1.Group("/machines")
	{
		m.POST("", h.HandleRegisterMachine)
		m.GET("", h.HandleListMachines)
		m.GET("/:id", h.HandleGetMachine)
		m.POST("/:id/heartbeat", h.HandleHeartbeat)
		m.DELETE("/:id", h.HandleUnregisterMachine)
		m.GET("/operator/:operator", h.HandleListByOperator)
		m.GET("/:id/reputation", h.HandleGetReputation)
		m.GET("/:id/benchmarks", h.HandleBenchmarkHistory)
	}

	a := v1.Group("/allocations")
	{
		a.POST("", h.HandleAllocate)
		a.GET("/:id", h.HandleGetAllocation)
		a.DELETE("/:id", h.HandleRelease)
		a.GET("/user/:user", h.HandleListAllocationsByUser)
	}

	vf := v1.Group("/verification")
	{
		vf.GET("/jobs", h.HandleListJobs)
		vf.POST("/benchmarks/trigger/:id", h.HandleTriggerBenchmark)
	}

	v1.GET("/stats", h.HandleStats)

	return router
}

// DefaultConfig returns a generic default CORS configuration mapped to localhost.
func DefaultConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     []string{"http://localhost:9880"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Access-Control-Allow-Origin", "Origin", "Content-Length", "Content-Type"},
		AllowCredentials: false,
	}
}
