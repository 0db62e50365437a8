// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/handlers"
	"github.com/dropsight/dropsight-backend/internal/middleware"
	"github.com/dropsight/dropsight-backend/internal/services"
	"github.com/dropsight/dropsight-backend/internal/utils"
)

// Initialize wires the engine and the HTTP surface. The returned monitor
// service owns the worker pool; the caller starts and stops it alongside
// the HTTP server.
func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, *services.MonitorService) {
	// Engine services
	alertService := services.NewAlertService(db)
	ingestService := services.NewIngestService()
	riskService := services.NewRiskService(db, cfg.Monitoring)
	searcher := services.NewHTTPCandidateSearcher(cfg.Search)
	matcherService := services.NewMatcherService(searcher, cfg.Monitoring)
	policyService := services.NewPolicyService(db, matcherService, alertService, cfg.Monitoring)
	monitorService := services.NewMonitorService(db, cfg.Monitoring, ingestService, riskService, policyService, alertService)

	productService := services.NewProductService(db, cfg.Monitoring)
	opsService := services.NewOpsService(db, monitorService)

	// Handlers
	productHandler := handlers.NewProductHandler(productService)
	monitorHandler := handlers.NewMonitorHandler(monitorService, productService)
	opsHandler := handlers.NewOpsHandler(opsService, alertService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.BaseURL))
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		products := v1.Group("/products")
		{
			products.GET("", productHandler.GetProducts)
			products.POST("", productHandler.ImportProduct)
			products.GET("/:id", productHandler.GetProduct)
			products.POST("/:id/reimport", productHandler.ReimportProduct)
			products.GET("/:id/automation-log", productHandler.GetAutomationLog)

			products.POST("/:id/observations", middleware.IntakeRateLimit(), monitorHandler.SubmitObservation)
			products.POST("/:id/reevaluate", monitorHandler.Reevaluate)
		}

		ops := v1.Group("/ops")
		ops.Use(middleware.OperatorRequired())
		{
			ops.GET("/review-queue", opsHandler.GetReviewQueue)
			ops.POST("/review/:id/resolve", opsHandler.ResolveReview)
			ops.GET("/alerts", opsHandler.GetAlerts)
			ops.POST("/alerts/:id/read", opsHandler.MarkAlertRead)
			ops.GET("/stats", opsHandler.GetStats)
		}
	}

	return r, monitorService
}
