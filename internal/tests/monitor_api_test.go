// internal/tests/monitor_api_test.go
package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/handlers"
	"github.com/dropsight/dropsight-backend/internal/middleware"
	"github.com/dropsight/dropsight-backend/internal/models"
	"github.com/dropsight/dropsight-backend/internal/services"
	"github.com/dropsight/dropsight-backend/internal/utils"
)

type MonitorAPITestSuite struct {
	suite.Suite
	db            *gorm.DB
	router        *gin.Engine
	monitor       *services.MonitorService
	merchantID    uuid.UUID
	merchantToken string
	operatorToken string
}

func (s *MonitorAPITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)

	s.Require().NoError(db.AutoMigrate(
		&models.Product{},
		&models.AutomationLogEntry{},
		&models.SupplierObservation{},
		&models.StatusTransition{},
		&models.OperatorAlert{},
	))
	s.db = db

	cfg := config.MonitoringConfig{
		PriceTolerance:       decimal.NewFromFloat(0.01),
		UnreachableThreshold: 2,
		TransitionWeight:     0.5,
		VolatilityWeight:     0.3,
		RatingWeight:         0.2,
		RiskWindowDays:       30,
		RiskDecayHalfLife:    168 * time.Hour,
		BaselineRisk:         50,
		HealRiskThreshold:    70,
		HighRiskThreshold:    80,
		MinSimilarity:        0.6,
		PolicyTimeout:        2 * time.Second,
		RescoreCron:          "@daily",
		WorkerCount:          1,
		QueueSize:            16,
	}

	alertService := services.NewAlertService(db)
	ingestService := services.NewIngestService()
	riskService := services.NewRiskService(db, cfg)
	searcher := services.NewHTTPCandidateSearcher(config.CandidateSearchConfig{
		BaseURL:        "http://localhost:9090",
		MaxCandidates:  25,
		TimeoutSeconds: 1,
	})
	matcherService := services.NewMatcherService(searcher, cfg)
	policyService := services.NewPolicyService(db, matcherService, alertService, cfg)
	s.monitor = services.NewMonitorService(db, cfg, ingestService, riskService, policyService, alertService)

	productService := services.NewProductService(db, cfg)
	opsService := services.NewOpsService(db, nil)

	productHandler := handlers.NewProductHandler(productService)
	monitorHandler := handlers.NewMonitorHandler(s.monitor, productService)
	opsHandler := handlers.NewOpsHandler(opsService, alertService)

	utils.SetJWTSecret("test-secret")

	s.merchantID = uuid.New()
	s.merchantToken, err = utils.GenerateJWT(s.merchantID, "merchant", 1)
	s.Require().NoError(err)
	s.operatorToken, err = utils.GenerateJWT(uuid.New(), middleware.RoleOperator, 1)
	s.Require().NoError(err)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		products := v1.Group("/products")
		{
			products.GET("", productHandler.GetProducts)
			products.POST("", productHandler.ImportProduct)
			products.GET("/:id", productHandler.GetProduct)
			products.GET("/:id/automation-log", productHandler.GetAutomationLog)
			products.POST("/:id/observations", monitorHandler.SubmitObservation)
			products.POST("/:id/reevaluate", monitorHandler.Reevaluate)
		}

		ops := v1.Group("/ops")
		ops.Use(middleware.OperatorRequired())
		{
			ops.GET("/review-queue", opsHandler.GetReviewQueue)
			ops.GET("/alerts", opsHandler.GetAlerts)
			ops.GET("/stats", opsHandler.GetStats)
		}
	}
	s.router = r
}

func (s *MonitorAPITestSuite) request(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *MonitorAPITestSuite) importProduct() string {
	w := s.request("POST", "/v1/products", s.merchantToken, map[string]interface{}{
		"title":           "Wireless Earbuds Pro",
		"category":        "electronics",
		"features":        []string{"bluetooth 5.3", "noise cancelling"},
		"listed_price":    79.99,
		"supplier_url":    "https://supplier.example/listing/123",
		"platform":        "aliexpress",
		"supplier_price":  50.0,
		"stock_level":     10,
		"supplier_rating": 4.5,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var response map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	return data["id"].(string)
}

func (s *MonitorAPITestSuite) TestImportAndFetchProduct() {
	id := s.importProduct()

	w := s.request("GET", "/v1/products/"+id, s.merchantToken, nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)

	var response map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	supplier := data["supplier"].(map[string]interface{})
	assert.Equal(s.T(), "active", supplier["status"])
}

func (s *MonitorAPITestSuite) TestSubmitObservationAccepted() {
	id := s.importProduct()

	w := s.request("POST", "/v1/products/"+id+"/observations", s.merchantToken, map[string]interface{}{
		"price":       45.0,
		"in_stock":    true,
		"reachable":   true,
		"observed_at": time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(s.T(), http.StatusAccepted, w.Code, w.Body.String())
}

func (s *MonitorAPITestSuite) TestSubmitObservationRejectsNegativePrice() {
	id := s.importProduct()

	w := s.request("POST", "/v1/products/"+id+"/observations", s.merchantToken, map[string]interface{}{
		"price":       -1.0,
		"in_stock":    true,
		"reachable":   true,
		"observed_at": time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(s.T(), http.StatusUnprocessableEntity, w.Code)
}

func (s *MonitorAPITestSuite) TestSubmitObservationUnknownProduct() {
	w := s.request("POST", "/v1/products/"+uuid.New().String()+"/observations", s.merchantToken, map[string]interface{}{
		"price":       45.0,
		"in_stock":    true,
		"reachable":   true,
		"observed_at": time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

func (s *MonitorAPITestSuite) TestReevaluateAccepted() {
	id := s.importProduct()

	w := s.request("POST", "/v1/products/"+id+"/reevaluate", s.merchantToken, nil)
	assert.Equal(s.T(), http.StatusAccepted, w.Code)
}

func (s *MonitorAPITestSuite) TestRequiresAuthentication() {
	w := s.request("GET", "/v1/products", "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *MonitorAPITestSuite) TestOpsRequiresOperatorRole() {
	w := s.request("GET", "/v1/ops/stats", s.merchantToken, nil)
	assert.Equal(s.T(), http.StatusForbidden, w.Code)
}

func (s *MonitorAPITestSuite) TestOpsStats() {
	s.importProduct()

	w := s.request("GET", "/v1/ops/stats", s.operatorToken, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var response map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.GreaterOrEqual(s.T(), data["total_products"].(float64), 1.0)
}

func TestMonitorAPITestSuite(t *testing.T) {
	suite.Run(t, new(MonitorAPITestSuite))
}
