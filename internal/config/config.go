// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Monitoring  MonitoringConfig
	Search      CandidateSearchConfig
	Frontend    FrontendConfig
}

// CandidateSearchConfig points at the external candidate search service the
// replacement matcher consumes.
type CandidateSearchConfig struct {
	BaseURL        string
	APIKey         string
	MaxCandidates  int
	TimeoutSeconds int
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

// MonitoringConfig carries every policy threshold of the engine. The values
// below are tunable defaults, not fixed constants.
type MonitoringConfig struct {
	// State machine
	PriceTolerance       decimal.Decimal // price delta below this is noise
	UnreachableThreshold int             // consecutive unreachable observations before removal

	// Risk scoring. The three weights must sum to 1.0.
	TransitionWeight  float64
	VolatilityWeight  float64
	RatingWeight      float64
	RiskWindowDays    int
	RiskDecayHalfLife time.Duration // age decay of transitions inside the window
	BaselineRisk      float64

	// Policy
	HealRiskThreshold  float64 // risk at which OUT_OF_STOCK/REMOVED triggers a heal
	HighRiskThreshold  float64 // risk at which removal prediction kicks in
	MinSimilarity      float64 // matcher acceptance threshold
	PolicyTimeout      time.Duration
	RescoreCron        string // cadence for time-decay rescoring with no new observation

	// Scheduling
	WorkerCount int
	QueueSize   int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "dropsight"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24),
		},
		Monitoring: MonitoringConfig{
			PriceTolerance:       getEnvAsDecimal("MONITOR_PRICE_TOLERANCE", "0.01"),
			UnreachableThreshold: getEnvAsInt("MONITOR_UNREACHABLE_THRESHOLD", 2),
			TransitionWeight:     getEnvAsFloat("RISK_TRANSITION_WEIGHT", 0.5),
			VolatilityWeight:     getEnvAsFloat("RISK_VOLATILITY_WEIGHT", 0.3),
			RatingWeight:         getEnvAsFloat("RISK_RATING_WEIGHT", 0.2),
			RiskWindowDays:       getEnvAsInt("RISK_WINDOW_DAYS", 30),
			RiskDecayHalfLife:    time.Duration(getEnvAsInt("RISK_DECAY_HALF_LIFE_HOURS", 168)) * time.Hour,
			BaselineRisk:         getEnvAsFloat("RISK_BASELINE", 50),
			HealRiskThreshold:    getEnvAsFloat("POLICY_HEAL_RISK_THRESHOLD", 70),
			HighRiskThreshold:    getEnvAsFloat("POLICY_HIGH_RISK_THRESHOLD", 80),
			MinSimilarity:        getEnvAsFloat("MATCHER_MIN_SIMILARITY", 0.6),
			PolicyTimeout:        time.Duration(getEnvAsInt("POLICY_TIMEOUT_SECONDS", 30)) * time.Second,
			RescoreCron:          getEnv("MONITOR_RESCORE_CRON", "@daily"),
			WorkerCount:          getEnvAsInt("MONITOR_WORKER_COUNT", 4),
			QueueSize:            getEnvAsInt("MONITOR_QUEUE_SIZE", 256),
		},
		Search: CandidateSearchConfig{
			BaseURL:        getEnv("CANDIDATE_SEARCH_URL", "http://localhost:9090"),
			APIKey:         getEnv("CANDIDATE_SEARCH_API_KEY", ""),
			MaxCandidates:  getEnvAsInt("CANDIDATE_SEARCH_MAX", 25),
			TimeoutSeconds: getEnvAsInt("CANDIDATE_SEARCH_TIMEOUT_SECONDS", 20),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	m := c.Monitoring
	weightSum := m.TransitionWeight + m.VolatilityWeight + m.RatingWeight
	if weightSum < 0.999 || weightSum > 1.001 {
		return fmt.Errorf("risk weights must sum to 1.0, got %.3f", weightSum)
	}

	if m.UnreachableThreshold < 1 {
		return fmt.Errorf("unreachable threshold must be at least 1")
	}

	if m.MinSimilarity <= 0 || m.MinSimilarity > 1 {
		return fmt.Errorf("matcher similarity threshold must be in (0,1]")
	}

	if m.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}
