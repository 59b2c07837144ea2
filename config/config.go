package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Upstream sibling services
	OrdersServiceURL       string
	CatalogServiceURL      string
	UpstreamTimeoutSeconds int

	// Scheduler configuration
	SchedulerTimezone    string
	BranchIDs            []int
	MLConcurrency        int
	DistributeBatch      int
	MaxSendAttempts      int
	RetrainFrequencyDays int

	// API
	APIPort int

	// ML configuration
	ML MLConfig

	// LLM configuration
	LLM LLMConfig

	// SMTP configuration
	SMTP SMTPConfig
}

// MLConfig holds training parameters for both model families.
// Jobs copy this struct by value at start, so a running training never
// observes a configuration change mid-fit.
type MLConfig struct {
	// Isolation forest
	IForestTrainingDays  int
	IForestNEstimators   int
	IForestContamination float64

	// Forecast
	ForecastTrainingDays      int
	ForecastTargetMetric      string
	ForecastAlgorithm         string
	ForecastYearlySeasonality bool
	ForecastWeeklySeasonality bool
	ForecastUseRegressors     bool
	ForecastSeasonalityMode   string
	ForecastHorizonDays       int

	// Hyper-parameter tuning
	EnableTuning          bool
	TuningNTrials         int
	TuningTimeoutSeconds  int
	TuningValidationRatio float64
	TuningMinCoverage     float64
	TuningCoverageWeight  float64
	ComparisonThreshold   float64

	// Shared floors and thresholds
	MinTrainingSamples int
	AnomalyThreshold   float64
}

// LLMConfig holds LLM service configuration
type LLMConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Model    string
}

// SMTPConfig holds report delivery configuration
type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	Recipients []string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "brewlytics"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "brewlytics"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "brewlytics123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		// Upstream services
		OrdersServiceURL:       getEnvOrDefault("ORDERS_SERVICE_URL", "http://localhost:8081"),
		CatalogServiceURL:      getEnvOrDefault("CATALOG_SERVICE_URL", "http://localhost:8082"),
		UpstreamTimeoutSeconds: getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 30),

		// Scheduler
		SchedulerTimezone:    getEnvOrDefault("SCHEDULER_TIMEZONE", "UTC"),
		BranchIDs:            getEnvIntList("BRANCH_IDS", []int{1}),
		MLConcurrency:        getEnvInt("ML_CONCURRENCY", 2),
		DistributeBatch:      getEnvInt("DISTRIBUTE_BATCH_SIZE", 10),
		MaxSendAttempts:      getEnvInt("REPORT_MAX_SEND_ATTEMPTS", 3),
		RetrainFrequencyDays: getEnvInt("MODEL_RETRAIN_FREQUENCY_DAYS", 7),

		APIPort: getEnvInt("API_PORT", 8080),

		ML: MLConfig{
			IForestTrainingDays:  getEnvInt("IFOREST_TRAINING_DAYS", 180),
			IForestNEstimators:   getEnvInt("IFOREST_N_ESTIMATORS", 200),
			IForestContamination: getEnvFloat("IFOREST_CONTAMINATION", 0.1),

			ForecastTrainingDays:      getEnvInt("FORECAST_TRAINING_DAYS", 120),
			ForecastTargetMetric:      getEnvOrDefault("FORECAST_TARGET_METRIC", "order_count"),
			ForecastAlgorithm:         getEnvOrDefault("FORECAST_ALGORITHM", "PROPHET"),
			ForecastYearlySeasonality: getEnvBool("FORECAST_YEARLY_SEASONALITY", true),
			ForecastWeeklySeasonality: getEnvBool("FORECAST_WEEKLY_SEASONALITY", true),
			ForecastUseRegressors:     getEnvBool("FORECAST_USE_REGRESSORS", true),
			ForecastSeasonalityMode:   getEnvOrDefault("FORECAST_SEASONALITY_MODE", "multiplicative"),
			ForecastHorizonDays:       getEnvInt("FORECAST_HORIZON_DAYS", 30),

			EnableTuning:          getEnvBool("ENABLE_HYPERPARAMETER_TUNING", true),
			TuningNTrials:         getEnvInt("TUNING_N_TRIALS", 20),
			TuningTimeoutSeconds:  getEnvInt("TUNING_TIMEOUT_SECONDS", 300),
			TuningValidationRatio: getEnvFloat("TUNING_VALIDATION_RATIO", 0.2),
			TuningMinCoverage:     getEnvFloat("TUNING_MIN_COVERAGE", 0.80),
			TuningCoverageWeight:  getEnvFloat("TUNING_COVERAGE_WEIGHT", 10.0),
			ComparisonThreshold:   getEnvFloat("MODEL_COMPARISON_THRESHOLD", 0.0),

			MinTrainingSamples: getEnvInt("MIN_TRAINING_SAMPLES", 30),
			AnomalyThreshold:   getEnvFloat("ANOMALY_THRESHOLD", 0.1),
		},

		LLM: LLMConfig{
			Enabled:  getEnvBool("LLM_ENABLED", false),
			Endpoint: getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:   getEnvOrDefault("LLM_API_KEY", ""),
			Model:    getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},

		SMTP: SMTPConfig{
			Host:       getEnvOrDefault("SMTP_HOST", "localhost"),
			Port:       getEnvInt("SMTP_PORT", 587),
			User:       getEnvOrDefault("SMTP_USER", ""),
			Password:   getEnvOrDefault("SMTP_PASSWORD", ""),
			From:       getEnvOrDefault("SMTP_FROM", "reports@brewlytics.local"),
			Recipients: getEnvStringList("REPORT_RECIPIENTS", nil),
		},
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvBool gets environment variable as bool or returns default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntList parses a comma-separated list of integers
func getEnvIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return defaultValue
	}
	return ids
}

// getEnvStringList parses a comma-separated list of strings
func getEnvStringList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
