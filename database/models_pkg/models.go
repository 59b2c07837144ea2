package models

import "time"

// Model type constants as persisted in ml_models.model_type
const (
	ModelTypeIsolationForest = "isolation_forest"
	ModelTypeProphet         = "prophet"
)

// DailyBranchMetrics is one day of operational metrics for a single branch.
// Rows are produced by the metric aggregator and never mutated after insert.
//
// Key Fields:
//   - BranchID + ReportDate: unique key; the aggregator upserts on it, so
//     re-running a day is idempotent
//   - DayOfWeek: 1..7 with Monday=1
//   - IsWeekend: DayOfWeek in {6,7}
//   - AvgPrepTime: nil when the orders service has no preparation data for
//     the day
//
// Metric groups degrade independently: an upstream failure zeroes only the
// fields that group owns (see aggregator package).
type DailyBranchMetrics struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BranchID   int       `gorm:"not null;uniqueIndex:idx_metrics_branch_date,priority:1" json:"branch_id"`
	ReportDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_metrics_branch_date,priority:2" json:"report_date"`

	// Revenue group
	TotalRevenue  float64 `gorm:"type:decimal(15,2)" json:"total_revenue"`
	OrderCount    int     `json:"order_count"`
	AvgOrderValue float64 `gorm:"type:decimal(15,2)" json:"avg_order_value"`

	// Customer group
	TotalCustomers  int `json:"total_customers"`
	RepeatCustomers int `json:"repeat_customers"`
	NewCustomers    int `json:"new_customers"`

	// Product group
	UniqueProductsSold    int     `json:"unique_products_sold"`
	TopSellingProductID   *int64  `json:"top_selling_product_id,omitempty"`
	ProductDiversityScore float64 `gorm:"type:decimal(5,4)" json:"product_diversity_score"` // [0,1]

	// Operations group
	PeakHour             int      `json:"peak_hour"`    // [0,23]
	DayOfWeek            int      `json:"day_of_week"`  // [1,7], Monday=1
	IsWeekend            bool     `json:"is_weekend"`
	AvgPrepTime          *float64 `gorm:"type:decimal(10,2)" json:"avg_prep_time,omitempty"`
	StaffEfficiencyScore float64  `gorm:"type:decimal(5,4)" json:"staff_efficiency_score"` // [0,1]

	// Review group
	AvgReviewScore float64 `gorm:"type:decimal(4,2)" json:"avg_review_score"` // [0,5]

	// Cost and inventory group
	MaterialCost       float64 `gorm:"type:decimal(15,2)" json:"material_cost"`
	WastePercentage    float64 `gorm:"type:decimal(5,2)" json:"waste_percentage"`
	LowStockProducts   int     `json:"low_stock_products"`
	OutOfStockProducts int     `json:"out_of_stock_products"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for DailyBranchMetrics
func (DailyBranchMetrics) TableName() string {
	return "daily_branch_metrics"
}

// MLModel is a persisted model artefact with its training provenance.
//
// Key Fields:
//   - ModelName: "<kind>_branch_<id>", e.g. "prophet_branch_3"
//   - ModelType: isolation_forest or prophet
//   - Artefact: opaque serialized model bundle; deserialization must
//     reproduce point predictions exactly
//   - IsActive: at most one active row per model name at any time; the
//     registry flips it inside the commit transaction
//   - QualityMetric/QualityValue: "mae" for forecast models, "separation"
//     for anomaly models
type MLModel struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelName            string    `gorm:"type:text;index:idx_models_name_active,priority:1;not null" json:"model_name"`
	ModelVersion         string    `gorm:"type:text;not null" json:"model_version"`
	ModelType            string    `gorm:"type:text;not null" json:"model_type"`
	TrainedAt            time.Time `gorm:"index;not null" json:"trained_at"`
	TrainingWindowStart  time.Time `gorm:"type:date" json:"training_window_start"`
	TrainingWindowEnd    time.Time `gorm:"type:date" json:"training_window_end"`
	TrainingSamplesCount int       `json:"training_samples_count"`
	Hyperparameters      string    `gorm:"type:jsonb" json:"hyperparameters"`
	FeatureList          string    `gorm:"type:jsonb" json:"feature_list"` // ordered JSON array
	Artefact             []byte    `gorm:"type:bytea" json:"-"`
	IsActive             bool      `gorm:"index:idx_models_name_active,priority:2;default:false" json:"is_active"`
	QualityMetric        string    `gorm:"type:text" json:"quality_metric,omitempty"`
	QualityValue         *float64  `gorm:"type:decimal(15,6)" json:"quality_value,omitempty"`
}

// TableName specifies the table name for MLModel
func (MLModel) TableName() string {
	return "ml_models"
}

// ForecastResult is one serving run of an active forecast model.
// ForecastValues and ConfidenceIntervals are JSON arrays of equal length,
// both equal to ForecastHorizonDays.
type ForecastResult struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BranchID             int       `gorm:"index;not null" json:"branch_id"`
	ForecastDate         time.Time `gorm:"type:date;not null" json:"forecast_date"`
	ForecastStartDate    time.Time `gorm:"type:date" json:"forecast_start_date"`
	ForecastEndDate      time.Time `gorm:"type:date" json:"forecast_end_date"`
	ModelID              int64     `gorm:"index;not null" json:"model_id"`
	TargetMetric         string    `gorm:"type:text;not null" json:"target_metric"`
	Algorithm            string    `gorm:"type:text;not null" json:"algorithm"`
	ForecastValues       string    `gorm:"type:jsonb" json:"forecast_values"`       // JSON array of floats
	ConfidenceIntervals  string    `gorm:"type:jsonb" json:"confidence_intervals"` // JSON array of [lower, upper]
	MAE                  float64   `gorm:"type:decimal(15,6)" json:"mae"`
	MSE                  float64   `gorm:"type:decimal(20,6)" json:"mse"`
	RMSE                 float64   `gorm:"type:decimal(15,6)" json:"rmse"`
	MAPE                 float64   `gorm:"type:decimal(10,4)" json:"mape"`
	TrainingSamplesCount int       `json:"training_samples_count"`
	TrainingDateStart    time.Time `gorm:"type:date" json:"training_date_start"`
	TrainingDateEnd      time.Time `gorm:"type:date" json:"training_date_end"`
	ForecastHorizonDays  int       `json:"forecast_horizon_days"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for ForecastResult
func (ForecastResult) TableName() string {
	return "forecast_results"
}

// AnalyticsReport is a composed narrative report queued for email delivery.
//
// Delivery semantics:
//   - IsSent flips to true only after a successful SMTP acknowledgement
//   - a transient send failure leaves IsSent=false so the next
//     distribute_unsent tick retries
//   - a non-transient rejection, or exhausting the attempt bound, marks
//     Failed=true and takes the report out of the retry loop
type AnalyticsReport struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	BranchID     int        `gorm:"not null;uniqueIndex:idx_reports_branch_date,priority:1" json:"branch_id"`
	ReportDate   time.Time  `gorm:"type:date;not null;uniqueIndex:idx_reports_branch_date,priority:2" json:"report_date"`
	Title        string     `gorm:"type:text;not null" json:"title"`
	Content      string     `gorm:"type:text" json:"content"`
	Recipients   string     `gorm:"type:jsonb" json:"recipients"` // JSON array of addresses
	IsSent       bool       `gorm:"index;default:false" json:"is_sent"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	SendAttempts int        `gorm:"default:0" json:"send_attempts"`
	Failed       bool       `gorm:"default:false" json:"failed"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for AnalyticsReport
func (AnalyticsReport) TableName() string {
	return "analytics_reports"
}
