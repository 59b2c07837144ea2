package ml

import (
	models "brewlytics/database/models_pkg"
)

// AnomalyFeatures is the reference 18-feature set fitted by the anomaly
// trainer. Order matters: the scaler and the forest are trained against this
// exact column order and the artefact stores it verbatim.
var AnomalyFeatures = []string{
	"total_revenue",
	"order_count",
	"avg_order_value",
	"total_customers",
	"repeat_customers",
	"new_customers",
	"unique_products_sold",
	"product_diversity_score",
	"peak_hour",
	"day_of_week",
	"is_weekend",
	"avg_prep_time",
	"staff_efficiency_score",
	"avg_review_score",
	"material_cost",
	"waste_percentage",
	"low_stock_products",
	"out_of_stock_products",
}

// OperationalRegressors are the optional exogenous inputs the forecast
// trainer may admit. They are forward-filled into the future at serving
// time; calendar regressors are handled separately because they extrapolate
// deterministically.
var OperationalRegressors = []string{
	"staff_efficiency_score",
	"avg_prep_time",
	"new_ratio",
	"waste_ratio",
	"product_diversity_score",
	"peak_hour",
	"order_count",
	"avg_review_score",
}

// Value extracts a named metric from a daily row. Unknown names return
// ok=false; nil optionals coerce to 0.
func Value(row models.DailyBranchMetrics, name string) (float64, bool) {
	switch name {
	case "total_revenue":
		return row.TotalRevenue, true
	case "order_count":
		return float64(row.OrderCount), true
	case "avg_order_value":
		return row.AvgOrderValue, true
	case "total_customers":
		return float64(row.TotalCustomers), true
	case "repeat_customers":
		return float64(row.RepeatCustomers), true
	case "new_customers":
		return float64(row.NewCustomers), true
	case "unique_products_sold":
		return float64(row.UniqueProductsSold), true
	case "product_diversity_score":
		return row.ProductDiversityScore, true
	case "peak_hour":
		return float64(row.PeakHour), true
	case "day_of_week":
		return float64(row.DayOfWeek), true
	case "is_weekend":
		if row.IsWeekend {
			return 1, true
		}
		return 0, true
	case "avg_prep_time":
		if row.AvgPrepTime != nil {
			return *row.AvgPrepTime, true
		}
		return 0, true
	case "staff_efficiency_score":
		return row.StaffEfficiencyScore, true
	case "avg_review_score":
		return row.AvgReviewScore, true
	case "material_cost":
		return row.MaterialCost, true
	case "waste_percentage":
		return row.WastePercentage, true
	case "low_stock_products":
		return float64(row.LowStockProducts), true
	case "out_of_stock_products":
		return float64(row.OutOfStockProducts), true
	case "month":
		return float64(row.ReportDate.Month()), true
	case "new_ratio":
		if row.TotalCustomers > 0 {
			return float64(row.NewCustomers) / float64(row.TotalCustomers), true
		}
		return 0, true
	case "waste_ratio":
		return row.WastePercentage / 100, true
	default:
		return 0, false
	}
}

// KnownMetric reports whether a name is a valid target or feature.
func KnownMetric(name string) bool {
	_, ok := Value(models.DailyBranchMetrics{}, name)
	return ok
}
