package reports

import (
	"fmt"
	"strings"

	"brewlytics/anomaly"
	models "brewlytics/database/models_pkg"
)

// buildPrompt lays out the day's numbers for the LLM. Every figure the model
// may mention is in the prompt; the system message forbids inventing more.
func buildPrompt(row *models.DailyBranchMetrics, assessment *anomaly.Assessment, forecast *models.ForecastResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a short daily operations report for branch %d, date %s.\n\n",
		row.BranchID, row.ReportDate.Format("2006-01-02"))

	fmt.Fprintf(&b, "Revenue: total %.2f, orders %d, avg order value %.2f\n",
		row.TotalRevenue, row.OrderCount, row.AvgOrderValue)
	fmt.Fprintf(&b, "Customers: total %d, repeat %d, new %d\n",
		row.TotalCustomers, row.RepeatCustomers, row.NewCustomers)
	fmt.Fprintf(&b, "Products: unique sold %d, diversity score %.2f\n",
		row.UniqueProductsSold, row.ProductDiversityScore)
	fmt.Fprintf(&b, "Operations: peak hour %d:00, staff efficiency %.2f", row.PeakHour, row.StaffEfficiencyScore)
	if row.AvgPrepTime != nil {
		fmt.Fprintf(&b, ", avg prep time %.1f min", *row.AvgPrepTime)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Reviews: average score %.2f of 5\n", row.AvgReviewScore)
	fmt.Fprintf(&b, "Costs: material %.2f, waste %.1f%%, low stock %d, out of stock %d\n",
		row.MaterialCost, row.WastePercentage, row.LowStockProducts, row.OutOfStockProducts)

	if assessment != nil {
		fmt.Fprintf(&b, "\nAnomaly check: %s\n", assessment.Explain())
	}
	if forecast != nil {
		fmt.Fprintf(&b, "\nLatest %s forecast: %d days ahead from %s, model MAE %.2f\n",
			forecast.TargetMetric, forecast.ForecastHorizonDays,
			forecast.ForecastStartDate.Format("2006-01-02"), forecast.MAE)
	}

	b.WriteString("\nStructure: 2-3 sentences of summary, then bullet points for anything that needs attention.")
	return b.String()
}

// templateNarrative is the deterministic fallback when the LLM is disabled or
// fails. Plain text, same data coverage as the prompt.
func templateNarrative(row *models.DailyBranchMetrics, assessment *anomaly.Assessment, forecast *models.ForecastResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Branch %d summary for %s\n\n", row.BranchID, row.ReportDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Revenue was %.2f across %d orders (avg %.2f per order). ",
		row.TotalRevenue, row.OrderCount, row.AvgOrderValue)
	fmt.Fprintf(&b, "%d customers visited, %d of them new. ", row.TotalCustomers, row.NewCustomers)
	fmt.Fprintf(&b, "Peak hour was %d:00 and the average review score was %.1f.\n\n",
		row.PeakHour, row.AvgReviewScore)

	if row.OutOfStockProducts > 0 {
		fmt.Fprintf(&b, "- %d products out of stock\n", row.OutOfStockProducts)
	}
	if row.LowStockProducts > 0 {
		fmt.Fprintf(&b, "- %d products low on stock\n", row.LowStockProducts)
	}
	if row.WastePercentage > 5 {
		fmt.Fprintf(&b, "- waste at %.1f%% of material cost\n", row.WastePercentage)
	}
	if assessment != nil && assessment.IsAnomaly {
		fmt.Fprintf(&b, "- %s\n", assessment.Explain())
	}
	if forecast != nil {
		fmt.Fprintf(&b, "\nNext %d days: %s forecast available (model MAE %.2f).\n",
			forecast.ForecastHorizonDays, forecast.TargetMetric, forecast.MAE)
	}
	return b.String()
}
