package aggregator

import (
	"context"
	"log"
	"sync"
	"time"

	models "brewlytics/database/models_pkg"
)

// MetricSink is the slice of the metrics repository the aggregator writes.
type MetricSink interface {
	Upsert(m *models.DailyBranchMetrics) error
}

// Aggregator assembles one DailyBranchMetrics row per (branch, date) from the
// six upstream endpoints. Each metric group degrades independently: a failed
// call zeroes only its own fields. When every call fails the day is skipped,
// an all-zero row is never written.
type Aggregator struct {
	client *Client
	sink   MetricSink
}

// New creates an aggregator.
func New(client *Client, sink MetricSink) *Aggregator {
	return &Aggregator{client: client, sink: sink}
}

// AggregateDay fans out to all six endpoints concurrently, assembles the row,
// and upserts it. Returns the assembled row, or nil when all six upstreams
// failed.
func (a *Aggregator) AggregateDay(ctx context.Context, branchID int, date time.Time) (*models.DailyBranchMetrics, error) {
	var (
		wg        sync.WaitGroup
		revenue   *revenueData
		customers *customerData
		products  *productData
		reviews   *reviewData
		inventory *inventoryData
		matCost   *materialCostData
	)

	fetch := func(name string, call func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := call(); err != nil {
				log.Printf("⚠️  Aggregator branch=%d date=%s group=%s degraded: %v",
					branchID, date.Format("2006-01-02"), name, err)
			}
		}()
	}

	fetch("revenue", func() (err error) { revenue, err = a.client.FetchRevenue(ctx, branchID, date); return })
	fetch("customers", func() (err error) { customers, err = a.client.FetchCustomers(ctx, branchID, date); return })
	fetch("products", func() (err error) { products, err = a.client.FetchProducts(ctx, branchID, date); return })
	fetch("reviews", func() (err error) { reviews, err = a.client.FetchReviews(ctx, branchID, date); return })
	fetch("inventory", func() (err error) { inventory, err = a.client.FetchInventory(ctx, branchID, date); return })
	fetch("material-cost", func() (err error) { matCost, err = a.client.FetchMaterialCost(ctx, branchID, date); return })
	wg.Wait()

	if revenue == nil && customers == nil && products == nil &&
		reviews == nil && inventory == nil && matCost == nil {
		log.Printf("⚠️  Aggregator branch=%d date=%s: all upstreams failed, skipping day",
			branchID, date.Format("2006-01-02"))
		return nil, nil
	}

	row := &models.DailyBranchMetrics{
		BranchID:   branchID,
		ReportDate: date,
		DayOfWeek:  mondayIndexed(date),
	}
	row.IsWeekend = row.DayOfWeek >= 6

	if revenue != nil {
		row.TotalRevenue = revenue.TotalRevenue
		row.OrderCount = revenue.OrderCount
		row.AvgOrderValue = revenue.AvgOrderValue
		row.PeakHour = revenue.PeakHour
		row.AvgPrepTime = revenue.AvgPrepTime
		row.StaffEfficiencyScore = revenue.StaffScore
	}
	if customers != nil {
		row.TotalCustomers = customers.TotalCustomers
		row.RepeatCustomers = customers.RepeatCustomers
		row.NewCustomers = customers.NewCustomers
	}
	if products != nil {
		row.UniqueProductsSold = products.UniqueProductsSold
		row.TopSellingProductID = products.TopSellingProductID
		row.ProductDiversityScore = products.ProductDiversityScore
	}
	if reviews != nil {
		row.AvgReviewScore = reviews.AvgReviewScore
	}
	if inventory != nil {
		row.LowStockProducts = inventory.LowStockProducts
		row.OutOfStockProducts = inventory.OutOfStockProducts
	}
	if matCost != nil {
		row.MaterialCost = matCost.MaterialCost
		row.WastePercentage = matCost.WastePercentage
	}

	if err := a.sink.Upsert(row); err != nil {
		return nil, err
	}
	return row, nil
}

// mondayIndexed maps a date to 1..7 with Monday=1.
func mondayIndexed(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
