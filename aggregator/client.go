package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client calls the six analytics endpoints on the orders and catalog
// services. All calls share one pooled http.Client with the configured
// per-request timeout.
type Client struct {
	ordersURL  string
	catalogURL string
	httpClient *http.Client
}

// NewClient creates an upstream client. timeout bounds every request.
func NewClient(ordersURL, catalogURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		ordersURL:  ordersURL,
		catalogURL: catalogURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upstream payloads. Field names follow the sibling services' JSON contracts.

type revenueData struct {
	TotalRevenue  float64  `json:"total_revenue"`
	OrderCount    int      `json:"order_count"`
	AvgOrderValue float64  `json:"avg_order_value"`
	PeakHour      int      `json:"peak_hour"`
	AvgPrepTime   *float64 `json:"avg_prep_time"`
	StaffScore    float64  `json:"staff_efficiency_score"`
}

type customerData struct {
	TotalCustomers  int `json:"total_customers"`
	RepeatCustomers int `json:"repeat_customers"`
	NewCustomers    int `json:"new_customers"`
}

type productData struct {
	UniqueProductsSold    int     `json:"unique_products_sold"`
	TopSellingProductID   *int64  `json:"top_selling_product_id"`
	ProductDiversityScore float64 `json:"product_diversity_score"`
}

type reviewData struct {
	AvgReviewScore float64 `json:"avg_review_score"`
}

type inventoryData struct {
	LowStockProducts   int `json:"low_stock_products"`
	OutOfStockProducts int `json:"out_of_stock_products"`
}

type materialCostData struct {
	MaterialCost    float64 `json:"material_cost"`
	WastePercentage float64 `json:"waste_percentage"`
}

func (c *Client) FetchRevenue(ctx context.Context, branchID int, date time.Time) (*revenueData, error) {
	var out revenueData
	if err := c.get(ctx, c.ordersURL, "/api/analytics/revenue", branchID, date, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchCustomers(ctx context.Context, branchID int, date time.Time) (*customerData, error) {
	var out customerData
	if err := c.get(ctx, c.ordersURL, "/api/analytics/customers", branchID, date, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchReviews(ctx context.Context, branchID int, date time.Time) (*reviewData, error) {
	var out reviewData
	if err := c.get(ctx, c.ordersURL, "/api/analytics/reviews", branchID, date, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchProducts(ctx context.Context, branchID int, date time.Time) (*productData, error) {
	var out productData
	if err := c.get(ctx, c.catalogURL, "/api/analytics/products", branchID, date, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchInventory(ctx context.Context, branchID int, date time.Time) (*inventoryData, error) {
	var out inventoryData
	if err := c.get(ctx, c.catalogURL, "/api/analytics/inventory", branchID, date, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchMaterialCost(ctx context.Context, branchID int, date time.Time) (*materialCostData, error) {
	var out materialCostData
	if err := c.get(ctx, c.catalogURL, "/api/analytics/material-cost", branchID, date, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get fetches one endpoint and decodes the body into out. Responses come as
// either a bare object or an envelope {"result": object}; both are accepted.
func (c *Client) get(ctx context.Context, base, path string, branchID int, date time.Time, out interface{}) error {
	q := url.Values{}
	q.Set("branch_id", fmt.Sprintf("%d", branchID))
	q.Set("date", date.Format("2006-01-02"))
	fullURL := base + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &UpstreamError{Endpoint: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &UpstreamError{Endpoint: path, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Endpoint: path, Err: err}
	}
	return decodeEnvelope(body, out, path)
}

func decodeEnvelope(body []byte, out interface{}, endpoint string) error {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Result) > 0 {
		body = envelope.Result
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
