// Package agmarknet reads daily mandi prices published on data.gov.in.
package agmarknet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.data.gov.in"
	// ResourceID is the daily commodity price dataset.
	ResourceID = "9ef84268-d588-465a-a308-a864a43d0070"
)

// CommodityMap maps data.gov.in commodity names to ours.
var CommodityMap = map[string]string{
	"Tomato":       "Tomato",
	"Potato":       "Potato",
	"Onion":        "Onion",
	"Rice":         "Rice",
	"Wheat":        "Wheat",
	"Apple":        "Apple",
	"Banana":       "Banana",
	"Mango":        "Mango",
	"Cabbage":      "Cabbage",
	"Carrot":       "Carrot",
	"Cauliflower":  "Cauliflower",
	"Green Chilli": "Green Chili",
}

// Record is one row of the dataset. Prices are rupees per quintal.
type Record struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety"`
	ArrivalDate string `json:"arrival_date"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	ModalPrice  string `json:"modal_price"`
}

type response struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
}

// PricePerKg converts the modal price to rupees per kg, rounded to paise.
// ok is false for missing or non-positive prices.
func (r Record) PricePerKg() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.ModalPrice), 64)
	if err != nil || v <= 0 || math.IsNaN(v) {
		return 0, false
	}
	return math.Round(v/100*100) / 100, true
}

// CommodityName is our name for the record's commodity.
func (r Record) CommodityName() string {
	if name, ok := CommodityMap[r.Commodity]; ok {
		return name
	}
	return r.Commodity
}

type Client struct {
	apiKey string
	client *resty.Client
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetRetryCount(2)
	client.SetRetryWaitTime(time.Second)

	return &Client{apiKey: apiKey, client: client}
}

func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

// Fetch returns up to limit records for the mapped commodities.
func (c *Client) Fetch(ctx context.Context, limit int) ([]Record, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("data.gov.in api key not configured")
	}
	if limit <= 0 {
		limit = 500
	}
	names := make([]string, 0, len(CommodityMap))
	for k := range CommodityMap {
		names = append(names, k)
	}
	sort.Strings(names)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api-key":            c.apiKey,
			"format":             "json",
			"limit":              strconv.Itoa(limit),
			"filters[commodity]": strings.Join(names, "|"),
		}).
		Get("/resource/" + ResourceID)
	if err != nil {
		return nil, fmt.Errorf("data.gov.in request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("data.gov.in API error: %d", resp.StatusCode())
	}

	var out response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode data.gov.in response: %w", err)
	}
	return out.Records, nil
}
