// Package prediction talks to the price model service: the LSTM backend or
// the built-in mock served under /agri-api.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agri-price/internal/apierr"

	"github.com/go-resty/resty/v2"
)

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

type TrainRequest struct {
	Filename string `json:"filename,omitempty"`
	Epochs   int    `json:"epochs,omitempty"`
}

type Metrics struct {
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	MAPE    float64 `json:"mape"`
	R2Score float64 `json:"r2_score"`
}

type TrainResponse struct {
	Message   string  `json:"message"`
	Metrics   Metrics `json:"metrics"`
	EpochsRun int     `json:"epochs_run"`
}

type PredictRequest struct {
	Sequence  [][]float64 `json:"sequence"`
	Commodity string      `json:"commodity,omitempty"`
}

type PredictResponse struct {
	Commodity      string  `json:"commodity"`
	PredictedPrice float64 `json:"predicted_price"`
	ConfidenceNote string  `json:"confidence_note"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

type Client struct {
	baseURL string
	client  *resty.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	client := resty.New()
	client.SetTimeout(60 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")

	return &Client{baseURL: baseURL, client: client}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, resty.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TrainModel(ctx context.Context, req TrainRequest) (*TrainResponse, error) {
	var out TrainResponse
	if err := c.do(ctx, resty.MethodPost, "/train-model", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PredictPrice(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	if len(req.Sequence) == 0 {
		return nil, apierr.Invalid("sequence is required")
	}
	var out PredictResponse
	if err := c.do(ctx, resty.MethodPost, "/predict-price", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ModelMetrics(ctx context.Context) (*Metrics, error) {
	var out Metrics
	if err := c.do(ctx, resty.MethodGet, "/model-metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return apierr.New(http.StatusBadGateway, apierr.CodeUpstream, fmt.Errorf("prediction api unreachable: %w", err))
	}

	if resp.IsError() {
		var eb errorBody
		msg := resp.Status()
		if json.Unmarshal(resp.Body(), &eb) == nil && eb.Detail != "" {
			msg = eb.Detail
		} else if msg == "" {
			msg = fmt.Sprintf("API error %d", resp.StatusCode())
		}
		return apierr.FromUpstream(resp.StatusCode(), errors.New(msg))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
