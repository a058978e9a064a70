package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/service"
	apihttp "github.com/autopeer-io/spotpeer/internal/spotpeer/server/http"
)

// APIError is a non-successful reply from spotpeer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotpeer returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the spotpeer HTTP API.
type Client struct {
	rc *resty.Client
}

func NewClient(server string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(server, "/") + "/api/v1").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{rc: rc}
}

func (c *Client) ActiveLot(ctx context.Context) (service.Snapshot, error) {
	var out service.Snapshot
	return out, c.do(ctx, http.MethodGet, "/lot", nil, nil, &out)
}

func (c *Client) Select(ctx context.Context, lot model.LotID) (service.Snapshot, error) {
	var out service.Snapshot
	return out, c.do(ctx, http.MethodPut, "/lot", apihttp.SelectRequest{LotID: lot}, nil, &out)
}

func (c *Client) Refresh(ctx context.Context) (service.Snapshot, error) {
	var out service.Snapshot
	return out, c.do(ctx, http.MethodPost, "/refresh", nil, nil, &out)
}

func (c *Client) RequestStatus(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/request-status", nil, nil, nil)
}

func (c *Client) Spots(ctx context.Context, lot model.LotID, floor, status string) ([]model.MergedSpot, error) {
	query := map[string]string{}
	if floor != "" {
		query["floor"] = floor
	}
	if status != "" {
		query["status"] = status
	}

	var out struct {
		ParkingSpots []model.MergedSpot `json:"parkingSpots"`
	}
	err := c.do(ctx, http.MethodGet, "/lots/"+lot.String()+"/spots", nil, query, &out)
	return out.ParkingSpots, err
}

func (c *Client) Stats(ctx context.Context, lot model.LotID) (model.Stats, error) {
	var out model.Stats
	return out, c.do(ctx, http.MethodGet, "/lots/"+lot.String()+"/stats", nil, nil, &out)
}

func (c *Client) Floors(ctx context.Context, lot model.LotID) ([]string, error) {
	var out struct {
		Floors []string `json:"floors"`
	}
	err := c.do(ctx, http.MethodGet, "/lots/"+lot.String()+"/floors", nil, nil, &out)
	return out.Floors, err
}

func (c *Client) Connection(ctx context.Context) (apihttp.ConnectionInfo, error) {
	var out apihttp.ConnectionInfo
	return out, c.do(ctx, http.MethodGet, "/connection", nil, nil, &out)
}

func (c *Client) Connect(ctx context.Context) (apihttp.ConnectionInfo, error) {
	var out apihttp.ConnectionInfo
	return out, c.do(ctx, http.MethodPost, "/connection/connect", nil, nil, &out)
}

func (c *Client) Disconnect(ctx context.Context) (apihttp.ConnectionInfo, error) {
	var out apihttp.ConnectionInfo
	return out, c.do(ctx, http.MethodPost, "/connection/disconnect", nil, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string, out any) error {
	req := c.rc.R().SetContext(ctx).SetQueryParams(query)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if !resp.IsSuccess() {
			return &APIError{StatusCode: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
		}
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if !resp.IsSuccess() || !env.Success {
		return &APIError{StatusCode: resp.StatusCode(), Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
