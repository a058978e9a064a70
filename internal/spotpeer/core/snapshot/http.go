package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

const spotsPath = "/parking-lots/{lotId}/spots"

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// HTTPFetcher reads the baseline from the backend REST API.
type HTTPFetcher struct {
	client *resty.Client
	logger log.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		ParkingSpots []record `json:"parkingSpots"`
	} `json:"data"`
}

// NewHTTPFetcher returns a fetcher for the API rooted at cfg.BaseURL.
func NewHTTPFetcher(cfg HTTPConfig, logger log.Logger) *HTTPFetcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.WithName("snapshot-http")

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetLogger(log.NewPrintfLogger(logger)).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &HTTPFetcher{client: client, logger: logger}
}

// FetchByLot implements Fetcher.
func (f *HTTPFetcher) FetchByLot(ctx context.Context, lot model.LotID) ([]model.Spot, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("lotId", lot.String()).
		Get(spotsPath)
	if err != nil {
		return nil, &TransportError{Op: "GET " + spotsPath, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)

	if !resp.IsSuccess() {
		msg := http.StatusText(resp.StatusCode())
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &TransportError{Op: "GET " + spotsPath, StatusCode: resp.StatusCode(), Message: msg}
	}
	if decodeErr != nil {
		return nil, &DataError{Reason: "decode envelope", Err: decodeErr}
	}
	if env.Success == nil {
		return nil, &DataError{Reason: "envelope without success flag"}
	}
	if !*env.Success {
		return nil, &TransportError{Op: "GET " + spotsPath, StatusCode: resp.StatusCode(), Message: env.Message}
	}
	if env.Data == nil || env.Data.ParkingSpots == nil {
		return nil, &DataError{Reason: "envelope without data.parkingSpots"}
	}

	spots, err := toSpots(env.Data.ParkingSpots, lot)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Fetched snapshot", "lot", lot, "spots", len(spots))
	return spots, nil
}
