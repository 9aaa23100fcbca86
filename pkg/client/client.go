package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zfogg/emoine/pkg/config"
	apperrors "github.com/zfogg/emoine/pkg/errors"
	"github.com/zfogg/emoine/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const userAgent = "emoine-cli/0.1.0"

var httpClient *resty.Client

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Uptime  string `json:"uptime"`
}

// StatsResponse is returned by GET /api/ws/stats
type StatsResponse struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	Broadcasts  int64 `json:"broadcasts"`
	Dropped     int64 `json:"dropped"`
}

// Init initializes the HTTP client
func Init() {
	httpClient = resty.New()
	httpClient.SetTransport(otelhttp.NewTransport(http.DefaultTransport))
	httpClient.SetBaseURL(BaseURL())
	httpClient.SetTimeout(time.Duration(config.GetInt("api.timeout")) * time.Second)
	httpClient.SetHeader("User-Agent", userAgent)

	httpClient.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.Debug("HTTP Request", "method", req.Method, "url", req.URL)
		return nil
	})

	httpClient.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.Debug("HTTP Response", "status", resp.StatusCode(), "duration", resp.Time())
		return nil
	})
}

// GetClient returns the HTTP client
func GetClient() *resty.Client {
	if httpClient == nil {
		Init()
	}
	return httpClient
}

// BaseURL returns api.base_url, or the HTTP origin of the WebSocket endpoint
// when it is unset.
func BaseURL() string {
	if base := config.GetString("api.base_url"); base != "" {
		return base
	}

	scheme := "http"
	if config.GetBool("ws.use_tls") {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   config.GetString("ws.host") + ":" + strconv.Itoa(config.GetInt("ws.port")),
	}
	return u.String()
}

// Health fetches the server health report
func Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := get(ctx, "/health", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats fetches broadcast statistics from the server
func Stats(ctx context.Context) (*StatsResponse, error) {
	var result StatsResponse
	if err := get(ctx, "/api/ws/stats", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func get(ctx context.Context, path string, result interface{}) error {
	resp, err := GetClient().R().
		SetContext(ctx).
		SetResult(result).
		Get(path)
	if err != nil {
		return apperrors.CategorizeError(err)
	}
	if resp.IsError() {
		return apperrors.ServerError(resp.StatusCode()).
			WithSuggestion(fmt.Sprintf("GET %s returned %s", path, resp.Status()))
	}
	return nil
}
