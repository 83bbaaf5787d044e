package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// completionTimeout bounds one forwarded inference request
	completionTimeout = 120 * time.Second

	// modelsTimeout bounds the models-list proxy call
	modelsTimeout = 10 * time.Second
)

// Client talks to the managed worker's OpenAI-compatible HTTP API
type Client struct {
	baseURL           string
	completionsClient *http.Client
	modelsClient      *http.Client
	logger            zerolog.Logger
}

// NewClient creates a worker client for the given base URL. A trailing
// slash is stripped so endpoint paths concatenate cleanly.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		completionsClient: &http.Client{Timeout: completionTimeout},
		modelsClient:      &http.Client{Timeout: modelsTimeout},
		logger:            log.WithComponent("upstream"),
	}
}

// BaseURL returns the worker base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ChatCompletions forwards one request body to the worker and returns the
// worker's status and decoded JSON body. Transport and encode failures are
// folded into a synthesized 500 result so the caller always gets exactly
// one response per request.
func (c *Client) ChatCompletions(ctx context.Context, body map[string]any) types.UpstreamResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UpstreamRequestDuration)

	payload, err := json.Marshal(body)
	if err != nil {
		return errorResult(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return errorResult(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.completionsClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("Upstream request failed")
		return errorResult(err)
	}
	defer resp.Body.Close()

	// Only a JSON content type is decoded; anything else passes through
	// as the worker's status with an empty body object
	result := types.UpstreamResult{Status: resp.StatusCode, Body: map[string]any{}}
	if isJSON(resp.Header.Get("Content-Type")) {
		if err := json.NewDecoder(resp.Body).Decode(&result.Body); err != nil {
			c.logger.Error().Err(err).Int("status", resp.StatusCode).Msg("Failed to decode upstream body")
			return errorResult(err)
		}
	}
	return result
}

// Models proxies the worker's model listing, returning the raw body so
// the gateway can pass it through unchanged.
func (c *Client) Models(ctx context.Context) (status int, contentType string, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return 0, "", nil, err
	}

	resp, err := c.modelsClient.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), body, nil
}

func errorResult(err error) types.UpstreamResult {
	return types.UpstreamResult{
		Status: http.StatusInternalServerError,
		Body:   map[string]any{"error": err.Error()},
	}
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}
