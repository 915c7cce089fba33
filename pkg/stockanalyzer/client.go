// Package stockanalyzer is a Go client for the backtest-server HTTP API.
package stockanalyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the backtest-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// ListStrategies returns the names of the registered strategies.
func (c *Client) ListStrategies(ctx context.Context) ([]string, error) {
	var resp StrategiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// StartBacktest submits req and returns the new run's status.
func (c *Client) StartBacktest(ctx context.Context, req BacktestRequest) (*RunStatus, error) {
	var st RunStatus
	if err := c.do(ctx, http.MethodPost, "/api/backtests", req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ListRuns(ctx context.Context) ([]RunStatus, error) {
	var resp RunsResponse
	if err := c.do(ctx, http.MethodGet, "/api/backtests", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*RunStatus, error) {
	var st RunStatus
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetResult fetches the result of a finished run. The server answers 409
// while the run is still going.
func (c *Client) GetResult(ctx context.Context, id string) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(id)+"/result", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelRun requests cancellation and returns the run's status.
func (c *Client) CancelRun(ctx context.Context, id string) (*RunStatus, error) {
	var st RunStatus
	if err := c.do(ctx, http.MethodDelete, "/api/backtests/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PurgeRun forgets a finished run on the server, including its stored
// result.
func (c *Client) PurgeRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/backtests/"+url.PathEscape(id)+"?purge=true", nil, nil)
}

// ListSymbols returns the symbols with stored bars in market ("us" when
// empty).
func (c *Client) ListSymbols(ctx context.Context, market string) ([]string, error) {
	path := "/api/symbols"
	if market != "" {
		path += "?market=" + url.QueryEscape(market)
	}
	var resp SymbolsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// WaitRun polls until the run reaches a terminal state or ctx ends.
func (c *Client) WaitRun(ctx context.Context, id string, every time.Duration) (*RunStatus, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
