package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// QueryRange runs a PromQL range query and returns the raw API response.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (json.RawMessage, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("tsdb query is required")
	}
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end must be after start")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", formatUnixSeconds(start))
	params.Set("end", formatUnixSeconds(end))
	params.Set("step", formatStepSeconds(step))

	return c.doQuery(ctx, "/api/v1/query_range", params)
}

// QueryInstant runs a PromQL instant query and returns the raw API response.
func (c *Client) QueryInstant(ctx context.Context, query string) (json.RawMessage, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("tsdb query is required")
	}

	params := url.Values{}
	params.Set("query", query)

	return c.doQuery(ctx, "/api/v1/query", params)
}

func (c *Client) doQuery(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.url + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer resp.Body.Close()

	const maxResponseSize = 10 << 20 // 10 MB
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query failed: HTTP %d", resp.StatusCode)
	}

	return json.RawMessage(body), nil
}

func formatUnixSeconds(t time.Time) string {
	seconds := float64(t.UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

func formatStepSeconds(step time.Duration) string {
	return strconv.FormatFloat(step.Seconds(), 'f', -1, 64)
}

type instantResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]any            `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// InstantValue runs an instant query expected to return a single sample and
// decodes it. An empty result is ErrNoData.
func (c *Client) InstantValue(ctx context.Context, query string) (float64, time.Time, error) {
	raw, err := c.QueryInstant(ctx, query)
	if err != nil {
		return 0, time.Time{}, err
	}

	var resp instantResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if resp.Status != "success" {
		return 0, time.Time{}, fmt.Errorf("%w: status %q: %s", ErrBadResponse, resp.Status, resp.Error)
	}
	if len(resp.Data.Result) == 0 {
		return 0, time.Time{}, ErrNoData
	}

	sample := resp.Data.Result[0].Value
	ts, ok := sample[0].(float64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: sample timestamp %v", ErrBadResponse, sample[0])
	}
	str, ok := sample[1].(string)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: sample value %v", ErrBadResponse, sample[1])
	}
	value, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	sec, frac := math.Modf(ts)
	return value, time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}
