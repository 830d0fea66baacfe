package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/orchestrator"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

const (
	defaultServerURL = "http://127.0.0.1:8090"
	defaultTimeout   = 10 * time.Second
	apiPrefix        = "/api/v1"
	maxErrorBody     = 4096
)

// ErrNoToken is returned when a protected call is made without a token.
var ErrNoToken = errors.New("cli: no access token (run esdctl login or set ESDCTL_TOKEN)")

// APIError is a non-2xx response from the core API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
}

// Client talks to the esdcore REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient returns a client for baseURL. An empty URL selects the local
// default; a non-positive timeout selects the default timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultServerURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LoginResult is the token issued by POST /auth/login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

// PlanResult is the compiled plan of one sequence.
type PlanResult struct {
	Plan       sequence.Plan `json:"plan"`
	StageCount int           `json:"stage_count"`
	StepCount  int           `json:"step_count"`
}

// StartRequest initiates an execution.
type StartRequest struct {
	SequenceID       string `json:"sequence_id"`
	Reason           string `json:"reason,omitempty"`
	IsEmergency      bool   `json:"is_emergency"`
	BypassInterlocks bool   `json:"bypass_interlocks"`
}

// ExecutionQuery filters GET /executions.
type ExecutionQuery struct {
	Active     bool
	Statuses   []string
	SequenceID string
	Limit      int
}

// LogQuery filters GET /executions/{id}/logs.
type LogQuery struct {
	Level    string
	StepID   string
	AfterSeq int64
	Limit    int
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sequences lists the catalog's sequences.
func (c *Client) Sequences(ctx context.Context) ([]sequence.Sequence, error) {
	var out struct {
		Sequences []sequence.Sequence `json:"sequences"`
	}
	if err := c.do(ctx, http.MethodGet, "/sequences", nil, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Sequences, nil
}

// Plan returns the compiled stage plan of a sequence.
func (c *Client) Plan(ctx context.Context, sequenceID string) (*PlanResult, error) {
	var out PlanResult
	if err := c.do(ctx, http.MethodGet, "/sequences/"+url.PathEscape(sequenceID)+"/plan", nil, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start initiates an execution.
func (c *Client) Start(ctx context.Context, req StartRequest) (*orchestrator.Execution, error) {
	var out orchestrator.Execution
	if err := c.do(ctx, http.MethodPost, "/executions", nil, req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve approves a pending execution.
func (c *Client) Approve(ctx context.Context, id string) (*orchestrator.Execution, error) {
	return c.transition(ctx, id, "approve", "")
}

// Reject rejects a pending execution.
func (c *Client) Reject(ctx context.Context, id, reason string) (*orchestrator.Execution, error) {
	return c.transition(ctx, id, "reject", reason)
}

// Continue resumes a paused execution.
func (c *Client) Continue(ctx context.Context, id string) (*orchestrator.Execution, error) {
	return c.transition(ctx, id, "continue", "")
}

// Abort stops a running or paused execution.
func (c *Client) Abort(ctx context.Context, id, reason string) (*orchestrator.Execution, error) {
	return c.transition(ctx, id, "abort", reason)
}

func (c *Client) transition(ctx context.Context, id, action, reason string) (*orchestrator.Execution, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var out orchestrator.Execution
	if err := c.do(ctx, http.MethodPost, "/executions/"+url.PathEscape(id)+"/"+action, nil, body, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execution returns one execution.
func (c *Client) Execution(ctx context.Context, id string) (*orchestrator.Execution, error) {
	var out orchestrator.Execution
	if err := c.do(ctx, http.MethodGet, "/executions/"+url.PathEscape(id), nil, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Executions lists executions, newest first.
func (c *Client) Executions(ctx context.Context, q ExecutionQuery) ([]orchestrator.Execution, error) {
	params := url.Values{}
	if q.Active {
		params.Set("active", "true")
	}
	if len(q.Statuses) > 0 {
		params.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.SequenceID != "" {
		params.Set("sequence_id", q.SequenceID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var out struct {
		Executions []orchestrator.Execution `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, "/executions", params, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// Logs returns an execution's log entries in sequence order.
func (c *Client) Logs(ctx context.Context, id string, q LogQuery) ([]audit.Entry, error) {
	params := url.Values{}
	if q.Level != "" {
		params.Set("level", q.Level)
	}
	if q.StepID != "" {
		params.Set("step_id", q.StepID)
	}
	if q.AfterSeq > 0 {
		params.Set("after_seq", strconv.FormatInt(q.AfterSeq, 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var out struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/executions/"+url.PathEscape(id)+"/logs", params, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, authed bool) error {
	if authed && c.token == "" {
		return ErrNoToken
	}

	target := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}
