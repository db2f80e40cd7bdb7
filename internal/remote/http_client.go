package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/observability"
	"discover-engine/internal/wire"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

var tracer = otel.Tracer("discover-engine/internal/remote")

// HTTPClient implements the remote ports using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	userID      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// Compile-time interface checks.
var (
	_ CandidateQuerier  = (*HTTPClient)(nil)
	_ SwipeMutator      = (*HTTPClient)(nil)
	_ EngagementCounter = (*HTTPClient)(nil)
	_ ActivityRecorder  = (*HTTPClient)(nil)
)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithUser sets the user ID sent with every request.
func WithUser(userID string) ClientOption {
	return func(c *HTTPClient) {
		c.userID = userID
	}
}

// NewHTTPClient creates a new discover RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params, result interface{}) error {
	return c.do(ctx, method, params, result, c.maxRetries)
}

// do performs a JSON-RPC call with at most maxRetries retries.
func (c *HTTPClient) do(ctx context.Context, method string, params, result interface{}, maxRetries int) (err error) {
	ctx, span := tracer.Start(ctx, "rpc."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)))
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	reqBody, err := wire.NewRequest(c.requestID.Add(1), method, params)
	if err != nil {
		return err
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			span.SetAttributes(attribute.Int("rpc.attempt", attempt))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.userID != "" {
			req.Header.Set(wire.HeaderUser, c.userID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp wire.Response
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	if maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// QueryCandidates fetches one page of candidates.
func (c *HTTPClient) QueryCandidates(ctx context.Context, fragment filter.QueryFragment, cursor string, limit int) (*domain.Page, error) {
	params := wire.QueryCandidatesParams{
		Fragment: fragment,
		Cursor:   cursor,
		Limit:    limit,
	}

	var result wire.QueryCandidatesResult
	if err := c.call(ctx, wire.MethodQueryCandidates, params, &result); err != nil {
		return nil, err
	}

	page := &domain.Page{
		Candidates: make([]domain.Candidate, len(result.Candidates)),
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
	for i, cand := range result.Candidates {
		page.Candidates[i] = cand.ToDomain()
	}
	return page, nil
}

// SubmitSwipe persists a swipe. Safe to retry: the swipe ID is the idempotency key.
func (c *HTTPClient) SubmitSwipe(ctx context.Context, req domain.SwipeRequest) error {
	params := wire.SubmitSwipeParams{
		SwipeID:     req.SwipeID,
		CandidateID: req.CandidateID,
		Decision:    req.Decision.String(),
		CreatedAt:   req.CreatedAt,
	}
	var result wire.AckResult
	return c.call(ctx, wire.MethodSubmitSwipe, params, &result)
}

// UndoSwipe removes a previously submitted swipe.
func (c *HTTPClient) UndoSwipe(ctx context.Context, swipeID, candidateID string) error {
	params := wire.UndoSwipeParams{SwipeID: swipeID, CandidateID: candidateID}
	var result wire.AckResult
	return c.call(ctx, wire.MethodUndoSwipe, params, &result)
}

// GetReceivedEngagementCount returns the number of likes and superlikes userID received.
func (c *HTTPClient) GetReceivedEngagementCount(ctx context.Context, userID string) (int, error) {
	var result wire.CountResult
	if err := c.call(ctx, wire.MethodGetReceivedEngagementCount, wire.CountParams{UserID: userID}, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// RecordActivity records a side effect. Sent once, never retried.
func (c *HTTPClient) RecordActivity(ctx context.Context, activity domain.ActivityType, metadata map[string]string) error {
	params := wire.RecordActivityParams{
		Activity: string(activity),
		Metadata: metadata,
	}
	var result wire.AckResult
	return c.do(ctx, wire.MethodRecordActivity, params, &result, 0)
}
