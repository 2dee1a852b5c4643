package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxResponseBody = 1 << 20 // 1MB

type Config struct {
	BaseURL            string
	Timeout            time.Duration
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerFailures    uint32
}

// Client talks to the storefront REST backend. Every call goes through one
// circuit breaker; 5xx and 429 answers count as breaker failures.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *zap.Logger
}

type response struct {
	status int
	body   []byte
}

type request struct {
	method         string
	path           string
	userID         string
	idempotencyKey string
	body           any
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	logger = logger.With(zap.String("component", "backend"))

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "storefront-backend",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		logger:  logger,
	}
}

// do sends req and decodes a 2xx JSON answer into out (when non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return fmt.Errorf("marshal %s %s: %w", req.method, req.path, err)
		}
	}

	// cancellation by the caller is not a backend failure
	var canceled error
	res, err := c.breaker.Execute(func() (*response, error) {
		res, err := c.roundTrip(ctx, req, payload)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				canceled = err
				return nil, nil
			}
			return nil, err
		}
		if res.status >= http.StatusInternalServerError || res.status == http.StatusTooManyRequests {
			return res, decodeError(res)
		}
		return res, nil
	})
	if canceled != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, canceled)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	if res.status >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: %w", req.method, req.path, decodeError(res))
	}
	if out == nil || len(bytes.TrimSpace(res.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req request, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.userID != "" {
		httpReq.Header.Set("X-User-ID", req.userID)
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idempotencyKey)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func decodeError(res *response) *Error {
	e := &Error{StatusCode: res.status, Message: http.StatusText(res.status)}
	var body errorBody
	if json.Unmarshal(res.body, &body) == nil {
		e.Code = body.Code
		switch {
		case body.Error != "":
			e.Message = body.Error
		case body.Message != "":
			e.Message = body.Message
		}
	}
	return e
}
