// Package helloasso is a client for the HelloAsso checkout API.
package helloasso

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"slotpay/internal/metrics"
	"slotpay/internal/stories/payment"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
	defaultTokenMargin  = 5 * time.Minute
	maxErrorBody        = 2048
)

type Config struct {
	BaseURL          string
	OrganizationSlug string
	ClientID         string
	ClientSecret     string
	Timeout          time.Duration
	// MaxRetries is the total number of attempts for retried calls.
	MaxRetries   int
	RetryBackoff time.Duration
	// RateLimit is requests per second; zero disables the limiter.
	RateLimit   float64
	TokenMargin time.Duration
}

// Client talks to HelloAsso. It owns the access token cache and the pooled
// HTTP connections; call Close on shutdown.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	tokenMu sync.Mutex
	token   *accessToken
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.OrganizationSlug == "" {
		return nil, errors.New("helloasso: base url and organization slug are required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("helloasso: client credentials are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.TokenMargin <= 0 {
		cfg.TokenMargin = defaultTokenMargin
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("slotpay/helloasso"),
		now:     time.Now,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type request struct {
	op      string
	method  string
	path    string
	body    []byte
	retried bool
}

// call sends an authenticated API request. Retried calls are repeated on
// transport errors, 429, 5xx and 401 with exponential backoff.
func (c *Client) call(ctx context.Context, req request) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "helloasso."+req.op, trace.WithAttributes(
		attribute.String("http.method", req.method),
		attribute.String("helloasso.path", req.path),
	))
	defer span.End()

	attempt := func() ([]byte, error) {
		token, err := c.GetAccessToken(ctx)
		if err != nil {
			return nil, err
		}

		data, err := c.send(ctx, req.op, req.method, c.cfg.BaseURL+req.path, "application/json", req.body, token)
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return data, err
	}

	var (
		data []byte
		err  error
	)
	if req.retried {
		data, err = backoff.RetryNotifyWithData(func() ([]byte, error) {
			data, err := attempt()
			if err != nil && !retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return data, err
		}, c.backoff(ctx), func(err error, wait time.Duration) {
			c.logger.Warn("HelloAsso request failed, retrying", "op", req.op, "wait", wait, "error", err)
		})
	} else {
		data, err = attempt()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return data, nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.cfg.RetryBackoff << c.cfg.MaxRetries
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries-1)), ctx)
}

// send does a single HTTP round trip and maps non-2xx answers to *payment.GatewayError.
func (c *Client) send(ctx context.Context, op, method, url, contentType string, body []byte, token string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" && body != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "transport_error").Inc()
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "%s: %v", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "transport_error").Inc()
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "%s: read body: %v", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.GatewayRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &payment.GatewayError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}

	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	return data, nil
}

func retryable(err error) bool {
	var gwErr *payment.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable() || gwErr.StatusCode == http.StatusUnauthorized
	}
	return errors.Is(err, payment.ErrGatewayUnavailable)
}
