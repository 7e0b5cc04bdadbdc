// Package remote holds the HTTP clients for the services the booking
// orchestrator depends on. Every call runs under a timeout and a circuit
// breaker; transport failures surface as apperr.KindUnavailable while error
// bodies from the far side are rebuilt into their original kind.
package remote

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

	"github.com/sony/gobreaker"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type Options struct {
	Timeout            time.Duration
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
	HTTPClient         *http.Client
	Metrics            *metrics.RemoteMetrics
	Logger             *logging.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerOpenTimeout <= 0 {
		o.BreakerOpenTimeout = 30 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Client is a JSON client for one collaborator service.
type Client struct {
	service string
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.RemoteMetrics
	logger  *logging.Logger
}

func NewClient(service, baseURL string, opts Options) *Client {
	opts.defaults()
	c := &Client{
		service: service,
		baseURL: baseURL,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("remote_service", service),
	}
	failures := uint32(opts.BreakerFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			c.metrics.SetBreakerState(name, int(to))
		},
	})
	return c
}

// countsAsSuccess keeps business rejections from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindConflict, apperr.KindInvalidState:
		return true
	}
	return false
}

func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = apperr.Unavailable(c.service+"_unavailable", c.service+" service circuit open", err)
	}

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	c.metrics.ObserveCall(c.service, operation, outcome, time.Since(start))
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.service, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Unavailable(c.service+"_unreachable", c.service+" service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Unavailable(c.service+"_bad_response", "malformed "+c.service+" response", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var b apperr.Body
	if err := json.Unmarshal(raw, &b); err != nil || b.Error == "" {
		b = apperr.Body{
			Error:   fmt.Sprintf("%s_http_%d", c.service, resp.StatusCode),
			Details: strings.TrimSpace(string(raw)),
		}
	}
	if b.Kind == "" {
		b.Kind = kindForStatus(resp.StatusCode)
	}
	return apperr.FromBody(b)
}

func kindForStatus(code int) apperr.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.KindValidation
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	default:
		return apperr.KindUnavailable
	}
}
