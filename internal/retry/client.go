// Package retry wraps order submission with bounded, jittered backoff.
// Only transient transport and rate-limit failures are retried; broker
// rejections return immediately so a bad order is never hammered.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/jhalpert/dunder_hedger/internal/broker"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

func NewClient(b broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Client{broker: b, logger: logger, config: cfg}
}

// PlaceSpreadOrderWithRetry submits a spread order, retrying transient
// failures with backoff. The request's Tag doubles as an idempotency
// key on the broker side across attempts.
func (c *Client) PlaceSpreadOrderWithRetry(ctx context.Context, req broker.SpreadOrderRequest) (*broker.OrderResponse, error) {
	return c.withRetry(ctx, fmt.Sprintf("spread order %s", req.Tag), func(attemptCtx context.Context) (*broker.OrderResponse, error) {
		return c.broker.PlaceSpreadOrder(attemptCtx, req)
	})
}

// PlaceOptionOrderWithRetry submits a single-leg order with the same
// retry discipline.
func (c *Client) PlaceOptionOrderWithRetry(ctx context.Context, req broker.OptionOrderRequest) (*broker.OrderResponse, error) {
	return c.withRetry(ctx, fmt.Sprintf("option order %s", req.Tag), func(attemptCtx context.Context) (*broker.OrderResponse, error) {
		return c.broker.PlaceOptionOrder(attemptCtx, req)
	})
}

func (c *Client) withRetry(ctx context.Context, label string, place func(context.Context) (*broker.OrderResponse, error)) (*broker.OrderResponse, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return nil, fmt.Errorf("%s timed out after %v: %w", label, c.config.Timeout, err)
		}

		c.logger.Printf("placing %s, attempt %d/%d", label, attempt+1, c.config.MaxRetries+1)

		resp, err := place(opCtx)
		if err == nil {
			c.logger.Printf("%s placed on attempt %d: order %d", label, attempt+1, resp.Order.ID)
			return resp, nil
		}

		lastErr = err
		c.logger.Printf("%s attempt %d failed: %v", label, attempt+1, err)

		if !isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-opCtx.Done():
			return nil, fmt.Errorf("%s timed out during backoff: %w", label, opCtx.Err())
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", label, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
