package broker

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Broker is the brokerage surface the automation consumes. TradierAPI
// implements it directly; CircuitBreakerBroker wraps any implementation
// with failure isolation.
type Broker interface {
	GetQuote(ctx context.Context, symbol string) (*QuoteItem, error)
	GetOptionChain(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error)
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetPositions(ctx context.Context) ([]PositionItem, error)
	GetMarketClock(ctx context.Context, delayed bool) (*MarketClockResponse, error)
	GetMarketCalendar(ctx context.Context, month, year int) (*MarketCalendarResponse, error)
	PlaceSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*OrderResponse, error)
	PlaceOptionOrder(ctx context.Context, req OptionOrderRequest) (*OrderResponse, error)
	GetOrderStatus(ctx context.Context, orderID int) (*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID int) (*OrderResponse, error)
}

var _ Broker = (*TradierAPI)(nil)
var _ Broker = (*CircuitBreakerBroker)(nil)

// isPermanentAPIError reports whether an error is a client-side API
// rejection that retrying cannot fix. Rate limits (429) and request
// timeouts (408) stay retryable.
func isPermanentAPIError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == http.StatusTooManyRequests || apiErr.Status == http.StatusRequestTimeout {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

// CircuitBreakerBroker wraps a Broker so a run of transport failures
// stops hammering the API until it recovers. Permanent 4xx rejections
// pass through without counting as breaker failures.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// NewCircuitBreakerBroker wraps a broker with default settings: trip
// after 5 consecutive failures, probe again after 60 seconds.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 5,
	})
}

// NewCircuitBreakerBrokerWithSettings wraps a broker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanentAPIError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, broker Broker, fn func(Broker) (T, error)) (T, error) {
	result, err := breaker.Execute(func() (interface{}, error) {
		return fn(broker)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, errors.New("circuit breaker returned unexpected result type")
	}
	return typed, nil
}

func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*QuoteItem, error) {
		return b.GetQuote(ctx, symbol)
	})
}

func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Option, error) {
		return b.GetOptionChain(ctx, symbol, expiration, greeks)
	})
}

func (c *CircuitBreakerBroker) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) {
		return b.GetExpirations(ctx, symbol)
	})
}

func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositions(ctx)
	})
}

func (c *CircuitBreakerBroker) GetMarketClock(ctx context.Context, delayed bool) (*MarketClockResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarketClockResponse, error) {
		return b.GetMarketClock(ctx, delayed)
	})
}

func (c *CircuitBreakerBroker) GetMarketCalendar(ctx context.Context, month, year int) (*MarketCalendarResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarketCalendarResponse, error) {
		return b.GetMarketCalendar(ctx, month, year)
	})
}

func (c *CircuitBreakerBroker) PlaceSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceSpreadOrder(ctx, req)
	})
}

func (c *CircuitBreakerBroker) PlaceOptionOrder(ctx context.Context, req OptionOrderRequest) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceOptionOrder(ctx, req)
	})
}

func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID int) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}

func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID int) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.CancelOrder(ctx, orderID)
	})
}
