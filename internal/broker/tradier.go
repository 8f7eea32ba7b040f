// Package broker wraps the Tradier brokerage REST API behind the Broker
// interface the decision loop consumes. All request methods take a
// context and return explicit errors; non-2xx responses surface as
// *APIError so callers can distinguish permanent rejections from
// transient failures.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	productionBaseURL = "https://api.tradier.com/v1"
	sandboxBaseURL    = "https://sandbox.tradier.com/v1"

	defaultHTTPTimeout = 30 * time.Second

	marketStateOpen       = "open"
	marketStateClosed     = "closed"
	marketStatePreMarket  = "premarket"
	marketStatePostMarket = "postmarket"
)

// APIError represents a non-2xx response from the Tradier API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradier api error: status %d: %s", e.Status, e.Body)
}

// singleOrArray handles Tradier's habit of returning a bare object when
// a collection holds exactly one element and an array otherwise.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `"null"` || trimmed == "" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*s = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = []T{one}
	return nil
}

// OptionGreeks is the greeks block attached to chain entries when
// requested. Tradier serves these from ORATS; they can be absent or
// zeroed outside market hours.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	MidIV float64 `json:"mid_iv"`
}

// Option is a single option chain entry.
type Option struct {
	Symbol         string        `json:"symbol"`
	Strike         float64       `json:"strike"`
	OptionType     string        `json:"option_type"`
	Bid            float64       `json:"bid"`
	Ask            float64       `json:"ask"`
	Last           float64       `json:"last"`
	ExpirationDate string        `json:"expiration_date"`
	ContractSize   int           `json:"contract_size"`
	Greeks         *OptionGreeks `json:"greeks,omitempty"`
}

// QuoteItem is an underlying or option quote.
type QuoteItem struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Open      float64 `json:"open"`
	PrevClose float64 `json:"prevclose"`
}

// PositionItem is one holding reported by the account positions endpoint.
type PositionItem struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	CostBasis    float64 `json:"cost_basis"`
	DateAcquired string  `json:"date_acquired"`
}

// MarketClockResponse reports the current session state.
type MarketClockResponse struct {
	Clock struct {
		Date        string `json:"date"`
		State       string `json:"state"`
		NextChange  string `json:"next_change"`
		Description string `json:"description"`
	} `json:"clock"`
}

// MarketDay is one calendar day's schedule.
type MarketDay struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Open   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"open"`
}

// MarketCalendarResponse is the monthly trading calendar.
type MarketCalendarResponse struct {
	Calendar struct {
		Month int `json:"month"`
		Year  int `json:"year"`
		Days  struct {
			Day []MarketDay `json:"day"`
		} `json:"days"`
	} `json:"calendar"`
}

// OrderResult carries the fields shared by live placements, previews,
// and status polls. Preview responses populate OrderCost and
// MarginChange; live responses populate ID and fill fields.
type OrderResult struct {
	ID           int     `json:"id"`
	Status       string  `json:"status"`
	Price        float64 `json:"price"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	ExecQuantity float64 `json:"exec_quantity"`
	OrderCost    float64 `json:"order_cost"`
	MarginChange float64 `json:"margin_change"`
}

// OrderResponse wraps an order result with any request-level errors.
type OrderResponse struct {
	Order  OrderResult `json:"order"`
	Errors *struct {
		Error singleOrArray[string] `json:"error"`
	} `json:"errors,omitempty"`
}

// ErrorStrings flattens request-level errors for logging.
func (r *OrderResponse) ErrorStrings() []string {
	if r.Errors == nil {
		return nil
	}
	return []string(r.Errors.Error)
}

type quoteResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

type optionChainResponse struct {
	Options struct {
		Option singleOrArray[Option] `json:"option"`
	} `json:"options"`
}

type expirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

type positionsResponse struct {
	Positions struct {
		Position singleOrArray[PositionItem] `json:"position"`
	} `json:"positions"`
}

// TradierAPI is the low-level HTTP client. It holds no account state
// beyond credentials and is safe for concurrent use.
type TradierAPI struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
}

// NewTradierAPI builds a client against the production or sandbox
// environment.
func NewTradierAPI(apiKey, accountID string, sandbox bool) *TradierAPI {
	baseURL := productionBaseURL
	if sandbox {
		baseURL = sandboxBaseURL
	}
	return &TradierAPI{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	t.client = c
	return t
}

// withBaseURL points the client at a test server.
func (t *TradierAPI) withBaseURL(u string) *TradierAPI {
	t.baseURL = u
	return t
}

// GetQuote retrieves a single quote for an underlying or option symbol.
func (t *TradierAPI) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response quoteResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Quotes.Quote) == 0 {
		return nil, fmt.Errorf("no quote returned for %s", symbol)
	}
	return &response.Quotes.Quote[0], nil
}

// GetOptionChain retrieves the chain for a symbol and expiration date
// (YYYY-MM-DD), optionally with greeks.
func (t *TradierAPI) GetOptionChain(ctx context.Context, symbol, expiration string, greeks bool) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", fmt.Sprintf("%t", greeks))
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response optionChainResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return []Option(response.Options.Option), nil
}

// GetExpirations lists available expiration dates for a symbol.
func (t *TradierAPI) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response expirationsResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.Expirations.Date, nil
}

// GetPositions retrieves the account's current holdings.
func (t *TradierAPI) GetPositions(ctx context.Context) ([]PositionItem, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/positions", t.baseURL, t.accountID)

	var response positionsResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return []PositionItem(response.Positions.Position), nil
}

// GetMarketClock retrieves the current market session state.
func (t *TradierAPI) GetMarketClock(ctx context.Context, delayed bool) (*MarketClockResponse, error) {
	endpoint := fmt.Sprintf("%s/markets/clock?delayed=%t", t.baseURL, delayed)

	var response MarketClockResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetMarketCalendar retrieves the trading calendar for a month. Zero
// month/year default to the current month on the server side.
func (t *TradierAPI) GetMarketCalendar(ctx context.Context, month, year int) (*MarketCalendarResponse, error) {
	endpoint := t.baseURL + "/markets/calendar"
	params := url.Values{}
	if month > 0 {
		params.Add("month", fmt.Sprintf("%02d", month))
	}
	if year > 0 {
		params.Add("year", fmt.Sprintf("%04d", year))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var response MarketCalendarResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SpreadOrderRequest describes a two-leg vertical put order. Close
// flips both legs and submits a debit order instead of a credit.
type SpreadOrderRequest struct {
	Underlying  string
	ShortSymbol string
	LongSymbol  string
	Quantity    int
	LimitPrice  float64
	Close       bool
	Preview     bool
	Duration    string
	Tag         string
}

// PlaceSpreadOrder submits a multileg limit order for a put credit
// spread. With Preview set, Tradier validates the order and returns
// cost and margin impact without routing it.
func (t *TradierAPI) PlaceSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*OrderResponse, error) {
	duration, err := normalizeDuration(req.Duration)
	if err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid spread quantity: %d (must be > 0)", req.Quantity)
	}
	if req.LimitPrice <= 0 {
		return nil, fmt.Errorf("invalid spread limit price: %.2f (must be > 0)", req.LimitPrice)
	}

	orderType, shortSide, longSide := "credit", "sell_to_open", "buy_to_open"
	if req.Close {
		orderType, shortSide, longSide = "debit", "buy_to_close", "sell_to_close"
	}

	params := url.Values{}
	params.Add("class", "multileg")
	params.Add("symbol", req.Underlying)
	params.Add("type", orderType)
	params.Add("duration", duration)
	params.Add("price", fmt.Sprintf("%.2f", req.LimitPrice))
	if req.Preview {
		params.Add("preview", "true")
	}
	if req.Tag != "" {
		params.Add("tag", req.Tag)
	}
	params.Add("option_symbol[0]", req.ShortSymbol)
	params.Add("side[0]", shortSide)
	params.Add("quantity[0]", fmt.Sprintf("%d", req.Quantity))
	params.Add("option_symbol[1]", req.LongSymbol)
	params.Add("side[1]", longSide)
	params.Add("quantity[1]", fmt.Sprintf("%d", req.Quantity))

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)
	var response OrderResponse
	if err := t.makeRequest(ctx, http.MethodPost, endpoint, params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// OptionOrderRequest describes a single-leg option limit order, used
// for the long-dated hedge.
type OptionOrderRequest struct {
	Underlying   string
	OptionSymbol string
	Side         string // buy_to_open or sell_to_close
	Quantity     int
	LimitPrice   float64
	Preview      bool
	Duration     string
	Tag          string
}

// PlaceOptionOrder submits a single-leg option limit order.
func (t *TradierAPI) PlaceOptionOrder(ctx context.Context, req OptionOrderRequest) (*OrderResponse, error) {
	duration, err := normalizeDuration(req.Duration)
	if err != nil {
		return nil, err
	}
	switch req.Side {
	case "buy_to_open", "sell_to_close":
	default:
		return nil, fmt.Errorf("invalid option order side %q", req.Side)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid option quantity: %d (must be > 0)", req.Quantity)
	}
	if req.LimitPrice <= 0 {
		return nil, fmt.Errorf("invalid option limit price: %.2f (must be > 0)", req.LimitPrice)
	}

	params := url.Values{}
	params.Add("class", "option")
	params.Add("symbol", req.Underlying)
	params.Add("option_symbol", req.OptionSymbol)
	params.Add("side", req.Side)
	params.Add("quantity", fmt.Sprintf("%d", req.Quantity))
	params.Add("type", "limit")
	params.Add("duration", duration)
	params.Add("price", fmt.Sprintf("%.2f", req.LimitPrice))
	if req.Preview {
		params.Add("preview", "true")
	}
	if req.Tag != "" {
		params.Add("tag", req.Tag)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)
	var response OrderResponse
	if err := t.makeRequest(ctx, http.MethodPost, endpoint, params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetOrderStatus polls a previously placed order.
func (t *TradierAPI) GetOrderStatus(ctx context.Context, orderID int) (*OrderResponse, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%d", t.baseURL, t.accountID, orderID)
	var response OrderResponse
	if err := t.makeRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// CancelOrder cancels a pending order.
func (t *TradierAPI) CancelOrder(ctx context.Context, orderID int) (*OrderResponse, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%d", t.baseURL, t.accountID, orderID)
	var response OrderResponse
	if err := t.makeRequest(ctx, http.MethodDelete, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func normalizeDuration(duration string) (string, error) {
	if duration == "" {
		return "day", nil
	}
	normalized := strings.ToLower(strings.TrimSpace(duration))
	switch normalized {
	case "good-til-cancelled", "goodtilcancelled", "gtc":
		return "gtc", nil
	case "day", "pre", "post":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid duration %q: must be one of 'day', 'gtc', 'pre', or 'post'", duration)
	}
}

func (t *TradierAPI) makeRequest(ctx context.Context, method, endpoint string, params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "dunder-hedger/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusNoContent:
		return nil
	default:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
