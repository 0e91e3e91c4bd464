package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
)

const (
	quotePath  = "/v1/quote"
	swapPath   = "/v1/swap"
	poolsPath  = "/v1/pools"
	bridgePath = "/v1/bridge"

	defaultHTTPTimeout = 10 * time.Second
	maxQuoteRetries    = 3
)

// RESTClient talks to the venue's HTTP API. Read-only endpoints retry
// transient failures; Execute is sent exactly once, and retrying a swap is
// a caller decision made as a fresh operation.
type RESTClient struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	clock   func() time.Time

	bridgeMu sync.Mutex
	bridge   asset.Symbol
}

// RESTOption configures the client.
type RESTOption func(*RESTClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(c *RESTClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithClock overrides the client clock, primarily for testing.
func WithClock(clock func() time.Time) RESTOption {
	return func(c *RESTClient) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewRESTClient constructs a venue client for the given base URL.
// requestsPerSecond throttles outbound calls; zero disables throttling.
func NewRESTClient(baseURL string, timeout time.Duration, requestsPerSecond float64, opts ...RESTOption) *RESTClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	client := new(http.Client)
	client.Timeout = timeout
	c := &RESTClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(limit, 1),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type quoteResponse struct {
	Route     []string `json:"route"`
	AmountIn  string   `json:"amountIn"`
	AmountOut string   `json:"amountOut"`
}

type swapRequest struct {
	Route        []string `json:"route"`
	AmountIn     string   `json:"amountIn"`
	MinAmountOut string   `json:"minAmountOut"`
	Recipient    string   `json:"recipient"`
	Deadline     int64    `json:"deadline"`
}

type swapResponse struct {
	AmountOut  string `json:"amountOut"`
	ExecutedAt int64  `json:"executedAt"`
	Error      string `json:"error,omitempty"`
}

type poolsResponse struct {
	Exists bool `json:"exists"`
}

type bridgeResponse struct {
	Asset string `json:"asset"`
}

// Quote estimates the output for amountIn along route.
func (c *RESTClient) Quote(ctx context.Context, route asset.Route, amountIn decimal.Decimal) (Quote, error) {
	if err := route.Validate(); err != nil {
		return Quote{}, err
	}
	query := url.Values{}
	query.Set("route", routeParam(route))
	query.Set("amount", amountIn.String())

	body, err := c.getWithRetry(ctx, quotePath+"?"+query.Encode())
	if err != nil {
		return Quote{}, errs.New("venue/quote", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("quote request failed"),
			errs.WithField("route", route.String()),
			errs.WithCause(err))
	}
	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Quote{}, errs.New("venue/quote", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("malformed quote response"),
			errs.WithCause(err))
	}
	estimate, err := decimal.NewFromString(resp.AmountOut)
	if err != nil {
		return Quote{}, errs.New("venue/quote", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("malformed quote amount"),
			errs.WithField("amount_out", resp.AmountOut),
			errs.WithCause(err))
	}
	return Quote{
		Route:    route,
		AmountIn: amountIn,
		Estimate: estimate,
		QuotedAt: c.clock().UTC(),
	}, nil
}

// Execute performs a slippage-bounded swap. The request is sent exactly once.
func (c *RESTClient) Execute(ctx context.Context, swap Swap) (Outcome, error) {
	if err := swap.Route.Validate(); err != nil {
		return Outcome{}, err
	}
	if !swap.Deadline.IsZero() && c.clock().After(swap.Deadline) {
		return Outcome{}, errs.New("venue/execute", errs.CodeExternal, errs.ReasonDeadlineExpired,
			errs.WithField("deadline", swap.Deadline.UTC().Format(time.RFC3339)))
	}

	payload, err := json.Marshal(swapRequest{
		Route:        routeStrings(swap.Route),
		AmountIn:     swap.AmountIn.String(),
		MinAmountOut: swap.MinAmountOut.String(),
		Recipient:    swap.Recipient,
		Deadline:     swap.Deadline.Unix(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("encode swap request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{}, fmt.Errorf("venue throttle: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+swapPath, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, fmt.Errorf("create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return Outcome{}, errs.New("venue/execute", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("swap request failed"),
			errs.WithCause(err))
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("read swap response: %w", err)
	}

	var resp swapResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return Outcome{}, errs.New("venue/execute", errs.CodeExternal, errs.ReasonUnknown,
				errs.WithMessage("malformed swap response"),
				errs.WithCause(err))
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Outcome{}, swapError(httpResp.StatusCode, resp.Error, swap)
	}

	amountOut, err := decimal.NewFromString(resp.AmountOut)
	if err != nil {
		return Outcome{}, errs.New("venue/execute", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("malformed swap amount"),
			errs.WithField("amount_out", resp.AmountOut),
			errs.WithCause(err))
	}
	if amountOut.LessThan(swap.MinAmountOut) {
		// The venue must not settle below the bound; treat a response that
		// claims otherwise as a slippage violation.
		return Outcome{}, errs.New("venue/execute", errs.CodeExternal, errs.ReasonSlippageBoundViolated,
			errs.WithField("amount_out", amountOut.String()),
			errs.WithField("min_amount_out", swap.MinAmountOut.String()))
	}
	executedAt := c.clock().UTC()
	if resp.ExecutedAt > 0 {
		executedAt = time.Unix(resp.ExecutedAt, 0).UTC()
	}
	return Outcome{AmountOut: amountOut, ExecutedAt: executedAt}, nil
}

// PoolExists reports whether the venue holds a liquidity pool for the pair.
func (c *RESTClient) PoolExists(ctx context.Context, a, b asset.Symbol) (bool, error) {
	query := url.Values{}
	query.Set("base", a.String())
	query.Set("quote", b.String())

	body, err := c.getWithRetry(ctx, poolsPath+"?"+query.Encode())
	if err != nil {
		return false, errs.New("venue/pools", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("pool query failed"),
			errs.WithCause(err))
	}
	var resp poolsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, errs.New("venue/pools", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("malformed pool response"),
			errs.WithCause(err))
	}
	return resp.Exists, nil
}

// BridgeAsset returns the venue's designated intermediate hop asset. The
// value is immutable per venue, so it is cached after the first fetch.
func (c *RESTClient) BridgeAsset(ctx context.Context) (asset.Symbol, error) {
	c.bridgeMu.Lock()
	defer c.bridgeMu.Unlock()
	if !c.bridge.IsZero() {
		return c.bridge, nil
	}

	body, err := c.getWithRetry(ctx, bridgePath)
	if err != nil {
		return "", errs.New("venue/bridge", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("bridge asset query failed"),
			errs.WithCause(err))
	}
	var resp bridgeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errs.New("venue/bridge", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("malformed bridge response"),
			errs.WithCause(err))
	}
	sym := asset.Normalize(resp.Asset)
	if sym.IsZero() {
		return "", errs.New("venue/bridge", errs.CodeExternal, errs.ReasonUnknown,
			errs.WithMessage("venue returned empty bridge asset"))
	}
	c.bridge = sym
	return sym, nil
}

func (c *RESTClient) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	operation := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("venue status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, backoff.Permanent(fmt.Errorf("venue status %d", resp.StatusCode))
		}
		return body, nil
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxQuoteRetries))
}

func swapError(status int, code string, swap Swap) error {
	fields := []errs.Option{
		errs.WithField("status", fmt.Sprintf("%d", status)),
		errs.WithField("route", swap.Route.String()),
		errs.WithField("min_amount_out", swap.MinAmountOut.String()),
	}
	switch code {
	case "slippage_bound_violated":
		return errs.New("venue/execute", errs.CodeExternal, errs.ReasonSlippageBoundViolated, fields...)
	case "deadline_expired":
		return errs.New("venue/execute", errs.CodeExternal, errs.ReasonDeadlineExpired, fields...)
	default:
		fields = append(fields, errs.WithMessage("swap rejected by venue"), errs.WithField("venue_error", code))
		return errs.New("venue/execute", errs.CodeExternal, errs.ReasonUnknown, fields...)
	}
}

func routeParam(route asset.Route) string {
	return strings.Join(routeStrings(route), ",")
}

func routeStrings(route asset.Route) []string {
	out := make([]string, 0, len(route))
	for _, hop := range route {
		out = append(out, hop.String())
	}
	return out
}
