package geckoterminal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"athsync/internal/model"
)

// DefaultBaseURL is the public v2 API root.
const DefaultBaseURL = "https://api.geckoterminal.com/api/v2"

type RESTClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration, userAgent string) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetPool fetches a single pool by network and address.
func (c *RESTClient) GetPool(ctx context.Context, network, pool string) (*Pool, error) {
	endpoint := fmt.Sprintf("%s/networks/%s/pools/%s", c.baseURL, url.PathEscape(network), url.PathEscape(pool))

	var out Pool
	if err := c.getData(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTokenPools fetches the top pools that trade the given token.
func (c *RESTClient) GetTokenPools(ctx context.Context, network, token string) ([]Pool, error) {
	endpoint := fmt.Sprintf("%s/networks/%s/tokens/%s/pools?page=1", c.baseURL, url.PathEscape(network), url.PathEscape(token))

	var out []Pool
	if err := c.getData(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOHLCV fetches up to limit candles ending strictly before `before`.
// token selects the side of the pair the prices are quoted for ("base",
// "quote" or a token address); empty means the API default.
func (c *RESTClient) GetOHLCV(ctx context.Context, network, pool string, timeframe Timeframe,
	before time.Time, limit int, token string) ([]model.Candle, error) {
	if !timeframe.IsValid() {
		return nil, fmt.Errorf("invalid timeframe: %s", timeframe)
	}
	if limit <= 0 || limit > MaxOHLCVLimit {
		limit = MaxOHLCVLimit
	}

	q := url.Values{}
	q.Set("aggregate", "1")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("currency", "usd")
	if !before.IsZero() {
		q.Set("before_timestamp", strconv.FormatInt(before.Unix(), 10))
	}
	if token != "" {
		q.Set("token", token)
	}

	endpoint := fmt.Sprintf("%s/networks/%s/pools/%s/ohlcv/%s?%s",
		c.baseURL, url.PathEscape(network), url.PathEscape(pool), timeframe, q.Encode())

	var result OHLCVResponse
	if err := c.getData(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return ParseOHLCVList(result.Attributes.OHLCVList), nil
}

// getData performs a GET and decodes the envelope's data member into out.
func (c *RESTClient) getData(ctx context.Context, endpoint string, out any) error {
	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json;version=20230302")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &APIError{StatusCode: http.StatusNotFound, Body: "empty data"}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// LiquidityUSD returns the pool's reserve in USD.
func (p *Pool) LiquidityUSD() float64 {
	return parseUSD(p.Attributes.ReserveInUSD)
}

// MarketCapUSD prefers the reported market cap and falls back to FDV.
func (p *Pool) MarketCapUSD() float64 {
	if mc := parseUSD(p.Attributes.MarketCapUSD); mc > 0 {
		return mc
	}
	return parseUSD(p.Attributes.FDVUSD)
}

// TokenPriceUSD returns the USD price of token within this pool, picking the
// quote side when the token is the pair's quote token.
func (p *Pool) TokenPriceUSD(token string) float64 {
	if token != "" && sideMatches(p.Relationships.QuoteToken.Data.ID, token) &&
		!sideMatches(p.Relationships.BaseToken.Data.ID, token) {
		return parseUSD(p.Attributes.QuoteTokenPriceUSD)
	}
	return parseUSD(p.Attributes.BaseTokenPriceUSD)
}

// sideMatches compares a relationship id ("<network>_<address>") to a token address.
func sideMatches(relID, token string) bool {
	if relID == "" {
		return false
	}
	if i := strings.LastIndex(relID, "_"); i >= 0 {
		relID = relID[i+1:]
	}
	return strings.EqualFold(relID, token)
}
