package dexscreener

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

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.dexscreener.com"

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

// GetTokenPairs fetches all pairs for a token address and keeps those on chainID.
// An empty chainID keeps every chain.
func (c *RESTClient) GetTokenPairs(ctx context.Context, chainID, token string) ([]Pair, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, url.PathEscape(token))

	var rawResp PairsResponse
	if err := c.get(ctx, endpoint, &rawResp); err != nil {
		return nil, err
	}

	out := make([]Pair, 0, len(rawResp.Pairs))
	for _, p := range rawResp.Pairs {
		if chainID == "" || strings.EqualFold(p.ChainID, chainID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetPair fetches a single pair. It returns (nil, nil) when DexScreener knows
// no such pair, which is how it reports dead or delisted pools.
func (c *RESTClient) GetPair(ctx context.Context, chainID, pair string) (*Pair, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", c.baseURL, url.PathEscape(chainID), url.PathEscape(pair))

	var rawResp PairsResponse
	if err := c.get(ctx, endpoint, &rawResp); err != nil {
		return nil, err
	}

	if rawResp.Pair != nil {
		return rawResp.Pair, nil
	}
	for i := range rawResp.Pairs {
		if strings.EqualFold(rawResp.Pairs[i].PairAddress, pair) {
			return &rawResp.Pairs[i], nil
		}
	}
	return nil, nil
}

func (c *RESTClient) get(ctx context.Context, endpoint string, out any) error {
	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
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

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
