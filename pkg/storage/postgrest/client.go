// Package postgrest implements storage.CallStore over a PostgREST HTTP API.
package postgrest

import (
	"bytes"
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
	"athsync/internal/storage"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("postgrest error: status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	table      string
	apiKey     string
	httpClient *http.Client
}

var _ storage.CallStore = (*Client)(nil)

func NewClient(baseURL, table, apiKey string, timeout time.Duration) *Client {
	if table == "" {
		table = "calls"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		table:      table,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) SelectForTier(ctx context.Context, q storage.TierQuery) ([]model.Call, error) {
	v := url.Values{}
	v.Set("select", "*")
	v.Set("is_invalidated", "is.false")

	conds := []string{
		"or(review_reason.is.null,review_reason.neq." + model.ReviewInvalidEntryPrice + ")",
		bandFilter(q.MinLiquidityUSD, q.MaxLiquidityUSD),
		leaseFilter(q.Now),
	}
	if q.DeadBefore.IsZero() {
		v.Set("is_dead", "is.false")
	} else {
		conds = append(conds, "or(is_dead.is.false,dead_checked_at.is.null,dead_checked_at.lt."+ts(q.DeadBefore)+")")
	}
	v.Set("and", "("+strings.Join(conds, ",")+")")
	v.Set("order", "last_checked_at.asc.nullsfirst,id.asc")
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var out []model.Call
	if _, err := c.do(ctx, http.MethodGet, v, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("select for tier: %w", err)
	}
	return out, nil
}

func (c *Client) SelectForVerify(ctx context.Context, q storage.VerifyQuery) ([]model.Call, error) {
	v := url.Values{}
	v.Set("select", "*")
	v.Set("is_invalidated", "is.false")
	v.Set("ath_price", "not.is.null")
	v.Set("and", "("+bandFilter(q.MinLiquidityUSD, q.MaxLiquidityUSD)+","+leaseFilter(q.Now)+")")
	v.Set("order", "ath_verified_at.asc.nullsfirst,id.asc")
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var out []model.Call
	if _, err := c.do(ctx, http.MethodGet, v, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("select for verify: %w", err)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*model.Call, error) {
	v := url.Values{}
	v.Set("select", "*")
	v.Set("id", "eq."+strconv.FormatInt(id, 10))

	var out []model.Call
	if _, err := c.do(ctx, http.MethodGet, v, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get call %d: %w", id, err)
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return &out[0], nil
}

// Claim is a conditional PATCH: the row only matches while its lease is free.
func (c *Client) Claim(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	v := url.Values{}
	v.Set("id", "eq."+strconv.FormatInt(id, 10))
	v.Set("or", "(claimed_until.is.null,claimed_until.lt."+ts(now)+")")
	v.Set("select", "id")

	body := map[string]any{"claimed_until": until.UTC()}
	headers := map[string]string{"Prefer": "return=representation"}

	var rows []struct {
		ID int64 `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPatch, v, headers, body, &rows); err != nil {
		return false, fmt.Errorf("claim call %d: %w", id, err)
	}
	return len(rows) == 1, nil
}

func (c *Client) Patch(ctx context.Context, id int64, p model.CallPatch) error {
	cols := p.Columns()
	if len(cols) == 0 {
		return storage.ErrEmptyPatch
	}
	v := url.Values{}
	v.Set("id", "eq."+strconv.FormatInt(id, 10))

	headers := map[string]string{"Prefer": "return=minimal"}
	if _, err := c.do(ctx, http.MethodPatch, v, headers, cols, nil); err != nil {
		return fmt.Errorf("patch call %d: %w", id, err)
	}
	return nil
}

func (c *Client) PatchMany(ctx context.Context, ids []int64, p model.CallPatch) error {
	if len(ids) == 0 {
		return nil
	}
	cols := p.Columns()
	if len(cols) == 0 {
		return storage.ErrEmptyPatch
	}

	list := make([]string, len(ids))
	for i, id := range ids {
		list[i] = strconv.FormatInt(id, 10)
	}
	v := url.Values{}
	v.Set("id", "in.("+strings.Join(list, ",")+")")

	headers := map[string]string{"Prefer": "return=minimal"}
	if _, err := c.do(ctx, http.MethodPatch, v, headers, cols, nil); err != nil {
		return fmt.Errorf("patch %d calls: %w", len(ids), err)
	}
	return nil
}

// Count asks for an exact count and reads it from Content-Range.
func (c *Client) Count(ctx context.Context, q storage.TierQuery) (int, error) {
	v := url.Values{}
	v.Set("select", "id")
	v.Set("is_invalidated", "is.false")
	conds := []string{
		"or(review_reason.is.null,review_reason.neq." + model.ReviewInvalidEntryPrice + ")",
		bandFilter(q.MinLiquidityUSD, q.MaxLiquidityUSD),
	}
	if q.DeadBefore.IsZero() {
		v.Set("is_dead", "is.false")
	} else {
		conds = append(conds, "or(is_dead.is.false,dead_checked_at.is.null,dead_checked_at.lt."+ts(q.DeadBefore)+")")
	}
	v.Set("and", "("+strings.Join(conds, ",")+")")
	v.Set("limit", "1")

	headers := map[string]string{"Prefer": "count=exact"}
	resp, err := c.do(ctx, http.MethodGet, v, headers, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return parseContentRange(resp.Get("Content-Range"))
}

// do sends one request and decodes the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method string, query url.Values, headers map[string]string,
	body any, out any) (http.Header, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(c.table), query.Encode())

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

// bandFilter admits unknown liquidity to every band, matching storage.MatchesTier.
func bandFilter(lo, hi float64) string {
	parts := []string{"liquidity_usd.gte." + num(lo)}
	if hi > 0 {
		parts = append(parts, "liquidity_usd.lt."+num(hi))
	}
	return "or(liquidity_usd.is.null,and(" + strings.Join(parts, ",") + "))"
}

func leaseFilter(now time.Time) string {
	return "or(claimed_until.is.null,claimed_until.lt." + ts(now) + ")"
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ts formats t without a '+' so it survives inside PostgREST filter lists.
func ts(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999Z")
}

// parseContentRange reads the total from "0-24/3573" or "*/0".
func parseContentRange(h string) (int, error) {
	i := strings.LastIndex(h, "/")
	if i < 0 || h[i+1:] == "*" {
		return 0, fmt.Errorf("content-range without total: %q", h)
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0, fmt.Errorf("parse content-range %q: %w", h, err)
	}
	return n, nil
}
