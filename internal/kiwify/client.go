// Package kiwify talks to the payment provider: it exchanges client
// credentials for a token and lists approved orders page by page.
package kiwify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"salesops_backend/platform/apperr"
	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"

	json "github.com/goccy/go-json"
)

const (
	provider       = "kiwify"
	PageSize       = 200
	requestTimeout = 30 * time.Second
	maxBodyLog     = 2048
)

// OrdersPage is one page of the approved-orders listing.
type OrdersPage struct {
	Page    int
	Orders  []Order
	HasMore bool
	Raw     json.RawMessage
}

type Client struct {
	baseURL   string
	accountID string
	http      *http.Client
	tokens    *tokenSource
	log       *logger.Logger
}

// NewClient returns nil when the provider is not configured; methods on a
// nil client fail with a validation error.
func NewClient(cfg config.KiwifyConfig, log *logger.Logger) *Client {
	if cfg.GetKiwifyClientID() == "" || cfg.GetKiwifyClientSecret() == "" {
		return nil
	}

	httpClient := &http.Client{Timeout: requestTimeout}
	return &Client{
		baseURL:   strings.TrimRight(cfg.GetKiwifyBaseURL(), "/"),
		accountID: cfg.GetKiwifyAccountID(),
		http:      httpClient,
		tokens: newTokenSource(
			cfg.GetKiwifyClientID(),
			cfg.GetKiwifyClientSecret(),
			DefaultTokenStrategies(cfg.GetKiwifyTokenURLs()),
			httpClient,
		),
		log: log,
	}
}

// ListApprovedOrders fetches one page of approved orders whose approval
// falls within the inclusive day range [start, end].
func (c *Client) ListApprovedOrders(ctx context.Context, start, end time.Time, page int) (OrdersPage, error) {
	if c == nil {
		return OrdersPage{}, apperr.Validation("payment provider credentials are not configured")
	}
	if page < 1 {
		page = 1
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		c.log.UpstreamError(provider, "token", statusOf(err), err)
		return OrdersPage{}, err
	}

	q := url.Values{}
	q.Set("status", "approved")
	q.Set("start_date", start.UTC().Format("2006-01-02")+"T00:00:00Z")
	q.Set("end_date", end.UTC().Format("2006-01-02")+"T23:59:59Z")
	q.Set("page_size", strconv.Itoa(PageSize))
	q.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders?"+q.Encode(), nil)
	if err != nil {
		return OrdersPage{}, apperr.Wrap(apperr.KindInternal, "build orders request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.accountID != "" {
		req.Header.Set("x-kiwify-account-id", c.accountID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		e := apperr.Upstream(apperr.KindUpstream, provider, 0, "")
		e.Err = err
		c.log.UpstreamError(provider, "list_orders", 0, err)
		return OrdersPage{}, e.WithOp("kiwify.list_orders")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e := apperr.Upstream(apperr.KindUpstream, provider, resp.StatusCode, "")
		e.Err = err
		return OrdersPage{}, e.WithOp("kiwify.list_orders")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		e := statusError(resp.StatusCode, body).WithOp("kiwify.list_orders")
		c.log.UpstreamError(provider, "list_orders", resp.StatusCode, e)
		return OrdersPage{}, e
	}

	out, err := decodeOrdersPage(body)
	if err != nil {
		e := apperr.Upstream(apperr.KindUpstream, provider, resp.StatusCode, truncate(string(body)))
		e.Err = err
		return OrdersPage{}, e.WithOp("kiwify.decode_orders")
	}
	out.Page = page
	return out, nil
}

type pagination struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type pageEnvelope struct {
	Data       json.RawMessage `json:"data"`
	NextPage   json.RawMessage `json:"next_page"`
	Pagination *pagination     `json:"pagination"`
}

// decodeOrdersPage accepts a bare array, {data:[...]} or {data:{data:[...]}}.
func decodeOrdersPage(body []byte) (OrdersPage, error) {
	trimmed := bytes.TrimSpace(body)
	out := OrdersPage{Raw: json.RawMessage(body)}
	if len(trimmed) == 0 {
		return out, nil
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return OrdersPage{}, err
		}
	} else {
		var env pageEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return OrdersPage{}, err
		}
		data := bytes.TrimSpace(env.Data)
		if len(data) > 0 && data[0] == '{' {
			var inner pageEnvelope
			if err := json.Unmarshal(data, &inner); err != nil {
				return OrdersPage{}, err
			}
			if len(env.NextPage) == 0 {
				env.NextPage = inner.NextPage
			}
			if env.Pagination == nil {
				env.Pagination = inner.Pagination
			}
			data = bytes.TrimSpace(inner.Data)
		}
		if len(data) > 0 && data[0] == '[' {
			if err := json.Unmarshal(data, &items); err != nil {
				return OrdersPage{}, err
			}
		}
		out.HasMore = hasNext(env.NextPage) ||
			(env.Pagination != nil && env.Pagination.Page < env.Pagination.TotalPages)
	}

	out.Orders = make([]Order, 0, len(items))
	for _, item := range items {
		order, err := DecodeOrder(item)
		if err != nil {
			return OrdersPage{}, err
		}
		out.Orders = append(out.Orders, order)
	}
	if len(out.Orders) == 0 {
		out.HasMore = false
	}
	return out, nil
}

func hasNext(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != "false" && v != `""`
}

func statusError(status int, body []byte) *apperr.Error {
	kind := apperr.KindUpstream
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = apperr.KindUnauthorized
	case http.StatusTooManyRequests:
		kind = apperr.KindRateLimited
	}
	return apperr.Upstream(kind, provider, status, truncate(string(body)))
}

func statusOf(err error) int {
	if e, ok := apperr.As(err); ok {
		if d, ok := e.Details.(apperr.UpstreamDetails); ok {
			return d.Status
		}
	}
	return 0
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxBodyLog {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:maxBodyLog], len(s))
}
