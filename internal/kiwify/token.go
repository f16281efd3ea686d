package kiwify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"salesops_backend/platform/apperr"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenURL  = "https://public-api.kiwify.com/v1/oauth/token"
	maxTokenAttempts = 3
)

// TokenStrategy is one way of exchanging client credentials for an access
// token. The provider has accepted different shapes over time, so several
// are tried in order and the first that works is remembered.
type TokenStrategy struct {
	Name        string
	TokenURL    string
	AuthStyle   oauth2.AuthStyle
	ExtraParams url.Values
}

// DefaultTokenStrategies returns, for every token url, a form-params attempt
// followed by a basic-auth header attempt.
func DefaultTokenStrategies(tokenURLs []string) []TokenStrategy {
	if len(tokenURLs) == 0 {
		tokenURLs = []string{defaultTokenURL}
	}

	out := make([]TokenStrategy, 0, len(tokenURLs)*2)
	for _, u := range tokenURLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out,
			TokenStrategy{Name: "params:" + u, TokenURL: u, AuthStyle: oauth2.AuthStyleInParams},
			TokenStrategy{Name: "header:" + u, TokenURL: u, AuthStyle: oauth2.AuthStyleInHeader},
		)
	}
	return out
}

// tokenSource caches the provider token and serializes refreshes.
type tokenSource struct {
	clientID     string
	clientSecret string
	strategies   []TokenStrategy
	httpClient   *http.Client
	retryBase    time.Duration

	group singleflight.Group

	mu       sync.Mutex
	token    *oauth2.Token
	strategy int
}

func newTokenSource(clientID, clientSecret string, strategies []TokenStrategy, httpClient *http.Client) *tokenSource {
	return &tokenSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		strategies:   strategies,
		httpClient:   httpClient,
		retryBase:    500 * time.Millisecond,
		strategy:     -1,
	}
}

// AccessToken returns a valid bearer token, fetching one if needed.
func (s *tokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != nil && s.token.Valid() {
		tok := s.token.AccessToken
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.fetchWithRetry(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the API rejected it.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

func (s *tokenSource) fetchWithRetry(ctx context.Context) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBase
	b.MaxInterval = 4 * s.retryBase

	for attempt := 1; ; attempt++ {
		tok, err := s.tryStrategies(ctx)
		if err == nil {
			return tok, nil
		}
		if apperr.Is(err, apperr.KindUnauthorized) || attempt >= maxTokenAttempts {
			return "", err
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// tryStrategies walks the strategy list, starting with the one that worked
// last time. Only when every strategy is rejected by the provider is the
// result an auth failure, which is not retried.
func (s *tokenSource) tryStrategies(ctx context.Context) (string, error) {
	if len(s.strategies) == 0 {
		return "", apperr.Internal("no token strategies configured").WithOp("kiwify.token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	s.mu.Lock()
	order := s.strategyOrder()
	s.mu.Unlock()

	var rejected, transient error
	for _, idx := range order {
		st := s.strategies[idx]
		cfg := clientcredentials.Config{
			ClientID:       s.clientID,
			ClientSecret:   s.clientSecret,
			TokenURL:       st.TokenURL,
			AuthStyle:      st.AuthStyle,
			EndpointParams: st.ExtraParams,
		}
		tok, err := cfg.Token(ctx)
		if err == nil && tok.AccessToken != "" {
			s.mu.Lock()
			s.token = tok
			s.strategy = idx
			s.mu.Unlock()
			return tok.AccessToken, nil
		}
		if err == nil {
			err = errors.New("empty access token")
		}

		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && isAuthRejection(rerr.Response.StatusCode) {
			rejected = apperr.Upstream(apperr.KindUnauthorized, provider, rerr.Response.StatusCode, truncate(string(rerr.Body)))
			continue
		}
		transient = upstreamFromTokenError(err)
	}

	if transient != nil {
		return "", transient
	}
	return "", rejected
}

func (s *tokenSource) strategyOrder() []int {
	order := make([]int, 0, len(s.strategies))
	if s.strategy >= 0 {
		order = append(order, s.strategy)
	}
	for i := range s.strategies {
		if i != s.strategy {
			order = append(order, i)
		}
	}
	return order
}

func upstreamFromTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		status := rerr.Response.StatusCode
		kind := apperr.KindUpstream
		if status == http.StatusTooManyRequests {
			kind = apperr.KindRateLimited
		}
		return apperr.Upstream(kind, provider, status, truncate(string(rerr.Body)))
	}
	e := apperr.Upstream(apperr.KindUpstream, provider, 0, "")
	e.Err = err
	return e.WithOp("kiwify.token")
}

func isAuthRejection(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden
}
