package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/ecomadmin/shop/pkg/tokenstore"
)

// Request is an outgoing call through the authenticated transport.
// SkipAuthRefresh suppresses the 401-refresh-retry handling; it is set
// on the refresh call itself so a 401 there is terminal, not recursive.
type Request struct {
	Method          string
	Path            string
	Body            any
	Header          http.Header
	SkipAuthRefresh bool
}

type Config struct {
	BaseURL string

	// HTTPClient overrides the default client. It must carry a cookie
	// jar, otherwise the refresh-token cookie is lost between calls.
	HTTPClient *http.Client

	// Store holds the access token. A fresh one is created if nil.
	Store *tokenstore.Store

	// OnSessionExpired fires once per failed refresh cycle, after the
	// token store has been cleared. The UI uses it to redirect to the
	// login view.
	OnSessionExpired func(err error)

	Logger *slog.Logger
}

// Client issues HTTP calls carrying the current access token and
// transparently recovers from token expiry: the first 401 on a request
// triggers one refresh (deduplicated across concurrent requests) and
// one resend of the original request.
type Client struct {
	baseURL          string
	http             *http.Client
	store            *tokenstore.Store
	refresh          *RefreshCoordinator
	onSessionExpired func(error)
	logger           *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: base URL is empty")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	store := cfg.Store
	if store == nil {
		store = tokenstore.New()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		http:             httpClient,
		store:            store,
		onSessionExpired: cfg.OnSessionExpired,
		logger:           logger,
	}
	c.refresh = NewRefreshCoordinator(c.refreshOnce)
	return c, nil
}

// Store exposes the access-token holder, mainly so callers can seed it
// after an out-of-band login.
func (c *Client) Store() *tokenstore.Store {
	return c.store
}

// Do sends the request with the current access token attached. On the
// first 401 it obtains a fresh token through the refresh coordinator
// and resends the original request exactly once; the response of the
// resend is returned as-is. Requests flagged SkipAuthRefresh and
// network-level failures are never retried.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	resp, err := c.send(ctx, req, c.store.Get())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || req.SkipAuthRefresh {
		return resp, nil
	}

	// First 401 on this request: one refresh, one resend.
	drain(resp)

	token, err := c.refresh.Refresh(ctx)
	if err != nil {
		// A caller whose own context ended while waiting on the shared
		// refresh has a transport failure, not a dead session; other
		// waiters and the session itself are unaffected.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	return c.send(ctx, req, token)
}

func (c *Client) send(ctx context.Context, req Request, token string) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" && req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// refreshOnce is the single network call of a refresh cycle. The
// refresh-token cookie travels via the jar; SkipAuthRefresh keeps a
// 401 here from recursing into another refresh.
func (c *Client) refreshOnce(ctx context.Context) (string, error) {
	resp, err := c.send(ctx, Request{
		Method:          http.MethodPost,
		Path:            "/auth/refresh-token",
		SkipAuthRefresh: true,
	}, c.store.Get())
	if err != nil {
		c.sessionExpired(err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("refresh failed with status: %d", resp.StatusCode)
		c.logger.Warn("token refresh rejected", "status", resp.StatusCode)
		c.sessionExpired(err)
		return "", err
	}

	var out struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		err = fmt.Errorf("decode refresh response: %w", err)
		c.sessionExpired(err)
		return "", err
	}

	c.store.Set(out.AccessToken)
	return out.AccessToken, nil
}

// sessionExpired runs at most once per failed refresh cycle because
// refreshOnce itself runs at most once per cycle.
func (c *Client) sessionExpired(err error) {
	c.store.Clear()
	if c.onSessionExpired != nil {
		c.onSessionExpired(err)
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
