package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

type User struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}

// Login authenticates with email and password. On success the access
// token is stored in memory and the refresh-token cookie lands in the
// jar; on failure any previous token is cleared.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.call(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   map[string]string{"email": email, "password": password},
		// A 401 here means bad credentials, not an expired token.
		SkipAuthRefresh: true,
	}, &out)
	if err != nil {
		c.store.Clear()
		return nil, err
	}
	c.store.Set(out.AccessToken)
	return &out, nil
}

// RefreshTokens forces a refresh cycle, joining one already in flight.
func (c *Client) RefreshTokens(ctx context.Context) (string, error) {
	return c.refresh.Refresh(ctx)
}

// Me returns the current user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		Success bool `json:"success"`
		User    User `json:"user"`
	}
	if err := c.call(ctx, Request{Method: http.MethodGet, Path: "/auth/me"}, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout revokes the server-side refresh token and clears local state.
// The in-memory token is cleared even when the call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, Request{
		Method:          http.MethodPost,
		Path:            "/auth/logout",
		SkipAuthRefresh: true,
	}, nil)
	c.store.Clear()
	return err
}

func (c *Client) Register(ctx context.Context, username, email, password string) (*User, error) {
	var out struct {
		Success bool `json:"success"`
		User    User `json:"user"`
	}
	err := c.call(ctx, Request{
		Method:          http.MethodPost,
		Path:            "/auth/signup",
		Body:            map[string]string{"username": username, "email": email, "password": password},
		SkipAuthRefresh: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.call(ctx, Request{
		Method:          http.MethodPost,
		Path:            "/auth/forgot-password",
		Body:            map[string]string{"email": email},
		SkipAuthRefresh: true,
	}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.call(ctx, Request{
		Method:          http.MethodPost,
		Path:            "/auth/reset-password",
		Body:            map[string]string{"token": token, "newPassword": newPassword},
		SkipAuthRefresh: true,
	}, nil)
}

// call sends the request through Do and decodes a 2xx JSON body into
// out. Non-2xx responses become an *APIError.
func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{Status: resp.StatusCode, Message: body.Message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
