package supabase

import (
	"context"
	"net/http"
	"net/url"

	"gastos/internal/remote"
)

func (c *Client) token(ctx context.Context, grant string, payload any) (*remote.Session, error) {
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}
	var s remote.Session
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/v1/token",
		query:       url.Values{"grant_type": {grant}},
		body:        body,
		contentType: "application/json",
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	return c.token(ctx, "password", map[string]string{"email": email, "password": password})
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*remote.Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", token: accessToken}, nil)
}

func (c *Client) User(ctx context.Context, accessToken string) (*remote.AuthUser, error) {
	var u remote.AuthUser
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", token: accessToken}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
