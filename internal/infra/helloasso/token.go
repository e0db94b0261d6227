package helloasso

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

type accessToken struct {
	access    string
	refresh   string
	expiresAt time.Time
}

// GetAccessToken returns a cached token while it is valid for at least
// TokenMargin more. Otherwise it tries the refresh grant, then falls back to
// client credentials. Concurrent callers wait for a single fetch.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := c.now()
	if c.token != nil && now.Add(c.cfg.TokenMargin).Before(c.token.expiresAt) {
		return c.token.access, nil
	}

	if c.token != nil && c.token.refresh != "" {
		token, err := c.requestToken(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {c.cfg.ClientID},
			"refresh_token": {c.token.refresh},
		})
		if err == nil {
			c.token = token
			return token.access, nil
		}
		c.logger.Warn("HelloAsso token refresh failed, requesting a new one", "error", err)
	}

	token, err := c.requestToken(ctx, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	})
	if err != nil {
		c.token = nil
		return "", errors.Wrap(err, "get access token")
	}

	c.token = token
	return token.access, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != nil {
		// refresh token остаётся, протухает только access
		c.token.expiresAt = time.Time{}
	}
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*accessToken, error) {
	data, err := c.send(ctx, "token", http.MethodPost, c.cfg.BaseURL+"/oauth2/token",
		"application/x-www-form-urlencoded", []byte(form.Encode()), "")
	if err != nil {
		return nil, err
	}

	var (
		token     accessToken
		expiresIn int64
	)
	err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "access_token":
			token.access, err = d.Str()
		case "refresh_token":
			token.refresh, err = d.Str()
		case "expires_in":
			expiresIn, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode token response")
	}
	if token.access == "" {
		return nil, errors.New("token response without access_token")
	}

	token.expiresAt = c.now().Add(time.Duration(expiresIn) * time.Second)
	return &token, nil
}
