package api

import (
	"context"
	"math"
	"net/url"
)

// CheckTokenExpiry returns the minutes of validity left on token. A null
// data field reads as 0 minutes.
func (c *Client) CheckTokenExpiry(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, ErrEmptyToken
	}

	var minutes float64
	query := url.Values{"wsToken": {token}}
	if err := c.get(ctx, PathCheckExpiry, query, &minutes); err != nil {
		return 0, err
	}
	return int(math.Floor(minutes)), nil
}

// RenewToken exchanges oldToken for a new one. Concurrent calls for the same
// oldToken share a single request.
func (c *Client) RenewToken(ctx context.Context, oldToken string) (string, error) {
	if oldToken == "" {
		return "", ErrEmptyToken
	}

	v, err, shared := c.renewals.Do(oldToken, func() (any, error) {
		var newToken string
		query := url.Values{"oldToken": {oldToken}}
		if err := c.get(ctx, PathRenew, query, &newToken); err != nil {
			return "", err
		}
		if newToken == "" {
			return "", &ResultError{Path: PathRenew, Message: ErrEmptyToken.Error()}
		}
		return newToken, nil
	})
	if shared {
		c.logger.Debug("renewal shared with concurrent caller")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Heartbeat reports liveness for token and returns the token the server wants
// used from now on, which may differ from token.
func (c *Client) Heartbeat(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	var current string
	query := url.Values{"wsToken": {token}}
	if err := c.get(ctx, PathHeartbeat, query, &current); err != nil {
		return "", err
	}
	if current == "" {
		return "", &ResultError{Path: PathHeartbeat, Message: ErrEmptyToken.Error()}
	}
	return current, nil
}
