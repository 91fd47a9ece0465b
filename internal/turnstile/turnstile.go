// Package turnstile verifies Cloudflare Turnstile tokens for sites that
// require a bot check before writes.
package turnstile

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
)

const verifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type Client struct {
	secret string
	http   *http.Client
}

func NewClient(secret string) *Client {
	return &Client{
		secret: secret,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether verification is configured at all.
func (c *Client) Enabled() bool {
	return c != nil && c.secret != ""
}

// Required decides whether this writer owes a token under the site's
// mode. "Unverified" counts anyone without a confirmed email or phone,
// including anonymous writers.
func Required(mode models.TurnstileMode, user *models.User) bool {
	switch mode {
	case models.TurnstileAll:
		return true
	case models.TurnstileAnonymous:
		return user == nil
	case models.TurnstileUnverified:
		return user == nil || !user.Verified()
	default:
		return false
	}
}

// Verify checks a token with Cloudflare.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return apperrors.ValidationError("turnstile_token", "required for this site")
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.InternalError("build turnstile request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.ServiceUnavailable("turnstile").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apperrors.ServiceUnavailable("turnstile").WithCause(err)
	}
	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return apperrors.ServiceUnavailable("turnstile").WithCause(err)
	}
	if !result.Success {
		return apperrors.ValidationError("turnstile_token", "verification failed")
	}
	return nil
}
