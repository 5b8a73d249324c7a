package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrMissingCredentials is returned when the client is constructed without a
// pixel id or access token. Delivery is recorded as an error, never retried.
var ErrMissingCredentials = errors.New("capi: pixel id and access token required")

// Config holds the delivery credentials and tuning. It is passed explicitly
// at construction; there is no package-level state.
type Config struct {
	BaseURL     string
	APIVersion  string
	PixelID     string
	AccessToken string
	// TestEventCode routes events to the sandbox channel when set and the
	// envelope carries no code of its own.
	TestEventCode string
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://graph.facebook.com"
	}
	if c.APIVersion == "" {
		c.APIVersion = "v19.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// SendResult is the raw outcome of one delivery attempt. OK means HTTP 200;
// Body is the response body regardless of status.
type SendResult struct {
	OK         bool
	StatusCode int
	Body       json.RawMessage
}

// Client posts conversion events to the attribution endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient builds a delivery client from explicit configuration.
func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// endpoint is {base}/{version}/{pixel}/events?access_token={token}.
func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.PixelID, url.QueryEscape(c.cfg.AccessToken))
}

// Send posts one envelope. A transport or setup failure returns an error;
// any HTTP response, success or not, returns a SendResult so the caller can
// record the body. No retries are performed.
func (c *Client) Send(ctx context.Context, env Envelope) (*SendResult, error) {
	if c.cfg.PixelID == "" || c.cfg.AccessToken == "" {
		return nil, ErrMissingCredentials
	}

	if env.TestEventCode == "" && c.cfg.TestEventCode != "" {
		env.TestEventCode = c.cfg.TestEventCode
	}
	if env.TestEventCode != "" {
		c.log.Info("delivering in test mode", "test_event_code", env.TestEventCode)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("capi: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("capi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capi: post events: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("capi: read response: %w", err)
	}
	if !json.Valid(respBody) {
		// Keep non-JSON bodies inspectable in the delivery log.
		quoted, _ := json.Marshal(string(respBody))
		respBody = quoted
	}

	res := &SendResult{
		OK:         resp.StatusCode == http.StatusOK,
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}
	if res.OK {
		c.log.Info("conversion delivered", "status", resp.StatusCode)
	} else {
		c.log.Error("conversion rejected", "status", resp.StatusCode, "body", string(respBody))
	}
	return res, nil
}
