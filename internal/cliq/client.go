// Webhook client: delivers formatted payloads to the Cliq message API.
//
// Send semantics (shared by user and channel targets):
//   - POST JSON to the webhook URL with an explicit request timeout.
//   - 2xx is success.
//   - 5xx and transport errors (including timeouts) are transient: retry
//     exactly once after a short fixed delay, then give up.
//   - 4xx is permanent: a malformed request will not succeed on repeat, so it
//     is surfaced immediately without a retry.
//
// An outbound token bucket keeps burst fan-outs from hammering the platform.
package cliq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("cliq webhook returned %d: %s", e.Code, e.Body)
}

// Transient reports whether the failure is worth the single retry.
func (e *StatusError) Transient() bool { return e.Code >= 500 }

// Config carries the webhook endpoint settings.
type Config struct {
	// BaseURL is the platform API root, e.g. "https://cliq.zoho.com/api/v2".
	BaseURL string
	// BotName is the bot's unique name for incoming-webhook URLs.
	BotName string
	// Token is the zapikey appended to every webhook URL.
	Token string
	// SendTimeout bounds each HTTP attempt. Zero means 10s.
	SendTimeout time.Duration
	// RetryDelay is the pause before the single retry. Zero means 1s.
	RetryDelay time.Duration
	// RPS and Burst shape the outbound token bucket. RPS<=0 disables limiting.
	RPS   float64
	Burst int
}

// Client sends messages to Cliq webhooks. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient builds a Client from config. The HTTP client's timeout is the
// per-attempt bound; the retry adds at most one more attempt on top.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	var lim *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.SendTimeout},
		limiter: lim,
		log:     log,
	}
}

// Configured reports whether the client has a webhook token. An unconfigured
// client fails sends immediately, which the dispatcher logs as a delivery
// failure rather than crashing at startup.
func (c *Client) Configured() bool { return c.cfg.Token != "" }

// SendToUser delivers a direct bot message to one chat user.
func (c *Client) SendToUser(ctx context.Context, chatUserID, appUserID string, msg Message) error {
	msg.TargetUser = &TargetUser{ID: chatUserID, AppUserID: appUserID}
	return c.send(ctx, c.botURL(), msg)
}

// SendToChannel delivers a message to a named channel.
func (c *Client) SendToChannel(ctx context.Context, channelName string, msg Message) error {
	return c.send(ctx, c.channelURL(channelName), msg)
}

// botURL is the bot incoming-webhook endpoint.
func (c *Client) botURL() string {
	return fmt.Sprintf("%s/bots/%s/incoming?zapikey=%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.BotName), url.QueryEscape(c.cfg.Token))
}

// channelURL is the named-channel message endpoint.
func (c *Client) channelURL(name string) string {
	return fmt.Sprintf("%s/channelsbyname/%s/message?zapikey=%s",
		c.cfg.BaseURL, url.PathEscape(name), url.QueryEscape(c.cfg.Token))
}

// send posts the payload, retrying once on transient failure.
func (c *Client) send(ctx context.Context, webhookURL string, msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("cliq webhook token not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	err = c.post(ctx, webhookURL, body)
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return err
	}

	c.log.Warn().Err(err).Msg("cliq send failed, retrying once")
	select {
	case <-time.After(c.cfg.RetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.post(ctx, webhookURL, body)
}

// post performs one HTTP attempt.
func (c *Client) post(ctx context.Context, webhookURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Cap the diagnostic body; webhook errors are short.
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: string(b)}
}

// isTransient classifies an attempt failure: 5xx responses and transport
// errors (timeouts included) qualify for the retry, 4xx does not.
func isTransient(err error) bool {
	if se, ok := err.(*StatusError); ok {
		return se.Transient()
	}
	// Transport-level failure (connection refused, timeout, ...).
	return true
}
