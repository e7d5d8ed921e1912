package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/models"
)

const (
	defaultMaxRetries = 3
	baseRetryDelay    = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// Enricher adds an optional tagline to new posts.
type Enricher interface {
	Tagline(ctx context.Context, n models.Notification) (string, error)
}

type Client struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter
	enricher    Enricher
	maxRetries  int
}

// New returns a webhook client that sends at most one request per interval.
// An empty webhookURL makes every call a logged no-op.
func New(webhookURL string, interval time.Duration) *Client {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Client{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rate.NewLimiter(limit, 1),
		maxRetries:  defaultMaxRetries,
	}
}

// WithEnricher sets the tagline provider used for new posts.
func (c *Client) WithEnricher(e Enricher) *Client {
	c.enricher = e
	return c
}

// Create posts a notification and returns the handle of the new message. In
// dry-run mode it returns a nil handle and no error.
func (c *Client) Create(ctx context.Context, n models.Notification) (*models.NotificationHandle, error) {
	if c.webhookURL == "" {
		logging.FromContext(ctx).Info("Dry run: would post notification", "kind", n.Kind, "title", n.Title)
		return nil, nil
	}

	var tagline string
	if n.Kind == models.NotificationNew && c.enricher != nil {
		t, err := c.enricher.Tagline(ctx, n)
		if err != nil {
			logging.FromContext(ctx).Warn("Tagline generation failed, posting without it", "title", n.Title, "error", err)
		}
		tagline = t
	}

	endpoint, err := c.createURL()
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, endpoint, formatNotification(n, tagline))
	if err != nil {
		return nil, fmt.Errorf("failed to post %s notification for %q: %w", n.Kind, n.Title, err)
	}

	var msg discordMessageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode discord response: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("discord response carried no message id")
	}
	return &models.NotificationHandle{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// Update edits a previously created message in place.
func (c *Client) Update(ctx context.Context, h models.NotificationHandle, n models.Notification) error {
	if c.webhookURL == "" || h.MessageID == "" {
		return nil
	}
	endpoint, err := c.messageURL(h.MessageID)
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPatch, endpoint, formatNotification(n, "")); err != nil {
		return fmt.Errorf("failed to update message %s: %w", h.MessageID, err)
	}
	return nil
}

// Delete removes a previously created message. A message that is already gone
// counts as deleted.
func (c *Client) Delete(ctx context.Context, h models.NotificationHandle) error {
	if c.webhookURL == "" || h.MessageID == "" {
		return nil
	}
	endpoint, err := c.messageURL(h.MessageID)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, endpoint, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", h.MessageID, err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("discord status %d: %s", e.code, e.body)
}

func (c *Client) createURL() (string, error) {
	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook URL: %w", err)
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()
	return parsedURL.String(), nil
}

func (c *Client) messageURL(messageID string) (string, error) {
	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook URL: %w", err)
	}
	parsedURL.Path += "/messages/" + url.PathEscape(messageID)
	return parsedURL.String(), nil
}

// do sends one request, waiting on the rate limiter before every attempt and
// retrying 429 and 5xx responses. Other 4xx responses fail immediately.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var payloadBytes []byte
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		var wait time.Duration
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil || attempt >= c.maxRetries {
				return nil, err
			}
			wait = baseRetryDelay << attempt
			logging.FromContext(ctx).Warn("Discord request failed, retrying", "method", method, "attempt", attempt+1, "error", err)
		} else {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return bodyBytes, nil
			}
			serr := &statusError{code: resp.StatusCode, body: string(bodyBytes)}
			wait = retryBackoff(resp, attempt)
			if wait == 0 || attempt >= c.maxRetries {
				return nil, serr
			}
			logging.FromContext(ctx).Warn("Discord returned retryable status", "method", method, "status", resp.StatusCode, "attempt", attempt+1, "wait", wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// retryBackoff returns how long to wait before retrying resp, or zero when the
// response must not be retried.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
				return min(time.Duration(secs*float64(time.Second)), maxRetryDelay)
			}
		}
		return min(time.Second<<attempt, maxRetryDelay)
	case resp.StatusCode >= 500:
		return min(baseRetryDelay<<attempt, maxRetryDelay)
	}
	return 0
}
