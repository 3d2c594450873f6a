package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// StatusError is a non-2xx answer from the destination.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("destination returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("destination returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (e *StatusError) Unwrap() error { return shared.ErrDeliveryFailed }

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// NewHTTPClient returns base authenticated with OAuth2 client credentials when c configures them, or base as is.
//
// Tokens are fetched with base too, so both share one transport.
func NewHTTPClient(ctx context.Context, c shared.DeliveryConfig, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	if !c.OAuth.Enabled() {
		return base
	}

	cc := &clientcredentials.Config{
		ClientID:     c.OAuth.ClientID,
		ClientSecret: c.OAuth.ClientSecret,
		TokenURL:     c.OAuth.TokenURL,
		Scopes:       c.OAuth.Scopes,
		AuthStyle:    oauth2.AuthStyleAutoDetect,
	}
	return cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
}

// submissionPayload is the body POSTed to the destination.
type submissionPayload struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Category  models.Category   `json:"category"`
	Fields    map[string]string `json:"fields"`
}

// HTTPDeliverer POSTs submission records to {base}/api/submit-{category}.
//
// Errors follow the retry contract of queue.Deliverer: client errors other than 408 and 429 are permanent.
// Without an API every delivery fails permanently and records stay queued.
type HTTPDeliverer struct {
	api    *APIService
	logger *log.Logger
}

// NewHTTPDeliverer creates an [HTTPDeliverer] over api.
func NewHTTPDeliverer(api *APIService, logger *log.Logger) *HTTPDeliverer {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &HTTPDeliverer{api: api, logger: logger.With("component", "delivery")}
}

// Endpoint returns the submission path for category.
func Endpoint(category models.Category) string {
	return "/api/submit-" + string(category)
}

// Deliver sends one record. A 2xx answer means the destination accepted it.
func (d *HTTPDeliverer) Deliver(ctx context.Context, record *models.SubmissionRecord) error {
	if d.api == nil {
		return backoff.Permanent(fmt.Errorf("%w: %w: delivery.base_url is not set",
			shared.ErrDeliveryFailed, shared.ErrInvalidConfig))
	}

	payload := submissionPayload{
		ID:        record.ID(),
		Timestamp: record.Timestamp().Format(time.RFC3339Nano),
		Category:  record.Category(),
		Fields:    record.Fields(),
	}

	data, err := shared.MarshalJSON(payload, false)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to encode submission %s: %w", record.ID(), err))
	}

	resp, err := d.api.PostJSON(ctx, Endpoint(record.Category()), data)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrDeliveryFailed, err)
	}

	if resp.OK() {
		d.logger.Debug("delivered", "id", record.ID(), "status", resp.StatusCode)
		return nil
	}

	serr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(resp.Body), 200)}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Headers.Get("Retry-After")); err == nil && secs > 0 {
			return backoff.RetryAfter(secs)
		}
	}
	if !serr.Retryable() {
		return backoff.Permanent(serr)
	}
	return serr
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
