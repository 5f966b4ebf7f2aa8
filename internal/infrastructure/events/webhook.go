package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
)

const (
	SignatureHeader = "X-Signature-SHA256"
	KindHeader      = "X-Payload-Kind"
	userAgent       = "Performance-Control-Loop/1.0"
)

// RetryPolicy bounds redelivery of a webhook. Only transport errors, 429 and
// 5xx responses are retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// webhookClient posts signed JSON with retries. Shared by the sink and the
// executor.
type webhookClient struct {
	http   *http.Client
	secret string
	retry  RetryPolicy
	logger *zap.Logger
}

func newWebhookClient(timeout time.Duration, secret string, retry RetryPolicy, logger *zap.Logger) *webhookClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &webhookClient{
		http:   &http.Client{Timeout: timeout},
		secret: secret,
		retry:  retry,
		logger: logger,
	}
}

// post sends v to url and, when out is non-nil, decodes a 2xx body into it.
func (c *webhookClient) post(ctx context.Context, url string, headers map[string]string, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternalError("failed to marshal webhook payload").WithCause(err)
	}

	var lastErr error
	delay := c.retry.InitialDelay
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := c.attempt(ctx, url, headers, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.IsRetryable(err) || attempt == c.retry.MaxAttempts {
			break
		}
		c.logger.Debug("webhook attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.NewIntegrationError("webhook", "delivery cancelled").WithCause(ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * c.retry.Multiplier)
	}
	return errors.NewIntegrationError("webhook", "delivery failed").WithCause(lastErr)
}

// attempt makes one delivery. Transport failures, 429 and 5xx come back as
// retryable integration errors.
func (c *webhookClient) attempt(ctx context.Context, url string, headers map[string]string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, c.secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return errors.NewIntegrationError("webhook", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errors.NewIntegrationError("webhook", fmt.Sprintf("status %d", resp.StatusCode))
		}
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	return nil
}
