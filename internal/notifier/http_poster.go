package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxRetries         = 2
	userAgent          = "potoo-mailer/v1"
)

// httpPoster POSTs payloads to HTTP sinks (Datadog, Splunk HEC) with retry
// on transient failures.
type httpPoster struct {
	httpClient *http.Client
	logger     *zap.Logger
	// backoff is the linear backoff unit: attempt n waits n*backoff.
	backoff time.Duration
}

func newHTTPPoster(logger *zap.Logger, timeout time.Duration) *httpPoster {
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &httpPoster{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		logger:  logger.Named("http-poster"),
		backoff: time.Second,
	}
}

// Post sends body to rawURL with the given headers. sink labels metrics.
func (p *httpPoster) Post(ctx context.Context, sink, rawURL string, headers map[string]string, body []byte) error {
	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			// Check context before retrying.
			select {
			case <-ctx.Done():
				httpPostTotal.WithLabelValues(sink, "error").Inc()
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			default:
			}
			timer := time.NewTimer(time.Duration(attempt) * p.backoff)
			select {
			case <-timer.C:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				httpPostTotal.WithLabelValues(sink, "error").Inc()
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			}
			httpPostTotal.WithLabelValues(sink, "retry").Inc()
		}

		lastErr = p.doPost(ctx, sink, rawURL, headers, body)
		if lastErr == nil {
			return nil
		}

		// Only retry on transient errors (5xx, 429, connection issues).
		if !isRetryable(lastErr) {
			httpPostTotal.WithLabelValues(sink, "error").Inc()
			return lastErr
		}

		p.logger.Debug("HTTP post transient failure, will retry",
			zap.String("sink", sink),
			zap.String("url", RedactURL(rawURL)),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	httpPostTotal.WithLabelValues(sink, "error").Inc()
	return fmt.Errorf("%s post failed after %d attempts: %w", sink, maxRetries+1, lastErr)
}

// doPost executes a single HTTP POST request.
func (p *httpPoster) doPost(ctx context.Context, sink, rawURL string, headers map[string]string, body []byte) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return &postError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		httpPostDuration.WithLabelValues(sink, "error").Observe(duration)
		return &postError{err: err, retryable: true}
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		httpPostTotal.WithLabelValues(sink, "success").Inc()
		httpPostDuration.WithLabelValues(sink, "success").Observe(duration)
		return nil
	}

	httpPostDuration.WithLabelValues(sink, "error").Observe(duration)
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &postError{
		err:       fmt.Errorf("%s returned HTTP %d: %s", sink, resp.StatusCode, bytes.TrimSpace(snippet)),
		retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}

// postError wraps an error with a retryable flag.
type postError struct {
	err       error
	retryable bool
}

func (e *postError) Error() string { return e.err.Error() }
func (e *postError) Unwrap() error { return e.err }

// isRetryable returns true if the error is a transient failure worth retrying.
func isRetryable(err error) bool {
	var pe *postError
	if errors.As(err, &pe) {
		return pe.retryable
	}
	// Unknown errors (connection refused, DNS, etc.) are retryable.
	return true
}

// RedactURL masks credentials in a URL for safe logging.
// It redacts userinfo passwords and query parameter values.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	redacted := u.Redacted()
	if u.RawQuery == "" {
		return redacted
	}
	q := u.Query()
	for key := range q {
		q.Set(key, "REDACTED")
	}
	r, err := url.Parse(redacted)
	if err != nil {
		return redacted
	}
	r.RawQuery = q.Encode()
	return r.String()
}
