package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const retryBackoffStep = 200 * time.Millisecond

// HTTPClientOrDefault returns client when non-nil, otherwise a fresh client
// with the given timeout (five seconds when unset). Sinks share this so
// injected test clients always win over config timeouts.
func HTTPClientOrDefault(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// PostJSON posts a JSON document to url and reports non-2xx responses as
// errors carrying the response status and body. The body is always consumed
// and closed so the transport can reuse the connection. label names the
// destination in error messages, e.g. "slack webhook".
func PostJSON(ctx context.Context, client *http.Client, url, label string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", label, err)
	}

	respBody, err := consumeBody(resp)
	if err != nil {
		return fmt.Errorf("%s response: %w", label, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", label, resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func consumeBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read body: %w", err)
	}
	if cerr := resp.Body.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close body: %w", cerr))
	}
	return body, err
}

// SendWithRetries invokes send until it succeeds or the retry budget is
// spent, waiting linearly longer between attempts. retryLimit counts the
// retries after the first try; cancellation interrupts the wait and returns
// the context error instead of the last send failure.
func SendWithRetries(ctx context.Context, retryLimit int, send func(context.Context) error) error {
	attempts := max(retryLimit, 0) + 1
	var lastErr error
	for attempt := range attempts {
		err := send(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(time.Duration(attempt+1) * retryBackoffStep)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
