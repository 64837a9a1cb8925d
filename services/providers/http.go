package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DoJSON sends body (if non-nil) as JSON and returns the status code and raw response body.
// A non-nil error means the exchange itself failed, not that the status was non-2xx.
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// StatusError builds the ProviderError for a non-2xx vendor response.
// 429 and 5xx are retryable.
func StatusError(provider string, statusCode int, code, message string) *ProviderError {
	if code == "" {
		code = http.StatusText(statusCode)
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", statusCode)
	}
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests
	return NewProviderError(provider, code, message, statusCode, retryable, nil)
}
