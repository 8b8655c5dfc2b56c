package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	createTimeout = 30 * time.Second
	fetchTimeout  = 15 * time.Second
	maxBodyBytes  = 1 << 20
)

// doJSON sends a request and decodes a 2xx JSON answer into out. Failures are
// classified into the package sentinels; the provider body is only logged.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", provider, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Warnf("[Gateway] %s %s %s failed: %v", provider, method, url, err)
		return fmt.Errorf("%w: %s transport error", ErrIndeterminate, provider)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %s read response: %v", ErrIndeterminate, provider, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s status=%d", ErrOrderNotFound, provider, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		log.Warnf("[Gateway] %s %s status=%d body=%s", provider, method, resp.StatusCode, string(respBody))
		return fmt.Errorf("%w: %s status=%d", ErrIndeterminate, provider, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log.Warnf("[Gateway] %s %s status=%d body=%s", provider, method, resp.StatusCode, string(respBody))
		return fmt.Errorf("%w: %s status=%d", ErrRequestRejected, provider, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		// A 2xx we cannot read says nothing about the payment.
		return fmt.Errorf("%w: decode %s response: %v", ErrIndeterminate, provider, err)
	}
	return nil
}

// IsIndeterminate reports whether err leaves the payment state unknown.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrIndeterminate) || errors.Is(err, context.DeadlineExceeded)
}
