// Package api is the HTTP client for the job-action, approval and collection
// endpoints of the ride/hire backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/driver-console-sync/internal/apperr"
)

const defaultHTTPTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
// 409 and 422 mean the server refused the state change and map to
// InvalidTransition; any other failure is a NetworkFailure.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return apperr.Network(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Network(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(resp.Body)
		switch resp.StatusCode {
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return apperr.InvalidTransition(op, "server refused: %s", msg)
		}
		return apperr.Network(op, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return apperr.Network(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func serverMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(b))
}

// listItems returns the array of a collection response. The backend sends
// either a bare array or an object wrapping it under one of keys.
func listItems(raw json.RawMessage, keys ...string) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, k := range append(keys, "data", "items", "results") {
		v := bytes.TrimSpace(m[k])
		if len(v) > 0 && v[0] == '[' {
			if err := json.Unmarshal(v, &items); err != nil {
				return nil, err
			}
			return items, nil
		}
	}
	return nil, nil
}
