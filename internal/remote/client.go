// Package remote is the HTTP client for the StampCircle backend API.
// All outbound sync and reconciliation traffic goes through it; it owns
// the request timeout and the circuit breaker that keeps a flapping
// backend from hammering the daemon with doomed calls.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Caller is the surface the sync engine and reconciler depend on.
// *Client implements it; tests substitute fakes.
type Caller interface {
	Create(ctx context.Context, endpoint string, payload any) (json.RawMessage, error)
	Update(ctx context.Context, endpoint string, id int64, payload any) (json.RawMessage, error)
	Delete(ctx context.Context, endpoint string, id int64) error
	List(ctx context.Context, endpoint string, filter map[string]string) ([]json.RawMessage, error)
	Call(ctx context.Context, proc string, args any) (json.RawMessage, error)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "stampcircle-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Permanent rejections are the caller's problem, not a
			// sign the backend is down.
			return err == nil || IsPermanent(err)
		},
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Create POSTs payload to endpoint and returns the canonical record the
// server produced. An Idempotency-Key header makes blind retries after
// an ambiguous failure safe.
func (c *Client) Create(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, endpoint, payload, uuid.NewString())
}

// Update PATCHes the identified record and returns the merged result.
func (c *Client) Update(ctx context.Context, endpoint string, id int64, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, endpoint+"/"+strconv.FormatInt(id, 10), payload, "")
}

// Delete removes the identified record server-side. A 404 is permanent
// and surfaces to the caller, which treats it as already gone.
func (c *Client) Delete(ctx context.Context, endpoint string, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, endpoint+"/"+strconv.FormatInt(id, 10), nil, "")
	return err
}

// List GETs endpoint with filter as query parameters and returns the
// raw records for the reconciler to decode per kind.
func (c *Client) List(ctx context.Context, endpoint string, filter map[string]string) ([]json.RawMessage, error) {
	path := endpoint
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return records, nil
}

// Call invokes a server-side procedure that has no single-record REST
// shape, e.g. conversation creation or content reports.
func (c *Client) Call(ctx context.Context, proc string, args any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/rpc/"+proc, args, uuid.NewString())
}

func (c *Client) do(ctx context.Context, method, path string, payload any, idemKey string) (json.RawMessage, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		var body io.Reader
		if payload != nil {
			buf, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			body = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		// Cap error bodies; success bodies are single records or pages.
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
		}
		return json.RawMessage(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return res.(json.RawMessage), nil
}
