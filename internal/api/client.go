package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrServerError       = errors.New("resolve endpoint returned an error status")
	ErrTransport         = errors.New("resolve request failed")
	ErrMalformedResponse = errors.New("resolve endpoint returned malformed JSON")
)

// maxErrorBody bounds how much of a non-2xx body is kept for reporting.
const maxErrorBody = 64 << 10

// ServerError is returned for any non-2xx status. It matches ErrServerError
// under errors.Is.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: status %d", ErrServerError, e.Status)
	}
	return fmt.Sprintf("%v: status %d: %s", ErrServerError, e.Status, e.Body)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServerError
}

type resolveRequest struct {
	URL string `json:"url"`
}

// Client performs single resolve calls against the download endpoint.
// Retry and timeout policy belong to the caller.
type Client struct {
	Endpoint   string
	HttpClient *http.Client
}

// NewClient creates a new API client. The http.Client should not carry its
// own timeout; attempts are bounded through the request context.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		Endpoint:   endpoint,
		HttpClient: httpClient,
	}
}

// Resolve posts sourceURL to the endpoint and decodes the result.
// A 2xx body without downloadUrl is returned as-is; deciding what that means
// is up to the caller.
func (c *Client) Resolve(ctx context.Context, sourceURL string) (models.RemoteResult, error) {
	payload, err := json.Marshal(resolveRequest{URL: sourceURL})
	if err != nil {
		return models.RemoteResult{}, fmt.Errorf("error encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.RemoteResult{}, fmt.Errorf("%w: creating request for %s: %w", ErrTransport, c.Endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	log.WithField("endpoint", c.Endpoint).Debugf("Resolving %s", sourceURL)
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return models.RemoteResult{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			log.WithError(readErr).Warn("Failed to read error body from resolve endpoint")
		}
		log.WithField("status", resp.StatusCode).Debugf("Resolve endpoint error body: %s", string(body))
		return models.RemoteResult{}, &ServerError{Status: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.RemoteResult{}, fmt.Errorf("%w: reading response body: %w", ErrTransport, err)
	}

	var result models.RemoteResult
	if err := json.Unmarshal(body, &result); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return models.RemoteResult{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return result, nil
}
