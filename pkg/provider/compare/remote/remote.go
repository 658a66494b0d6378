// Package remote provides a Comparer that delegates alignment to a remote
// comparison service over HTTP.
//
// The service accepts POST {baseURL}/api/compare with a JSON body
// {"recognizedText": ..., "referenceText": ...} and answers with the
// AlignmentResult JSON. paath itself serves this endpoint, so one instance
// can act as the comparison backend of another.
//
// Usage:
//
//	c, err := remote.New("http://compare.internal:8080",
//	    remote.WithTimeout(2*time.Second),
//	)
//	res, err := c.Compare(ctx, transcript, reference)
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/types"
)

const (
	// ComparePath is the endpoint path of the comparison service.
	ComparePath = "/api/compare"

	defaultTimeout = 5 * time.Second

	// maxResponseBytes bounds how much of an upstream response is read.
	maxResponseBytes = 4 << 20
)

var _ compare.Comparer = (*Comparer)(nil)

// Option is a functional option for configuring a Comparer.
type Option func(*Comparer)

// WithTimeout sets the per-request timeout of the default HTTP client.
// Defaults to 5 s. Ignored when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *Comparer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Comparer) {
		c.httpClient = hc
	}
}

// Comparer implements compare.Comparer against a remote comparison service.
type Comparer struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Comparer for the service at baseURL (e.g.
// "http://localhost:8080"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Comparer, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	c := &Comparer{
		endpoint: strings.TrimRight(baseURL, "/") + ComparePath,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Compare implements [compare.Comparer].
func (c *Comparer) Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error) {
	body, err := json.Marshal(types.CompareRequest{
		RecognizedText: recognized,
		ReferenceText:  reference,
	})
	if err != nil {
		return types.AlignmentResult{}, fmt.Errorf("remote: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.AlignmentResult{}, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.AlignmentResult{}, fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.AlignmentResult{}, fmt.Errorf("remote: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.AlignmentResult{}, fmt.Errorf("remote: read response body: %w", err)
	}

	res := types.NewAlignmentResult()
	if err := json.Unmarshal(data, &res); err != nil {
		return types.AlignmentResult{}, fmt.Errorf("remote: parse JSON response: %w", err)
	}
	// A service that omits a field must not leave nil slices behind.
	if res.Words == nil {
		res.Words = []types.AlignedWord{}
	}
	if res.Errors == nil {
		res.Errors = []types.AlignmentError{}
	}
	if res.Warnings == nil {
		res.Warnings = []types.Warning{}
	}
	if res.Feedback == nil {
		res.Feedback = []types.FeedbackItem{}
	}
	return res, nil
}

// Endpoint returns the full URL requests are sent to.
func (c *Comparer) Endpoint() string { return c.endpoint }
