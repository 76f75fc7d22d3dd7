package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds a single POST attempt.
	DefaultTimeout = 3 * time.Second
	// DefaultInitialBackoff is the pause after the first failed attempt; it
	// doubles after every further failure.
	DefaultInitialBackoff = 100 * time.Millisecond
)

// EndBlockUpdate is the body of POST /config.
type EndBlockUpdate struct {
	EndBlockNum   uint64 `json:"end_block_num"`
	IntegrityHash string `json:"integrity_hash"`
	SpringVersion string `json:"spring_version"`
}

// ConfigResponse is the body returned with a 200 from POST /config.
type ConfigResponse struct {
	SliceID int    `json:"sliceid"`
	Message string `json:"message"`
}

// Result is the outcome of ReportEndBlock. StatusCode is zero when no attempt
// got an HTTP response. SliceID and Message are only set on a 200.
type Result struct {
	StatusCode int
	SliceID    int
	Message    string
}

// Client reports slice completion to the orchestration service.
type Client struct {
	httpClient     *http.Client
	timeout        time.Duration
	initialBackoff time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithInitialBackoff sets the first retry pause.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.initialBackoff = d }
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient:     http.DefaultClient,
		timeout:        DefaultTimeout,
		initialBackoff: DefaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReportEndBlock posts the integrity hash computed for the slice ending at
// endBlockNum to {endpoint}/config.
//
// Up to maxTries attempts are made. A 200 ends the loop with the parsed
// response. A 4xx is not retried. Anything else, transport errors and 5xx
// included, is retried after a pause of 100ms, 200ms, 400ms and so on. HTTP
// outcomes are reported through Result; the error is only set when the
// request cannot be built or ctx is done.
func (c *Client) ReportEndBlock(ctx context.Context, endpoint string, maxTries int, endBlockNum uint64, integrityHash, version string) (Result, error) {
	if maxTries < 1 {
		maxTries = 1
	}

	body, err := json.Marshal(EndBlockUpdate{
		EndBlockNum:   endBlockNum,
		IntegrityHash: integrityHash,
		SpringVersion: version,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal end block update: %w", err)
	}
	url := strings.TrimRight(endpoint, "/") + "/config"
	if _, err := neturl.ParseRequestURI(url); err != nil {
		return Result{}, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	var result Result
	backoff := c.initialBackoff
	for attempt := 1; attempt <= maxTries; attempt++ {
		code, payload, err := c.post(ctx, url, body)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if code != 0 {
				result.StatusCode = code
			}
			logrus.Warnf("update end block %d failed (attempt %d/%d): %v", endBlockNum, attempt, maxTries, err)
		case code == http.StatusOK:
			result.StatusCode = code
			var resp ConfigResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				logrus.Warnf("update end block %d: unreadable response body: %v", endBlockNum, err)
				return result, nil
			}
			result.SliceID = resp.SliceID
			result.Message = resp.Message
			return result, nil
		case code >= 400 && code < 500:
			logrus.Warnf("update end block %d failed with code %d, not retrying", endBlockNum, code)
			return Result{StatusCode: code}, nil
		default:
			result.StatusCode = code
			logrus.Warnf("update end block %d got status %d (attempt %d/%d)", endBlockNum, code, attempt, maxTries)
		}

		if attempt < maxTries {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return result, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, payload, nil
}
