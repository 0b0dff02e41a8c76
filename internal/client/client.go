package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/fleet"
	"github.com/muurk/otafleet/internal/logging"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default delay between retry attempts
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 5 * time.Second

	// uploadTimeout replaces DefaultTimeout for firmware uploads.
	uploadTimeout = 5 * time.Minute
)

// Client calls the operator API of one OTA server.
type Client struct {
	// BaseURL is the server URL (e.g., "http://192.168.1.10:8080")
	BaseURL string

	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for retryable errors
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff
	MaxRetryDelay time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// SetTimeout sets the HTTP request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetRetry configures retry behavior.
func (c *Client) SetRetry(maxRetries int, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// Snapshot fetches the current fleet view.
func (c *Client) Snapshot(ctx context.Context) (*api.SnapshotResponse, error) {
	var snap api.SnapshotResponse
	if err := c.do(ctx, http.MethodGet, "/api/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Approve authorizes the device with mac to download firmware.
func (c *Client) Approve(ctx context.Context, mac string) (*api.ActionResponse, error) {
	return c.Act(ctx, mac, fleet.ActionApprove)
}

// Deny refuses the device with mac.
func (c *Client) Deny(ctx context.Context, mac string) (*api.ActionResponse, error) {
	return c.Act(ctx, mac, fleet.ActionDeny)
}

// Act applies action to the device with mac. A server rejection is returned
// as an APIError of type ErrTypeRejected carrying the reason.
func (c *Client) Act(ctx context.Context, mac string, action fleet.Action) (*api.ActionResponse, error) {
	var res api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/action", api.ActionRequest{MAC: mac, Action: string(action)}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SetVersion changes the firmware version advertised to devices.
func (c *Client) SetVersion(ctx context.Context, version string) (*api.SetVersionResponse, error) {
	var res api.SetVersionResponse
	if err := c.do(ctx, http.MethodPost, "/api/set-version", api.SetVersionRequest{Version: version}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Upload sends the image at path to the server, making it current. version
// may be empty to derive it from the file name.
func (c *Client) Upload(ctx context.Context, path, version string) (*api.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open firmware: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read firmware: %w", err)
	}
	if version != "" {
		if err := mw.WriteField("version", version); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/upload-firmware", &body)
	if err != nil {
		return nil, ClassifyNetworkError(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	hc := *c.HTTPClient
	hc.Timeout = uploadTimeout
	resp, err := hc.Do(req)
	if err != nil {
		return nil, ClassifyNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var res api.UploadResponse
	if err := decodeResponse(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// do sends one JSON request, retrying retryable failures with exponential
// backoff. out receives the decoded 2xx body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = data
	}

	var lastErr error
	delay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ClassifyNetworkError(ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.MaxRetryDelay {
				delay = c.MaxRetryDelay
			}
		}

		err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		logging.Debug("Retrying API request",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return ClassifyNetworkError(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ClassifyNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeResponse(resp, out)
}

// decodeResponse decodes a 2xx body into out. 4xx bodies carrying a reason
// become rejections.
func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClassifyNetworkError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return newParseError("invalid response body", err)
		}
		return nil
	}

	var body struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	_ = json.Unmarshal(data, &body)
	reason := body.Reason
	if reason == "" {
		reason = body.Error
	}

	if resp.StatusCode < 500 && reason != "" {
		return newRejectedError(resp.StatusCode, reason)
	}
	msg := fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	if reason != "" {
		msg += ": " + reason
	}
	return newHTTPError(resp.StatusCode, msg)
}
