// ABOUTME: Typed HTTP client for the OwnTone outputs API
// ABOUTME: Maps list/volume/selection calls; retry policy belongs to callers
package owntone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

const requestTimeout = 5 * time.Second

// UpstreamError reports a failed call against the OwnTone API, either
// a transport failure or a non-2xx response.
type UpstreamError struct {
	Op     string
	Status int // 0 when the request never completed
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("owntone: %s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("owntone: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client issues requests against an OwnTone /api base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL, for example
// "http://127.0.0.1:3689/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Close releases idle upstream connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

type outputsResponse struct {
	Outputs []model.Output `json:"outputs"`
}

// ListOutputs fetches the current output list. Derived default
// annotations are left zero; callers attach them from the store.
func (c *Client) ListOutputs(ctx context.Context) ([]model.Output, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/outputs", nil)
	if err != nil {
		return nil, &UpstreamError{Op: "list outputs", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "list outputs", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{Op: "list outputs", Status: resp.StatusCode}
	}

	var parsed outputsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &UpstreamError{Op: "list outputs", Err: err}
	}
	return parsed.Outputs, nil
}

// SetVolume sets one output's volume, clamped to 0-100.
func (c *Client) SetVolume(ctx context.Context, id, volume int) error {
	return c.putOutput(ctx, "set volume", id, map[string]any{"volume": model.Clamp(volume)})
}

// SetSelected routes audio to or away from one output.
func (c *Client) SetSelected(ctx context.Context, id int, selected bool) error {
	return c.putOutput(ctx, "set selected", id, map[string]any{"selected": selected})
}

func (c *Client) putOutput(ctx context.Context, op string, id int, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}

	url := fmt.Sprintf("%s/outputs/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: op, Status: resp.StatusCode}
	}
	return nil
}
