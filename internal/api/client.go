package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/pipeline"
)

// FetchError is a failed round trip to the daemon: transport trouble or a
// non-2xx answer. The poller treats these as transient.
type FetchError struct {
	ID         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch status for %s: HTTP %d", e.ID, e.StatusCode)
	}
	return fmt.Sprintf("fetch status for %s: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Pipeline mirrors the server's pipeline document.
type Pipeline struct {
	ID        string          `json:"id"`
	FirmName  string          `json:"firm_name"`
	Status    pipeline.Status `json:"status"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (c *Client) Create(ctx context.Context, firmName string) (*Pipeline, error) {
	var out Pipeline
	err := c.do(ctx, http.MethodPost, "/api/pipelines", map[string]string{"firm_name": firmName}, &out)
	return &out, err
}

func (c *Client) List(ctx context.Context) ([]Pipeline, error) {
	var out struct {
		Pipelines []Pipeline `json:"pipelines"`
	}
	err := c.do(ctx, http.MethodGet, "/api/pipelines", nil, &out)
	return out.Pipelines, err
}

func (c *Client) Get(ctx context.Context, id string) (*Pipeline, error) {
	var out Pipeline
	err := c.do(ctx, http.MethodGet, "/api/pipelines/"+id, nil, &out)
	return &out, err
}

func (c *Client) Run(ctx context.Context, id, stage string) error {
	return c.do(ctx, http.MethodPost, "/api/pipelines/"+id+"/run", map[string]string{"stage": stage}, nil)
}

func (c *Client) Resume(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/pipelines/"+id+"/resume", struct{}{}, nil)
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/pipelines/"+id+"/cancel", struct{}{}, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/pipelines/"+id, nil, nil)
}

// Report fetches the latest report document for a pipeline.
func (c *Client) Report(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/pipelines/"+id+"/report", nil, &out)
	return out, err
}

// FetchStatus retrieves a pipeline's current status. Its signature matches
// pipeline.FetchFunc so a Poller can watch the daemon directly.
func (c *Client) FetchStatus(ctx context.Context, id string) (pipeline.StatusUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/pipelines/"+id+"/status", nil)
	if err != nil {
		return pipeline.StatusUpdate{}, &FetchError{ID: id, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return pipeline.StatusUpdate{}, &FetchError{ID: id, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.StatusUpdate{}, &FetchError{ID: id, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return pipeline.StatusUpdate{}, &FetchError{ID: id, StatusCode: resp.StatusCode}
	}

	var doc struct {
		Status pipeline.Status `json:"status"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return pipeline.StatusUpdate{}, &FetchError{ID: id, Err: err}
	}
	return pipeline.StatusUpdate{Status: doc.Status, Payload: body}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
