// Package ctl implements the marcutctl command line client for the marcutd
// control API.
package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marcutd/pkg/types"
)

// Client talks to a marcutd control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 0}}
}

// Status fetches the supervisor snapshot.
func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	err := c.getJSON(ctx, "/status", &out)
	return out, err
}

// Models lists the daemon's discovered models.
func (c *Client) Models(ctx context.Context) ([]types.ModelInfo, error) {
	var out types.ModelsResponse
	if err := c.getJSON(ctx, "/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Ensure brings the service up, optionally with a model present.
func (c *Client) Ensure(ctx context.Context, model string, force bool) (types.StatusResponse, error) {
	var out types.StatusResponse
	err := c.postJSON(ctx, "/ensure", types.EnsureRequest{Model: model, Force: force}, &out)
	return out, err
}

// Pull downloads a model, delivering progress lines to fn.
func (c *Client) Pull(ctx context.Context, model string, fn func(types.ProgressUpdate)) error {
	return c.stream(ctx, "/pull", types.PullRequest{Model: model}, fn)
}

// RunJob runs a redaction job, delivering progress lines to fn.
func (c *Client) RunJob(ctx context.Context, req types.JobRequest, fn func(types.ProgressUpdate)) error {
	return c.stream(ctx, "/jobs", req, fn)
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) postJSON(ctx context.Context, path string, body, dst any) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// stream posts a request and consumes the NDJSON progress response line by
// line. A terminal {"status":"error"} line becomes the returned error.
func (c *Client) stream(ctx context.Context, path string, body any, fn func(types.ProgressUpdate)) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var terminal struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(line, &terminal); err == nil && terminal.Status != "" {
			if terminal.Status == "error" {
				return fmt.Errorf("%s", terminal.Error)
			}
			return nil
		}
		var u types.ProgressUpdate
		if err := json.Unmarshal(line, &u); err == nil && fn != nil {
			fn(u)
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er types.ErrorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error != "" {
		return fmt.Errorf("%s", er.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
