// Package client talks to a running arbor server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arbor/internal/errors"
	"arbor/shared/types"

	"github.com/gorilla/websocket"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// do sends body as JSON and decodes the response into out. Error responses
// come back as *errors.Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errors.Error
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
			return fmt.Errorf("unexpected status: %s", resp.Status)
		}
		if e.Code == 0 {
			e.Code = resp.StatusCode
		}
		return &e
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) Tree(ctx context.Context, path string, depth int) (*types.Node, error) {
	var node types.Node
	q := url.Values{"path": {path}, "depth": {strconv.Itoa(depth)}}
	if err := c.do(ctx, http.MethodGet, "/api/elements", q, nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *Client) Status(ctx context.Context) (*types.Status, error) {
	var st types.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Diff returns the diff of path, or of every changed file when path is
// empty.
func (c *Client) Diff(ctx context.Context, path string) ([]types.FileDiff, error) {
	var q url.Values
	if path != "" {
		q = url.Values{"path": {path}}
	}
	var out []types.FileDiff
	if err := c.do(ctx, http.MethodGet, "/api/diff", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Cache(ctx context.Context) (*types.CacheStats, error) {
	var st types.CacheStats
	if err := c.do(ctx, http.MethodGet, "/api/cache", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Checkpoint(ctx context.Context, message string) (*types.CheckpointSummary, error) {
	var cp types.CheckpointSummary
	if err := c.do(ctx, http.MethodPost, "/api/checkpoints", nil, types.CheckpointRequest{Message: message}, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *Client) WorkingCopies(ctx context.Context) ([]types.WorkingCopy, error) {
	var out []types.WorkingCopy
	if err := c.do(ctx, http.MethodGet, "/api/working-copies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenWorkingCopy(ctx context.Context, path string, contents *string) (*types.WorkingCopy, error) {
	var wc types.WorkingCopy
	req := types.WorkingCopyRequest{Path: path, Contents: contents}
	if err := c.do(ctx, http.MethodPost, "/api/working-copies", nil, req, &wc); err != nil {
		return nil, err
	}
	return &wc, nil
}

func (c *Client) UpdateWorkingCopy(ctx context.Context, path, contents string) (*types.ReconcileResult, error) {
	var res types.ReconcileResult
	req := types.WorkingCopyRequest{Path: path, Contents: &contents}
	if err := c.do(ctx, http.MethodPut, "/api/working-copies", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CloseWorkingCopy(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/working-copies", url.Values{"path": {path}}, nil, nil)
}

// Events calls fn for every event the server streams until ctx is done, fn
// returns false, or the connection fails.
func (c *Client) Events(ctx context.Context, fn func(types.Event) bool) error {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !fn(ev) {
			return nil
		}
	}
}
