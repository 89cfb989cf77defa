package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xxxsen/metasearch/internal/model"
)

// Client pages entities out of the catalog's REST API. The catalog owns the
// entities; this client only reads the searchable surface.
type Client struct {
	base string
	cli  *http.Client
}

func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("catalog addr not set")
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		cli:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type listResponse struct {
	Data   []*model.Entity `json:"data"`
	Cursor string          `json:"cursor"`
}

func (c *Client) ListEntities(ctx context.Context, entityType string, cursor string, limit int) ([]*model.Entity, string, error) {
	q := url.Values{}
	q.Set("type", entityType)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.base + "/api/v1/entities?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	rsp, err := c.cli.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("list entities: %w", err)
	}
	defer rsp.Body.Close()
	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, "", err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("list entities: status %d: %s", rsp.StatusCode, string(raw))
	}
	var out listResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, "", fmt.Errorf("decode entity list: %w", err)
	}
	return out.Data, out.Cursor, nil
}
