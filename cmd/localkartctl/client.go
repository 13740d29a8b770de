package main

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

	"github.com/nashiklocalkart/localkart/engine/assistant"
	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/engine/snapshot"
)

// userIDHeader carries the acting admin, matching the API server.
const userIDHeader = "X-User-ID"

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// client talks to the LocalKart REST API.
type client struct {
	base  string
	actor int
	http  *http.Client
}

func newClient(base string, actor int, timeout time.Duration) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		actor: actor,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor > 0 {
		req.Header.Set(userIDHeader, strconv.Itoa(c.actor))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *client) ListVendors(ctx context.Context, q url.Values) ([]domain.Vendor, error) {
	var out []domain.Vendor
	path := "/api/vendors"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *client) PendingVendors(ctx context.Context) ([]domain.Vendor, error) {
	var out []domain.Vendor
	err := c.do(ctx, http.MethodGet, "/api/admin/vendors?status="+string(domain.StatusPending), nil, &out)
	return out, err
}

func (c *client) SetVendorStatus(ctx context.Context, id int, status domain.VendorStatus) (domain.Vendor, error) {
	var out domain.Vendor
	in := map[string]string{"status": string(status)}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/admin/vendors/%d/status", id), in, &out)
	return out, err
}

func (c *client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := c.do(ctx, http.MethodGet, "/api/users", nil, &out)
	return out, err
}

func (c *client) Snapshot(ctx context.Context) (snapshot.ObjectInfo, error) {
	var out snapshot.ObjectInfo
	err := c.do(ctx, http.MethodPost, "/api/admin/snapshot", nil, &out)
	return out, err
}

type chatRequest struct {
	Prompt   string                 `json:"prompt"`
	History  []assistant.Message    `json:"history"`
	Location *assistant.Coordinates `json:"location,omitempty"`
}

func (c *client) Chat(ctx context.Context, prompt string, loc *assistant.Coordinates) (assistant.Reply, error) {
	var out assistant.Reply
	in := chatRequest{Prompt: prompt, History: []assistant.Message{}, Location: loc}
	err := c.do(ctx, http.MethodPost, "/api/chat", in, &out)
	return out, err
}
