package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/soyeahso/fleetd/internal/dispatch"
)

// Client is a small HTTP client for the fleetd gateway, used by the CLI.
type Client struct {
	baseURL string
	session string
	http    *http.Client
}

// NewClient creates a gateway client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Login establishes a command session and remembers it for later calls.
func (c *Client) Login(ctx context.Context, credential string) error {
	res, err := c.Do(ctx, "LOGIN "+credential)
	if err != nil {
		return err
	}
	if res.SessionID == "" {
		return fmt.Errorf("login succeeded but no session id returned")
	}
	c.session = res.SessionID
	return nil
}

// Do executes one command line against the gateway.
func (c *Client) Do(ctx context.Context, command string) (dispatch.Result, error) {
	body, err := json.Marshal(CommandRequest{Session: c.session, Command: command})
	if err != nil {
		return dispatch.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/command", bytes.NewReader(body))
	if err != nil {
		return dispatch.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return dispatch.Result{}, fmt.Errorf("gateway: %s", errResp.Error)
		}
		return dispatch.Result{}, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var res dispatch.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return dispatch.Result{}, fmt.Errorf("decoding gateway response: %w", err)
	}
	return res, nil
}

// Health checks the gateway's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
