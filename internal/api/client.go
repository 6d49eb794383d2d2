// Package api is a small HTTP client for the relay's status routes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// ErrUnknownSession is returned by Session when the relay has no peers in it.
var ErrUnknownSession = errors.New("unknown session")

// Health is the relay's /health response.
type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// SessionInfo is the relay's view of one session.
type SessionInfo struct {
	Session     string         `json:"session"`
	Coordinator core.ActorID   `json:"coordinator"`
	Peers       []core.ActorID `json:"peers"`
}

// Client handles communication with the relay's HTTP routes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FromRelayURL derives the HTTP base URL from the websocket URL peers dial:
// ws becomes http, wss becomes https and the path is dropped.
func FromRelayURL(relayURL string) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return New(u.String()), nil
}

// Healthcheck checks that the relay is reachable.
func (c *Client) Healthcheck() (Health, error) {
	var h Health
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return h, fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decoding healthcheck: %w", err)
	}
	return h, nil
}

// Session asks the relay who is in a session.
func (c *Client) Session(name string) (SessionInfo, error) {
	var info SessionInfo
	resp, err := c.httpClient.Get(c.baseURL + "/sessions/" + url.PathEscape(name))
	if err != nil {
		return info, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return info, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	default:
		return info, fmt.Errorf("session request returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("decoding session: %w", err)
	}
	return info, nil
}
