package tunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// DefaultAgentURL is where the ngrok agent exposes its local inspection API.
const DefaultAgentURL = "http://127.0.0.1:4040"

// Introspector reports the externally reachable URL of this process, if a
// tunnel is currently running.
type Introspector interface {
	// PublicURL returns the tunnel's public URL. ok is false when no tunnel is
	// running or the agent is unreachable; neither is an error condition.
	PublicURL(ctx context.Context) (url string, ok bool)
}

// Client queries a local tunnel agent's inspection endpoint.
type Client struct {
	agentURL string
	http     *http.Client
}

// NewClient creates a Client for the given agent URL, falling back to the
// default local agent address.
func NewClient(agentURL string) *Client {
	if agentURL == "" {
		agentURL = DefaultAgentURL
	}
	return &Client{
		agentURL: strings.TrimSuffix(agentURL, "/"),
		http:     &http.Client{Timeout: 2 * time.Second},
	}
}

type tunnelList struct {
	Tunnels []struct {
		Proto     string `json:"proto"`
		PublicURL string `json:"public_url"`
	} `json:"tunnels"`
}

// PublicURL implements Introspector. HTTPS tunnels are preferred when the
// agent exposes several.
func (c *Client) PublicURL(ctx context.Context) (string, bool) {
	if c == nil {
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.agentURL+"/api/tunnels", nil)
	if err != nil {
		return "", false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Agent not running: the process is simply not tunnelled.
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var list tunnelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", false
	}
	if len(list.Tunnels) == 0 {
		return "", false
	}

	for _, t := range list.Tunnels {
		if t.Proto == "https" && t.PublicURL != "" {
			return t.PublicURL, true
		}
	}
	if list.Tunnels[0].PublicURL != "" {
		return list.Tunnels[0].PublicURL, true
	}
	return "", false
}

// Static is an Introspector pinned to a fixed URL, used when the callback
// address is configured explicitly instead of discovered from a tunnel.
type Static string

// PublicURL implements Introspector.
func (s Static) PublicURL(context.Context) (string, bool) {
	if s == "" {
		return "", false
	}
	return string(s), true
}

var _ Introspector = (*Client)(nil)
