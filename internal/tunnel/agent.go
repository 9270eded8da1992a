package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoTunnels means the agent answered but has no public URL yet.
var ErrNoTunnels = errors.New("agent reports no tunnels")

const agentRequestTimeout = 2 * time.Second

// AgentClient reads tunnel state from the local ngrok agent API.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type agentTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
}

type agentTunnels struct {
	Tunnels []agentTunnel `json:"tunnels"`
}

// NewAgentClient creates a client for the agent API at baseURL
// (usually http://127.0.0.1:4040).
func NewAgentClient(baseURL string, logger *zap.Logger) *AgentClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: agentRequestTimeout},
		logger:     logger,
	}
}

// PublicURL returns the public URL of the first tunnel, preferring https.
func (c *AgentClient) PublicURL(ctx context.Context) (string, error) {
	url := c.baseURL + "/api/tunnels"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build agent request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach tunnel agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Tunnel agent returned non-200 status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", url))
		return "", fmt.Errorf("tunnel agent returned status %d", resp.StatusCode)
	}

	var body agentTunnels
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode tunnel list: %w", err)
	}

	var fallback string
	for _, t := range body.Tunnels {
		if t.PublicURL == "" {
			continue
		}
		if t.Proto == "https" || strings.HasPrefix(t.PublicURL, "https://") {
			return t.PublicURL, nil
		}
		if fallback == "" {
			fallback = t.PublicURL
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNoTunnels
}
