// Package device holds the HTTP clients for the hardware and services the
// warden drives: the relay controller, the door strike and the remote
// authorization service.
package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 5 * time.Second

// RelayClient switches output channels on a relay controller over its HTTP
// API: GET {base}/relay/{ch}?turn=on|off.
type RelayClient struct {
	base   string
	client *http.Client
	logger zerolog.Logger
}

func NewRelayClient(baseURL string, client *http.Client, logger zerolog.Logger) *RelayClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &RelayClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		logger: logger,
	}
}

func (c *RelayClient) Set(ctx context.Context, channel int, on bool) error {
	turn := "off"
	if on {
		turn = "on"
	}
	url := fmt.Sprintf("%s/relay/%d?turn=%s", c.base, channel, turn)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	if err := do(c.client, req); err != nil {
		return fmt.Errorf("relay %d %s: %w", channel, turn, err)
	}
	c.logger.Debug().Int("channel", channel).Str("turn", turn).Msg("relay switched")
	return nil
}

// do sends req and treats any non-2xx answer as an error. The body is
// drained so the connection can be reused.
func do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
