package device

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// DoorStrike releases the door with an HTTP PUT to its URL.
type DoorStrike struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewDoorStrike(url string, client *http.Client, logger zerolog.Logger) *DoorStrike {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &DoorStrike{url: url, client: client, logger: logger}
}

func (d *DoorStrike) Open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.url, nil)
	if err != nil {
		return fmt.Errorf("build door request: %w", err)
	}
	if err := do(d.client, req); err != nil {
		return fmt.Errorf("open door: %w", err)
	}
	d.logger.Info().Msg("door strike released")
	return nil
}
