package device

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

var ErrNotConfigured = errors.New("authorization service not configured")

// NoopRelay logs output changes instead of switching anything.
type NoopRelay struct{ Logger zerolog.Logger }

func (n NoopRelay) Set(_ context.Context, channel int, on bool) error {
	n.Logger.Debug().Int("channel", channel).Bool("on", on).Msg("relay not configured, skipping")
	return nil
}

// NoopDoor logs door releases instead of switching anything.
type NoopDoor struct{ Logger zerolog.Logger }

func (n NoopDoor) Open(context.Context) error {
	n.Logger.Info().Msg("door strike not configured, skipping")
	return nil
}

// NoopAuthorizer fails every check, which leaves scans pending and then
// falls back to noAccess.
type NoopAuthorizer struct{}

func (NoopAuthorizer) Check(context.Context, string) (types.AuthResult, error) {
	return types.AuthResult{}, ErrNotConfigured
}
