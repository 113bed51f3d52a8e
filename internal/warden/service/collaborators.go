package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

// OutputController switches a relay output channel. Implementations may
// retry internally; callers log failures and carry on.
type OutputController interface {
	Set(ctx context.Context, channel int, on bool) error
}

// DoorOpener releases the door strike.
type DoorOpener interface {
	Open(ctx context.Context) error
}

// RemoteAuthorizer asks the authorization service whether a scanned code
// may enter.
type RemoteAuthorizer interface {
	Check(ctx context.Context, code string) (types.AuthResult, error)
}

// AuditSink records bookmarked events. Record must not block.
type AuditSink interface {
	Record(ev types.AuditEvent)
}

const persistTimeout = 5 * time.Second

// persistContext detaches a state write from the caller's cancellation. Once
// an event is accepted it is stored even if the client hangs up.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
