package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/BrandonDHaskell/Portunus/warden/internal/health"
)

type stubTicker struct{ last time.Time }

func (s stubTicker) LastTick() time.Time     { return s.last }
func (s stubTicker) Interval() time.Duration { return time.Second }

func TestCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		last time.Time
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{"never ticked", time.Time{}, healthpb.HealthCheckResponse_NOT_SERVING},
		{"recent tick", now.Add(-2 * time.Second), healthpb.HealthCheckResponse_SERVING},
		{"stalled", now.Add(-10 * time.Second), healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := health.NewServer(stubTicker{last: tc.last}, zerolog.Nop())
			s.SetNow(func() time.Time { return now })

			resp, err := s.Check(context.Background(), &healthpb.HealthCheckRequest{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.GetStatus())

			resp, err = s.Check(context.Background(), &healthpb.HealthCheckRequest{Service: health.ServiceName})
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.GetStatus())
		})
	}
}

func TestCheck_UnknownService(t *testing.T) {
	s := health.NewServer(stubTicker{}, zerolog.Nop())
	_, err := s.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "other"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
