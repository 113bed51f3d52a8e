package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/service"
)

func TestDispatcher_RunsJobs(t *testing.T) {
	d := newDispatcher()
	defer d.Close()

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		assert.True(t, d.Go("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	d.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestDispatcher_WaitCoversNestedJobs(t *testing.T) {
	d := newDispatcher()
	defer d.Close()

	var inner atomic.Bool
	d.Go("outer", func(context.Context) error {
		d.Go("inner", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			inner.Store(true)
			return nil
		})
		return nil
	})
	d.Wait()
	assert.True(t, inner.Load())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := service.NewDispatcher(service.DispatcherConfig{Workers: 1, QueueSize: 1}, zerolog.Nop())
	defer d.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	assert.True(t, d.Go("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.True(t, d.Go("queued", func(context.Context) error { return nil }))
	assert.False(t, d.Go("dropped", func(context.Context) error { return nil }))
	close(release)
}

func TestDispatcher_SurvivesFailuresAndPanics(t *testing.T) {
	d := newDispatcher()
	defer d.Close()

	d.Go("fails", func(context.Context) error { return errors.New("relay offline") })
	d.Go("panics", func(context.Context) error { panic("boom") })

	var ran atomic.Bool
	d.Go("after", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	d.Wait()
	assert.True(t, ran.Load())
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := newDispatcher()
	d.Close()
	d.Close()
	assert.False(t, d.Go("late", func(context.Context) error { return nil }))
}
