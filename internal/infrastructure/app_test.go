package infrastructure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (f *fakeServer) Start(ctx context.Context) error {
	f.started.Store(true)
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func TestApp_StopsAllOnCancel(t *testing.T) {
	a, b := &fakeServer{}, &fakeServer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewApp(nil, a, b).Run(ctx) }()

	require.Eventually(t, func() bool { return a.started.Load() && b.started.Load() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.True(t, a.stopped.Load())
	assert.True(t, b.stopped.Load())
}

func TestApp_ServerFailureStopsOthers(t *testing.T) {
	boom := errors.New("listen failed")
	healthy := &fakeServer{}
	err := NewApp(nil, healthy, &fakeServer{startErr: boom}).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.True(t, healthy.stopped.Load())
}

func TestLoopServer(t *testing.T) {
	var ticks atomic.Int32
	loop := NewLoopServer(func(ctx context.Context) error {
		for {
			ticks.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	})
	done := make(chan error, 1)
	go func() { done <- loop.Start(context.Background()) }()

	require.Eventually(t, func() bool { return ticks.Load() > 2 }, time.Second, time.Millisecond)
	require.NoError(t, loop.Stop(context.Background()))
	assert.NoError(t, <-done)
}

func TestLoopServer_StopBeforeStart(t *testing.T) {
	loop := NewLoopServer(func(context.Context) error { return errors.New("must not run") })
	require.NoError(t, loop.Stop(context.Background()))
	assert.NoError(t, loop.Start(context.Background()))
}

func TestHTTPServer_ShutdownIsClean(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := NewHTTPServer(addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), discardLogger())
	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, <-done)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
