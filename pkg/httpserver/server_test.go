package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/httpserver"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// waitReady polls until the server answers; any HTTP status proves liveness.
func waitReady(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerRun(t *testing.T) {
	t.Parallel()

	t.Run("serves until the context is canceled", func(t *testing.T) {
		t.Parallel()

		addr := freeAddr(t)
		srv := httpserver.New(
			httpserver.WithAddr(addr),
			httpserver.WithShutdownTimeout(time.Second),
		)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
		}()

		waitReady(t, "http://"+addr+"/")

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err, "graceful stop is not an error")
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop after context cancellation")
		}
	})

	t.Run("unusable address fails with ErrStart", func(t *testing.T) {
		t.Parallel()

		srv := httpserver.New(httpserver.WithAddr("256.256.256.256:0"))
		err := srv.Run(context.Background(), http.NotFoundHandler())
		assert.ErrorIs(t, err, httpserver.ErrStart)
	})

	t.Run("nil handler fails with ErrStart", func(t *testing.T) {
		t.Parallel()

		srv := httpserver.New(httpserver.WithAddr(freeAddr(t)))
		err := srv.Run(context.Background(), nil)
		assert.ErrorIs(t, err, httpserver.ErrStart)
	})

	t.Run("second run on the same server fails", func(t *testing.T) {
		t.Parallel()

		addr := freeAddr(t)
		srv := httpserver.New(httpserver.WithAddr(addr))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx, http.NotFoundHandler()) }()
		waitReady(t, "http://"+addr+"/missing") // 404 still proves liveness
		err := srv.Run(ctx, http.NotFoundHandler())
		assert.ErrorIs(t, err, httpserver.ErrStart)

		cancel()
		<-done
	})

	t.Run("config values apply", func(t *testing.T) {
		t.Parallel()

		addr := freeAddr(t)
		srv := httpserver.NewFromConfig(httpserver.Config{
			Addr:            addr,
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
		}()
		waitReady(t, "http://"+addr+"/")

		cancel()
		require.NoError(t, <-done)
	})
}
