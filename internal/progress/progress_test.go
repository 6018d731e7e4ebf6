package progress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/api"
	"github.com/fishnet-go/fishnet/internal/model"
)

func TestTrackPostsOnEachTick(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := api.New(srv.URL, "key", "1.0", 1, zerolog.Nop())
	r := New(client, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := r.Track(ctx, "w1", func() []model.PlyResult {
		return []model.PlyResult{{Status: model.Pending}}
	}, nil)
	defer stop()

	time.Sleep(50 * time.Millisecond)
	if hits.Load() < 2 {
		t.Fatalf("expected at least 2 progress posts, got %d", hits.Load())
	}
}

func TestTrackStopsOnStopCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := api.New(srv.URL, "key", "1.0", 1, zerolog.Nop())
	r := New(client, 10*time.Millisecond, zerolog.Nop())

	stop := r.Track(context.Background(), "w1", func() []model.PlyResult { return nil }, nil)
	time.Sleep(25 * time.Millisecond)
	stop()
	afterStop := hits.Load()
	time.Sleep(50 * time.Millisecond)
	if hits.Load() > afterStop+1 {
		t.Fatalf("expected no more posts after stop, got %d -> %d", afterStop, hits.Load())
	}
}

func TestNilIntervalDisablesTracking(t *testing.T) {
	r := New(nil, 0, zerolog.Nop())
	stop := r.Track(context.Background(), "w1", func() []model.PlyResult { return nil }, nil)
	stop() // must not panic
}

func TestTrackPropagatesFatalErrorAndStops(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := api.New(srv.URL, "key", "1.0", 1, zerolog.Nop())
	r := New(client, 10*time.Millisecond, zerolog.Nop())

	fatalCh := make(chan error, 1)
	stop := r.Track(context.Background(), "w1", func() []model.PlyResult { return nil }, func(err error) {
		fatalCh <- err
	})
	defer stop()

	select {
	case err := <-fatalCh:
		if !errors.Is(err, model.ErrAuth) {
			t.Fatalf("expected auth error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected onFatal to be called after a 401 reply")
	}

	afterFatal := hits.Load()
	time.Sleep(50 * time.Millisecond)
	if hits.Load() != afterFatal {
		t.Fatalf("expected tracking to stop after a fatal reply, got %d -> %d hits", afterFatal, hits.Load())
	}
}
