package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishnet-go/fishnet/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "testkey", "2.1.0", 5, zerolog.Nop())
	return c, srv
}

func TestAcquireNoContent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer testkey" {
			t.Fatalf("missing bearer header: %q", r.Header.Get("Authorization"))
		}
		wantUA := "fishnet-go-" + runtime.GOOS + "-" + runtime.GOARCH + "/2.1.0"
		if r.Header.Get("User-Agent") != wantUA {
			t.Fatalf("missing user agent: %q", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	reply, err := c.Acquire(context.Background(), "nnue", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.HasJob {
		t.Fatal("expected no job")
	}
}

func TestAcquireDecodesJob(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(jobWire{
			Work:     workWire{ID: "w1", Type: "analysis"},
			Position: "startpos",
			Moves:    "e2e4 e7e5",
			Nodes:    &nodesWire{NNUE: 3_000_000},
		})
	})

	reply, err := c.Acquire(context.Background(), "nnue", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reply.HasJob {
		t.Fatal("expected a job")
	}
	if reply.Job.WorkID != "w1" || reply.Job.Kind != model.KindAnalysis {
		t.Fatalf("unexpected job: %+v", reply.Job)
	}
	if len(reply.Job.Moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(reply.Job.Moves))
	}
	if reply.Job.NodesNNUE != 3_000_000 {
		t.Fatalf("expected node budget to carry through, got %d", reply.Job.NodesNNUE)
	}
}

func TestAcquireClassifiesAuthError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Acquire(context.Background(), "", false)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, model.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestStatusDecodes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(queueStatusWire{
			User:   queueClassWire{Acquired: 1, Queued: 2, OldestS: 3},
			System: queueClassWire{Acquired: 4, Queued: 5, OldestS: 6},
		})
	})

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.User.Queued != 2 || status.System.Acquired != 4 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAcquireRetriesOnServiceUnavailable(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.Acquire(context.Background(), "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 2 failed attempts before success, got %d hits", hits.Load())
	}
}

func TestAcquireRetriesOnTooManyRequests(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.Acquire(context.Background(), "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 1 failed attempt before success, got %d hits", hits.Load())
	}
}

func TestAcquireRetriesBeyondOldFixedCap(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 8 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "testkey", "2.1.0", 1, zerolog.Nop())
	_, err := c.Acquire(context.Background(), "", false)
	if err != nil {
		t.Fatalf("unexpected error after retrying past the old 5-attempt cap: %v", err)
	}
	if hits.Load() != 9 {
		t.Fatalf("expected 8 failed attempts before success, got %d hits", hits.Load())
	}
}

func TestAcquireRetryLogsEscalateWithAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)
	c := New(srv.URL, "testkey", "2.1.0", 1, logger)
	if _, err := c.Acquire(context.Background(), "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 retry log lines, got %d: %q", len(lines), logBuf.String())
	}
	for i, want := range []string{"warn", "warn", "warn", "error"} {
		if !strings.Contains(lines[i], `"level":"`+want+`"`) {
			t.Fatalf("expected attempt %d to log at %q, got %q", i+1, want, lines[i])
		}
	}
}

func TestAcquireClassifiesNotAcceptableAsUpdateRequired(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
	})

	_, err := c.Acquire(context.Background(), "", false)
	if !errors.Is(err, model.ErrUpdateRequired) {
		t.Fatalf("expected update-required error, got %v", err)
	}
}

func TestAcquireSendsSlowAsQueryParam(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		var body acquireRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.Acquire(context.Background(), "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "slow=true" {
		t.Fatalf("expected slow=true query param, got %q", gotQuery)
	}
}

func TestAbortTreatsNotFoundAsBenign(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := c.Abort(context.Background(), "w1"); err != nil {
		t.Fatalf("expected 404 on abort to be benign, got %v", err)
	}
}

func TestAbortClassifiesServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// A 5xx is transient, so Abort keeps retrying it until ctx expires.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := c.Abort(ctx, "w1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected abort to keep retrying the 5xx until the context expired, got %v", err)
	}
}

func TestCheckKeyNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := c.CheckKey(context.Background(), "bogus")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected key to be rejected")
	}
}
