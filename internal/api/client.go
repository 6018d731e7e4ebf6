// Package api is the typed HTTP client spec §4.1 names component C: it
// turns the fishnet RPCs (acquire, abort, submit+acquire, status,
// check_key) into Go calls, retries transient failures with randomized
// backoff, and classifies server replies into the error kinds the
// coordinator needs to react to (spec §7).
//
// Grounded on the teacher's worker.Client (src/worker/worker.go), whose
// two bare http.Get/http.Post calls against "/job" and "/result" are
// generalized here into the combined submit+acquire call the protocol
// actually uses, plus retry/backoff lifted from original_source's
// api.rs (the Rust client's reqwest-based Api actor).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	fnbackoff "github.com/fishnet-go/fishnet/internal/backoff"
	"github.com/fishnet-go/fishnet/internal/model"
)

// Client is the shared HTTP door between the coordinator and the
// fishnet server. One Client is created at startup and shared by every
// coordinator goroutine (spec §3's "HTTP client" collaborator).
type Client struct {
	http        *http.Client
	endpoint    string
	key         string
	version     string
	logger      zerolog.Logger
	maxBackoffS int
}

// New builds a Client. endpoint has no trailing slash.
func New(endpoint, key, version string, maxBackoffS int, logger zerolog.Logger) *Client {
	return &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		endpoint:    endpoint,
		key:         key,
		version:     version,
		logger:      logger,
		maxBackoffS: maxBackoffS,
	}
}

// AcquireReply is what the server handed back: either a Job to run, or
// no work (spec §6.1: 202 with a Job, or 204).
type AcquireReply struct {
	Job    model.Job
	HasJob bool
}

// Acquire requests one job, optionally hinting the preferred Stockfish
// flavor and passing slow=true when only the system-backlog threshold
// justified joining (spec §4.1, §4.3's fairness rule).
func (c *Client) Acquire(ctx context.Context, flavor string, slow bool) (AcquireReply, error) {
	body := acquireRequest{Fishnet: c.identity()}
	if flavor != "" {
		body.Stockfish = &stockfishWire{Flavor: flavor}
	}
	path := "/acquire"
	if slow {
		path += "?slow=true"
	}
	return c.acquireCall(ctx, path, body)
}

// SubmitAnalysisAndAcquire reports a completed (or partial, for
// progress) analysis batch and, in the same round trip, asks for the
// next job (spec §4.1's "combined submit+acquire calls"). stop marks
// this as the final submission before shutdown (spec §4.4).
func (c *Client) SubmitAnalysisAndAcquire(ctx context.Context, workID string, results []model.PlyResult, flavor string, stop bool) (AcquireReply, error) {
	body := acquireRequest{Fishnet: c.identity(), Analysis: results}
	if flavor != "" {
		body.Stockfish = &stockfishWire{Flavor: flavor}
	}
	path := "/analysis/" + workID
	if stop {
		path += "?stop=true"
	}
	return c.acquireCall(ctx, path, body)
}

// SubmitMoveAndAcquire reports a completed move job and requests the
// next one.
func (c *Client) SubmitMoveAndAcquire(ctx context.Context, workID, bestMove, flavor string) (AcquireReply, error) {
	body := acquireRequest{Fishnet: c.identity(), Move: &moveWire{BestMove: bestMove}}
	if flavor != "" {
		body.Stockfish = &stockfishWire{Flavor: flavor}
	}
	return c.acquireCall(ctx, "/move/"+workID, body)
}

func (c *Client) acquireCall(ctx context.Context, path string, body acquireRequest) (AcquireReply, error) {
	status, raw, err := c.doRetried(ctx, http.MethodPost, path, body)
	if err != nil {
		return AcquireReply{}, err
	}
	switch status {
	case http.StatusNoContent:
		return AcquireReply{}, nil
	case http.StatusOK, http.StatusAccepted:
		var w jobWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return AcquireReply{}, fmt.Errorf("%w: decode job: %v", model.ErrProtocol, err)
		}
		return AcquireReply{Job: w.toJob(), HasJob: true}, nil
	default:
		return AcquireReply{}, classify(status, raw)
	}
}

// Abort tells the server this work_id was abandoned, e.g. after a fatal
// engine crash mid-batch (spec §4.1, §4.3 step 4).
func (c *Client) Abort(ctx context.Context, workID string) error {
	status, raw, err := c.doRetried(ctx, http.MethodPost, "/abort/"+workID, acquireRequest{Fishnet: c.identity()})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNoContent, http.StatusNotFound:
		// 404 on abort is benign: the server already forgot this work_id.
		return nil
	default:
		return classify(status, raw)
	}
}

// Status polls the informational queue-depth endpoint (spec §4.1, §6.1).
func (c *Client) Status(ctx context.Context) (model.QueueStatus, error) {
	status, raw, err := c.doRetried(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return model.QueueStatus{}, err
	}
	if status != http.StatusOK {
		return model.QueueStatus{}, classify(status, raw)
	}
	var w queueStatusWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.QueueStatus{}, fmt.Errorf("%w: decode status: %v", model.ErrProtocol, err)
	}
	return w.toStatus(), nil
}

// CheckKey validates an API key against the server without joining the
// queue, for the `configure`/startup validation path (spec §5, §6.2).
func (c *Client) CheckKey(ctx context.Context, key string) (bool, error) {
	status, raw, err := c.doRaw(ctx, http.MethodGet, "/key/"+key, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classify(status, raw)
	}
}

func (c *Client) identity() fishnetWire {
	return fishnetWire{Version: c.version, APIKey: c.key}
}

// doRetried wraps doRaw with the randomized-backoff retry loop for
// failures classified as transient: connection errors and 5xx/429
// replies (spec §4.1/§8). Auth and update-required errors/statuses are
// never retried (spec §7). Retries are unbounded, matching
// original_source's api.rs: a transient outage is retried forever
// rather than surfaced as a hard failure, until either a non-transient
// reply arrives or ctx is done.
func (c *Client) doRetried(ctx context.Context, method, path string, body any) (int, []byte, error) {
	backoff := fnbackoff.New(c.maxBackoffS)
	for attempt := 1; ; attempt++ {
		status, raw, err := c.doRaw(ctx, method, path, body)
		switch {
		case err != nil && !isTransient(err):
			return 0, nil, err
		case err == nil && !isTransientStatus(status):
			return status, raw, nil
		}

		delay := backoff.Next()
		logEvent := c.logger.Warn()
		if attempt > 3 {
			logEvent = c.logger.Error()
		}
		logEvent.Err(err).Int("status", status).Int("attempt", attempt).Dur("retry_in", delay).Msg("fishnet api call failed, retrying")
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", model.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("fishnet-go-%s-%s/%s", runtime.GOOS, runtime.GOARCH, c.version))
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", model.ErrNetwork, err)
	}
	return resp.StatusCode, raw, nil
}

// classify maps an HTTP status to the sentinel error kinds spec §7
// distinguishes (auth vs update-required vs generic protocol error).
func classify(status int, body []byte) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusNotAcceptable:
		return fmt.Errorf("%w: status %d: %s", model.ErrUpdateRequired, status, truncate(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", model.ErrAuth, status)
	case isTransientStatus(status):
		return fmt.Errorf("%w: status %d: %s", model.ErrNetwork, status, truncate(body))
	default:
		return fmt.Errorf("%w: status %d: %s", model.ErrProtocol, status, truncate(body))
	}
}

// isTransientStatus reports the HTTP statuses spec §4.1/§8 classify as
// transient: rate-limited or server-side failures, retried the same way
// as a connection error.
func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func isTransient(err error) bool {
	return errors.Is(err, model.ErrNetwork)
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
