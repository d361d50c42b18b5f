package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const timelineJSON = `{"items":[{"type":"video","src":"/static/a.mp4","startTime":0,"duration":3}]}`

func TestStatus_NotFoundIsQueued(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	st, err := c.Status(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != StatusQueued || st.RunID != "r1" {
		t.Errorf("Status() = %+v, want queued r1", st)
	}
}

func TestStatus_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testLogger()).Status(context.Background(), "r1")
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("Status() error = %v, want *HTTPError", err)
	}
	if he.StatusCode != http.StatusBadGateway || !he.IsRetryable() {
		t.Errorf("HTTPError = %+v", he)
	}
}

func TestTimeline_Invalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[{"type":"video","src":"","startTime":0,"duration":3}]}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testLogger()).Timeline(context.Background(), "r1")
	if !errors.Is(err, timeline.ErrInvalid) {
		t.Fatalf("Timeline() error = %v, want ErrInvalid", err)
	}
}

func TestWaitReady_PollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/runs/r1/status", func(w http.ResponseWriter, r *http.Request) {
		switch polls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			io.WriteString(w, `{"run_id":"r1","status":"processing","message":"Rendering"}`)
		default:
			io.WriteString(w, `{"run_id":"r1","status":"done","message":"ready"}`)
		}
	})
	mux.HandleFunc("/runs/r1/timeline", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, timelineJSON)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tl, err := NewClient(srv.URL, testLogger()).WaitReady(context.Background(), "r1", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
	if got := timeline.Duration(tl); got != 3 {
		t.Errorf("Duration = %v, want 3", got)
	}
}

func TestWaitReady_RunFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"run_id":"r1","status":"error","message":"quota exceeded"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testLogger()).WaitReady(context.Background(), "r1", time.Millisecond)
	var rf *RunFailedError
	if !errors.As(err, &rf) {
		t.Fatalf("WaitReady() error = %v, want *RunFailedError", err)
	}
	if rf.Message != "quota exceeded" {
		t.Errorf("Message = %q", rf.Message)
	}
}

func TestWaitReady_ClientErrorStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testLogger()).WaitReady(context.Background(), "r1", time.Millisecond)
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
		t.Fatalf("WaitReady() error = %v, want 403 HTTPError", err)
	}
}

func TestWaitReady_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"processing"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, testLogger()).WaitReady(ctx, "r1", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReady() error = %v, want DeadlineExceeded", err)
	}
}
