package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webstalk-archive/retriever/internal/config"
	"github.com/webstalk-archive/retriever/internal/hostregistry"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fetch.RequestTimeout = 5 * time.Second
	cfg.Fetch.MaxRedirects = 5
	return cfg
}

func TestPoolGetSimple(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	p := New(testConfig(), hostregistry.New())
	resp, err := p.Get(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.CurrentURL != srv.URL {
		t.Fatalf("CurrentURL = %q, want %q", resp.CurrentURL, srv.URL)
	}
}

func TestPoolFollowsRedirect(t *testing.T) {
	var finalURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/end")
		w.WriteHeader(300)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	finalURL = srv.URL + "/end"

	p := New(testConfig(), hostregistry.New())
	resp, err := p.Get(context.Background(), srv.URL+"/start", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.CurrentURL != finalURL {
		t.Fatalf("CurrentURL = %q, want %q", resp.CurrentURL, finalURL)
	}
}

func TestPoolResponseCarriesConfiguredChunkSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Fetch.ChunkSize = 4096

	p := New(cfg, hostregistry.New())
	resp, err := p.Get(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.ChunkSize != 4096 {
		t.Fatalf("ChunkSize = %d, want 4096", resp.ChunkSize)
	}
}

func TestPoolCondemnedHostFailsFast(t *testing.T) {
	reg := hostregistry.New()
	reg.Condemn("example.invalid:80")

	p := New(testConfig(), reg)
	_, err := p.Get(context.Background(), "http://example.invalid/resource", 0)
	if err == nil {
		t.Fatal("expected error for condemned host")
	}
	uh, ok := err.(*ErrUnreachableHost)
	if !ok {
		t.Fatalf("error type = %T, want *ErrUnreachableHost", err)
	}
	if !uh.AlreadyKnown {
		t.Fatal("AlreadyKnown = false, want true")
	}
}

func TestRetryRoundTripperForceRetryStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := New(testConfig(), hostregistry.New())
	resp, err := p.Get(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
}

func TestPoolHonorsConfiguredRetryStatusList(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 2 {
			w.WriteHeader(http.StatusBadGateway) // 502, not in the default force list
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Retry.ForceRetryStatus = []int{http.StatusBadGateway}

	p := New(cfg, hostregistry.New())
	resp, err := p.Get(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("hits = %d, want 2 (502 should have been retried per the configured force list)", hits)
	}
}

func TestRetryRoundTripperConnectFailureNotRetried(t *testing.T) {
	p := New(testConfig(), hostregistry.New())
	_, err := p.Get(context.Background(), "http://127.0.0.1:1", 0)
	if err == nil {
		t.Fatal("expected error dialing closed port")
	}
	if _, ok := err.(*ErrUnreachableHost); !ok {
		t.Fatalf("error type = %T, want *ErrUnreachableHost", err)
	}
}
