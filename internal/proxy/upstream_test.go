package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/folio-edge/folio-edge/internal/worker"
)

func TestUpstreamFetchCapturesSnapshot(t *testing.T) {
	var seen http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL + "/gone")
	req := worker.NewRequest(u)
	req.Header = http.Header{
		"Connection":   []string{"Upgrade"},
		"X-Folio-Test": []string{"1"},
	}

	snap, err := NewUpstream(origin.Client()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if snap.Status != http.StatusNotFound {
		t.Fatalf("non-200 status 应原样返回，got %d", snap.Status)
	}
	if string(snap.Body) != "missing" {
		t.Fatalf("unexpected body %q", snap.Body)
	}
	if snap.Header.Get("Keep-Alive") != "" || snap.Header.Get("Content-Length") != "" {
		t.Fatalf("hop-by-hop/length headers should be stripped: %v", snap.Header)
	}
	if snap.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("content-type lost: %v", snap.Header)
	}
	if seen.Get("X-Folio-Test") != "1" {
		t.Fatalf("request header not forwarded: %v", seen)
	}
	if seen.Get("User-Agent") == "" {
		t.Fatalf("upstream requests should carry a user agent")
	}
	if snap.StoredAt.IsZero() {
		t.Fatalf("snapshot should carry capture time")
	}
}

func TestUpstreamFetchTransportError(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(origin.URL + "/api/projects")
	client := origin.Client()
	origin.Close()

	if _, err := NewUpstream(client).Fetch(context.Background(), worker.NewRequest(u)); err == nil {
		t.Fatalf("closed origin should produce a transport error")
	}
	if _, err := NewUpstream(client).Fetch(context.Background(), &worker.Request{}); err == nil {
		t.Fatalf("request without url should fail")
	}
}
