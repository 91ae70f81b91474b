package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/cache"
)

const testOrigin = "https://portfolio.example"

var errOffline = errors.New("network offline")

type fakeResponse struct {
	status int
	body   string
	header http.Header
	err    error
}

// fakeNetwork 按路径返回预设响应并记录调用次数；未配置的路径返回 404。
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
	offline   bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: make(map[string]fakeResponse),
		calls:     make(map[string]int),
	}
}

func (n *fakeNetwork) serve(path string, status int, body string) *fakeNetwork {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[path] = fakeResponse{status: status, body: body}
	return n
}

// serveHeader 与 serve 相同，但附带额外响应头。
func (n *fakeNetwork) serveHeader(path string, status int, body string, header http.Header) *fakeNetwork {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[path] = fakeResponse{status: status, body: body, header: header}
	return n
}

func (n *fakeNetwork) fail(path string, err error) *fakeNetwork {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[path] = fakeResponse{err: err}
	return n
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) count(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNetwork) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	sum := 0
	for _, c := range n.calls {
		sum += c
	}
	return sum
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL.Path]++
	if n.offline {
		return nil, errOffline
	}
	resp, ok := n.responses[req.URL.Path]
	if !ok {
		return &cache.Snapshot{Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	if resp.err != nil {
		return nil, resp.err
	}
	header := http.Header{"Content-Type": []string{"text/plain"}}
	for key, values := range resp.header {
		header[key] = append([]string(nil), values...)
	}
	return &cache.Snapshot{
		Status: resp.status,
		Header: header,
		Body:   []byte(resp.body),
	}, nil
}

// siteNetwork 提供引导资源均可用的源站。
func siteNetwork() *fakeNetwork {
	return newFakeNetwork().
		serve("/", http.StatusOK, "root").
		serve("/index.html", http.StatusOK, "index").
		serve("/offline.html", http.StatusOK, "offline")
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(cacheName string) Config {
	cfg := DefaultConfig()
	cfg.CacheName = cacheName
	cfg.Origin, _ = url.Parse(testOrigin)
	cfg.FallbackAssets = nil
	return cfg
}

func newTestStorage(t *testing.T) cache.Storage {
	t.Helper()
	storage, err := cache.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	return storage
}

func newTestWorker(t *testing.T, cfg Config, storage cache.Storage, network Network) *Worker {
	t.Helper()
	w, err := New(Options{Config: cfg, Storage: storage, Network: network, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}
	return w
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %s: %v", raw, err)
	}
	return u
}

func getRequest(t *testing.T, path string) *Request {
	t.Helper()
	return NewRequest(mustURL(t, testOrigin+path))
}

func putEntry(t *testing.T, storage cache.Storage, cacheName, path, body string) {
	t.Helper()
	c, err := storage.Open(context.Background(), cacheName)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	key := cache.Key(http.MethodGet, testOrigin+path)
	if err := c.Put(context.Background(), key, &cache.Snapshot{Status: http.StatusOK, Header: http.Header{}, Body: []byte(body)}); err != nil {
		t.Fatalf("put entry: %v", err)
	}
}

func lookup(t *testing.T, storage cache.Storage, cacheName, path string) (*cache.Snapshot, bool) {
	t.Helper()
	c, err := storage.Open(context.Background(), cacheName)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	snap, err := c.Match(context.Background(), cache.Key(http.MethodGet, testOrigin+path))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	return snap, true
}

// faultyStorage 包装真实存储，可注入写入或删除失败。
type faultyStorage struct {
	cache.Storage
	putErr    error
	deleteErr map[string]error
}

func (s *faultyStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyCache{Cache: c, putErr: s.putErr}, nil
}

func (s *faultyStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err, ok := s.deleteErr[name]; ok {
		return false, err
	}
	return s.Storage.Delete(ctx, name)
}

type faultyCache struct {
	cache.Cache
	putErr error
}

func (c *faultyCache) Put(ctx context.Context, key string, snap *cache.Snapshot) error {
	if c.putErr != nil {
		return c.putErr
	}
	return c.Cache.Put(ctx, key, snap)
}
