package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/folio-edge/folio-edge/internal/cache"
	"github.com/folio-edge/folio-edge/internal/server"
	"github.com/folio-edge/folio-edge/internal/version"
	"github.com/folio-edge/folio-edge/internal/worker"
)

// maxBodyBytes 限制单个回源响应体读入内存的大小。
const maxBodyBytes = 32 << 20

// ErrBodyTooLarge 表示源站响应体超过 maxBodyBytes。
var ErrBodyTooLarge = errors.New("upstream body too large")

// Upstream 通过共享 http.Client 访问源站，实现 worker.Network。
// 每次调用只发起一次请求，不做重试。
type Upstream struct {
	client *http.Client
}

// NewUpstream 包装回源 client。
func NewUpstream(client *http.Client) *Upstream {
	if client == nil {
		client = http.DefaultClient
	}
	return &Upstream{client: client}
}

// Fetch 发起请求并把完整响应读成快照；非 2xx 状态照常返回。
func (u *Upstream) Fetch(ctx context.Context, req *worker.Request) (*cache.Snapshot, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	// 由 Go client 自行协商压缩，快照中保存解压后的内容。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Content-Length")
	httpReq.Host = req.URL.Host
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if len(payload) > maxBodyBytes {
		return nil, fmt.Errorf("%w: %s", ErrBodyTooLarge, req.URL)
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	if resp.Uncompressed {
		header.Del("Content-Encoding")
	}

	return &cache.Snapshot{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     payload,
		StoredAt: time.Now().UTC(),
	}, nil
}
