package worker

import (
	"net/http"
	"strings"
	"time"

	"github.com/folio-edge/folio-edge/internal/cache"
)

// storable 判断响应能否写入共享缓存：仅 GET 且 200，请求不携带凭证，
// 响应未声明 Cache-Control private/no-store。
func storable(req *Request, snap *cache.Snapshot) bool {
	if req.method() != http.MethodGet || snap == nil || snap.Status != http.StatusOK {
		return false
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("Cookie") != "" {
		return false
	}
	return !restrictsSharedCache(snap.Header)
}

func restrictsSharedCache(header http.Header) bool {
	for _, value := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			name := strings.ToLower(strings.TrimSpace(directive))
			if i := strings.IndexByte(name, '='); i >= 0 {
				name = strings.TrimSpace(name[:i])
			}
			if name == "private" || name == "no-store" {
				return true
			}
		}
	}
	return false
}

// sanitizeForStore 返回可写入共享缓存的副本：去掉 Set-Cookie，补齐 StoredAt。
func sanitizeForStore(snap *cache.Snapshot) *cache.Snapshot {
	clone := snap.Clone()
	if clone.Header != nil {
		clone.Header.Del("Set-Cookie")
		clone.Header.Del("Set-Cookie2")
	}
	if clone.StoredAt.IsZero() {
		clone.StoredAt = time.Now().UTC()
	}
	return clone
}
