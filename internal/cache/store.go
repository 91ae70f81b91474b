package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 管理全部命名缓存，对应一次部署版本一个 cache name。
type Storage interface {
	// Open 打开或创建指定名称的缓存。
	Open(ctx context.Context, name string) (Cache, error)

	// Names 返回当前存在的全部缓存名称（按名称排序）。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整份缓存；返回是否确实存在并被删除。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个命名缓存，键为 Key 生成的规范化请求标识。
type Cache interface {
	// Name 返回缓存名称。
	Name() string

	// Match 返回 key 对应的快照，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Snapshot, error)

	// Put 以覆盖语义写入快照。
	Put(ctx context.Context, key string, snap *Snapshot) error

	// Remove 删除单个条目，不存在时不报错。
	Remove(ctx context.Context, key string) error

	// Keys 返回全部条目键（按字典序）。
	Keys(ctx context.Context) ([]string, error)
}

// Snapshot 捕获一次上游响应：状态码、头部与完整正文。
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 深拷贝快照，后台写入与返回给调用方的副本互不影响。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		Body:     append([]byte(nil), s.Body...),
		StoredAt: s.StoredAt,
	}
}

// Key 生成规范化的请求标识：大写 method + 空格 + URL。
func Key(method, rawURL string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + rawURL
}

// ErrNotFound 表示缓存条目不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidName 表示缓存名称为空或包含非法字符。
var ErrInvalidName = errors.New("invalid cache name")

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}
