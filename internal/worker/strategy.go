package worker

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/folio-edge/folio-edge/internal/cache"
)

// Strategy 是 fetch 拦截器为单个请求选定的处理方式。
type Strategy int

const (
	// StrategyIgnore 表示非 http(s) 请求，不做拦截。
	StrategyIgnore Strategy = iota
	// StrategyNetworkFirst 用于 API 请求：先网络，失败回退缓存。
	StrategyNetworkFirst
	// StrategyCacheFirst 用于静态资源：先缓存，未命中再网络。
	StrategyCacheFirst
	// StrategyNavigationFallback 用于文档导航：index → 网络 → 离线页。
	StrategyNavigationFallback
	// StrategyDefault 兜底：先缓存，未命中再网络。
	StrategyDefault
)

func (s Strategy) String() string {
	switch s {
	case StrategyIgnore:
		return "ignore"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyNavigationFallback:
		return "navigation-fallback"
	case StrategyDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Request 是一次待决策的请求，只在处理期间存在。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	// Navigate 标记顶层文档加载（浏览器 mode=navigate）。
	Navigate bool
}

// NewRequest 以 GET 方法构造指向 u 的请求。
func NewRequest(u *url.URL) *Request {
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}

// Key 返回缓存键：method + 绝对 URL。
func (r *Request) Key() string {
	return cache.Key(r.Method, r.URL.String())
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Classify 按优先级（首个命中即返回）为请求选择唯一策略。
func Classify(cfg Config, req *Request) Strategy {
	if req == nil || req.URL == nil {
		return StrategyIgnore
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return StrategyIgnore
	}

	p := req.URL.Path
	if p == "" {
		p = "/"
	}
	if cfg.APIPrefix != "" && strings.HasPrefix(p, cfg.APIPrefix) {
		return StrategyNetworkFirst
	}
	if req.method() == http.MethodGet {
		if cfg.AssetsPrefix != "" && strings.HasPrefix(p, cfg.AssetsPrefix) {
			return StrategyCacheFirst
		}
		if cfg.hasStaticExtension(p) {
			return StrategyCacheFirst
		}
	}
	if req.Navigate {
		return StrategyNavigationFallback
	}
	return StrategyDefault
}
