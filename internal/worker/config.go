package worker

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultStaticExtensions 是 cache-first 策略识别的静态资源扩展名。
var DefaultStaticExtensions = []string{".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".woff", ".woff2"}

// Config 在启动时注入，描述一个 worker 版本的全部可变参数。
type Config struct {
	// CacheName 是带版本号的缓存名称，部署时变更即触发旧缓存回收。
	CacheName string
	// Origin 是源站根地址，所有资源路径都相对它解析。
	Origin *url.URL

	APIPrefix        string
	AssetsPrefix     string
	StaticExtensions []string

	IndexPath    string
	OfflinePath  string
	ManifestPath string

	BootstrapAssets []string
	FallbackAssets  []string

	// SkipWaitingOnInstall 为 true 时安装完成后立即激活，不等待旧版本的客户端释放。
	SkipWaitingOnInstall bool
}

// DefaultConfig 返回一份可直接使用的默认配置，调用方只需补充 Origin。
func DefaultConfig() Config {
	return Config{
		CacheName:        "folio-v1",
		APIPrefix:        "/api/",
		AssetsPrefix:     "/assets/",
		StaticExtensions: append([]string(nil), DefaultStaticExtensions...),
		IndexPath:        "/index.html",
		OfflinePath:      "/offline.html",
		ManifestPath:     "/assets-manifest.json",
		BootstrapAssets:  []string{"/", "/index.html", "/offline.html"},
		FallbackAssets: []string{
			"/static/js/main.js",
			"/static/css/main.css",
			"/favicon.ico",
			"/manifest.json",
		},
		SkipWaitingOnInstall: true,
	}
}

// Validate 校验必填字段，确保策略判定与资源解析可用。
func (c Config) Validate() error {
	if strings.TrimSpace(c.CacheName) == "" {
		return errors.New("cache name required")
	}
	if c.Origin == nil {
		return errors.New("origin required")
	}
	if c.Origin.Scheme != "http" && c.Origin.Scheme != "https" {
		return fmt.Errorf("origin must be http/https: %s", c.Origin)
	}
	if c.Origin.Host == "" {
		return fmt.Errorf("origin missing host: %s", c.Origin)
	}
	for field, value := range map[string]string{
		"api prefix":    c.APIPrefix,
		"index path":    c.IndexPath,
		"offline path":  c.OfflinePath,
		"manifest path": c.ManifestPath,
	} {
		if !strings.HasPrefix(value, "/") {
			return fmt.Errorf("%s must start with /: %q", field, value)
		}
	}
	if len(c.BootstrapAssets) == 0 {
		return errors.New("bootstrap assets required")
	}
	return nil
}

// ResolveURL 将站内路径解析为源站绝对地址；已是绝对地址时原样返回。
func (c Config) ResolveURL(ref string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse asset url %q: %w", ref, err)
	}
	if c.Origin == nil {
		return nil, errors.New("origin required")
	}
	return c.Origin.ResolveReference(parsed), nil
}

func (c Config) hasStaticExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, candidate := range c.StaticExtensions {
		if strings.EqualFold(candidate, ext) {
			return true
		}
	}
	return false
}
