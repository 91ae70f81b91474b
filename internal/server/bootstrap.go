package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/folio-edge/folio-edge/internal/config"
	"github.com/folio-edge/folio-edge/internal/worker"
)

// WorkerConfig 将 [Worker] 配置段转换为 worker.Config，供启动与热更新共用。
func WorkerConfig(cfg *config.Config) (worker.Config, error) {
	if cfg == nil {
		return worker.Config{}, fmt.Errorf("config is required")
	}
	section := cfg.Worker
	origin, err := url.Parse(strings.TrimSpace(section.Origin))
	if err != nil {
		return worker.Config{}, fmt.Errorf("parse origin %q: %w", section.Origin, err)
	}

	wc := worker.DefaultConfig()
	wc.Origin = origin
	wc.CacheName = section.CacheName
	wc.APIPrefix = section.APIPrefix
	wc.AssetsPrefix = section.AssetsPrefix
	wc.IndexPath = section.IndexPath
	wc.OfflinePath = section.OfflinePath
	wc.ManifestPath = section.ManifestPath
	wc.SkipWaitingOnInstall = section.SkipWaitingOnInstall
	if len(section.StaticExtensions) > 0 {
		wc.StaticExtensions = append([]string(nil), section.StaticExtensions...)
	}
	if len(section.BootstrapAssets) > 0 {
		wc.BootstrapAssets = append([]string(nil), section.BootstrapAssets...)
	}
	wc.FallbackAssets = append([]string(nil), section.FallbackAssets...)

	if err := wc.Validate(); err != nil {
		return worker.Config{}, err
	}
	return wc, nil
}
