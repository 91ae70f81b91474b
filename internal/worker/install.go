package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/folio-edge/folio-edge/internal/cache"
	"github.com/folio-edge/folio-edge/internal/logging"
)

// prefetchLimit 限制 addAll 并发拉取的资源数。
const prefetchLimit = 8

// StatusError 表示资源预取得到了非 200 响应。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Install 执行安装事件：写入引导资源（失败即安装失败），再尽力预取 manifest 资源，
// 最后按配置请求跳过 waiting。返回前所有子操作均已完成。
func (w *Worker) Install(ctx context.Context) error {
	fields := logging.WorkerFields(w.id, w.cfg.CacheName, "install")

	c, err := w.storage.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", w.cfg.CacheName, err)
	}

	if err := w.addAll(ctx, c, w.cfg.BootstrapAssets); err != nil {
		w.logger.WithFields(fields).WithError(err).Error("bootstrap_cache_failed")
		return fmt.Errorf("cache bootstrap assets: %w", err)
	}

	assets, err := w.manifestAssets(ctx)
	if err == nil {
		err = w.addAll(ctx, c, assets)
	}
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("manifest_unavailable")
		w.addEach(ctx, c, w.cfg.FallbackAssets)
	} else {
		w.logger.WithFields(fields).WithField("assets", len(assets)).Info("manifest_assets_cached")
	}

	if w.cfg.SkipWaitingOnInstall {
		if err := w.SkipWaiting(ctx); err != nil {
			w.logger.WithFields(fields).WithError(err).Warn("skip_waiting_failed")
		}
	}

	w.logger.WithFields(fields).Info("install_complete")
	return nil
}

// manifestAssets 拉取并解析 asset manifest，只保留以 .js/.css 结尾的字符串值。
func (w *Worker) manifestAssets(ctx context.Context) ([]string, error) {
	u, err := w.cfg.ResolveURL(w.cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	snap, err := w.network.Fetch(ctx, NewRequest(u))
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	if snap.Status != http.StatusOK {
		return nil, &StatusError{URL: u.String(), Status: snap.Status}
	}
	return parseManifest(snap.Body)
}

func parseManifest(body []byte) ([]string, error) {
	var manifest map[string]any
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(manifest))
	assets := make([]string, 0, len(manifest))
	for _, value := range manifest {
		asset, ok := value.(string)
		if !ok {
			continue
		}
		if !strings.HasSuffix(asset, ".js") && !strings.HasSuffix(asset, ".css") {
			continue
		}
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets, nil
}

// addAll 并发拉取全部资源，任一失败即整体失败且不写入任何条目。
func (w *Worker) addAll(ctx context.Context, c cache.Cache, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	requests := make([]*Request, len(refs))
	for i, ref := range refs {
		u, err := w.cfg.ResolveURL(ref)
		if err != nil {
			return err
		}
		requests[i] = NewRequest(u)
	}

	snaps := make([]*cache.Snapshot, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchLimit)
	for i, req := range requests {
		g.Go(func() error {
			snap, err := w.fetchCacheable(gctx, req)
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, req := range requests {
		if err := c.Put(ctx, req.Key(), sanitizeForStore(snaps[i])); err != nil {
			return fmt.Errorf("store %s: %w", req.URL, err)
		}
	}
	return nil
}

// addEach 逐个缓存资源，单个失败只记日志并继续。
func (w *Worker) addEach(ctx context.Context, c cache.Cache, refs []string) {
	fields := logging.WorkerFields(w.id, w.cfg.CacheName, "install")
	for _, ref := range refs {
		if err := w.add(ctx, c, ref); err != nil {
			w.logger.WithFields(fields).WithField("asset", ref).WithError(err).Warn("fallback_asset_skipped")
		}
	}
}

func (w *Worker) add(ctx context.Context, c cache.Cache, ref string) error {
	u, err := w.cfg.ResolveURL(ref)
	if err != nil {
		return err
	}
	req := NewRequest(u)
	snap, err := w.fetchCacheable(ctx, req)
	if err != nil {
		return err
	}
	return c.Put(ctx, req.Key(), sanitizeForStore(snap))
}

func (w *Worker) fetchCacheable(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	snap, err := w.network.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	if snap.Status != http.StatusOK {
		return nil, &StatusError{URL: req.URL.String(), Status: snap.Status}
	}
	return snap, nil
}
