package worker

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/folio-edge/folio-edge/internal/logging"
)

// Activate 执行激活事件：并行删除所有非当前版本的缓存（收集全部结果，单个失败不影响其它），
// 清理结束后接管全部客户端。返回的 error 汇总了清理与接管中的失败。
func (w *Worker) Activate(ctx context.Context) error {
	fields := logging.WorkerFields(w.id, w.cfg.CacheName, "activate")

	names, err := w.storage.Names(ctx)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Error("cache_enumerate_failed")
		return fmt.Errorf("enumerate caches: %w", err)
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, name := range names {
		if name == w.cfg.CacheName {
			continue
		}
		p.Go(func(ctx context.Context) error {
			if _, err := w.storage.Delete(ctx, name); err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			w.logger.WithFields(fields).WithField("cache", name).Info("stale_cache_deleted")
			return nil
		})
	}
	cleanupErr := p.Wait()
	if cleanupErr != nil {
		w.logger.WithFields(fields).WithError(cleanupErr).Warn("stale_cache_cleanup_incomplete")
	}

	if host := w.currentHost(); host != nil {
		if err := host.Claim(ctx, w); err != nil {
			w.logger.WithFields(fields).WithError(err).Warn("clients_claim_failed")
			if cleanupErr == nil {
				return fmt.Errorf("claim clients: %w", err)
			}
			return fmt.Errorf("%w; claim clients: %v", cleanupErr, err)
		}
	}
	return cleanupErr
}
