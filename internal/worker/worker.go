package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/cache"
	"github.com/folio-edge/folio-edge/internal/logging"
)

// Network 执行一次真实的网络请求；只有传输失败才返回 error，非 200 状态照常返回快照。
type Network interface {
	Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error)
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(ctx context.Context, req *Request) (*cache.Snapshot, error)

// Fetch makes NetworkFunc satisfy Network.
func (f NetworkFunc) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	return f(ctx, req)
}

// Host 是 worker 所在的平台侧（Registration），负责生命周期提升与客户端接管。
type Host interface {
	SkipWaiting(ctx context.Context, w *Worker) error
	Claim(ctx context.Context, w *Worker) error
}

// State 描述 worker 生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ErrNotIntercepted 表示请求不经 worker 处理，调用方应直接转发。
var ErrNotIntercepted = errors.New("request not intercepted")

// Options 汇总构造 Worker 所需的依赖。
type Options struct {
	Config  Config
	Storage cache.Storage
	Network Network
	Logger  *logrus.Logger
}

// Worker 是单个版本的缓存 worker，按 Config 处理安装/激活/拦截/消息事件。
type Worker struct {
	id      string
	cfg     Config
	storage cache.Storage
	network Network
	logger  *logrus.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
	host        Host

	background sync.WaitGroup
}

// Response 是拦截结果：返回给调用方的快照及其来源。
type Response struct {
	Snapshot  *cache.Snapshot
	Strategy  Strategy
	FromCache bool
}

// New 校验配置并创建处于 parsed 状态的 Worker。
func New(opts Options) (*Worker, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		id:      uuid.NewString(),
		cfg:     opts.Config,
		storage: opts.Storage,
		network: opts.Network,
		logger:  opts.Logger,
		state:   StateParsed,
	}, nil
}

// ID 返回 worker 实例标识。
func (w *Worker) ID() string {
	return w.id
}

// CacheName 返回当前版本使用的缓存名称。
func (w *Worker) CacheName() string {
	return w.cfg.CacheName
}

// Config 返回注入的配置副本。
func (w *Worker) Config() Config {
	return w.cfg
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) attach(host Host) {
	w.mu.Lock()
	w.host = host
	w.mu.Unlock()
}

func (w *Worker) currentHost() Host {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.host
}

// SkipWaitingRequested 报告 worker 是否已请求跳过 waiting 阶段。
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// SkipWaiting 记录跳过 waiting 的请求并通知宿主；宿主决定何时真正激活。
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	host := w.host
	w.mu.Unlock()

	if host == nil {
		return nil
	}
	return host.SkipWaiting(ctx, w)
}

// Settle 等待进行中的 fetch 与后台缓存写入结束，浏览器中对应事件生命周期结束前的收尾。
func (w *Worker) Settle() {
	w.background.Wait()
}

// enter 在 worker 尚未被替换时登记一个进行中的任务，调用方完成后需调用 background.Done。
// redundant 之后不再登记，保证 Settle 返回后不会有新的缓存读写。
func (w *Worker) enter() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRedundant {
		return false
	}
	w.background.Add(1)
	return true
}

// Fetch 按 Classify 的结果执行对应策略。StrategyIgnore 返回 ErrNotIntercepted。
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Response, error) {
	strategy := Classify(w.cfg, req)
	if strategy == StrategyIgnore {
		return nil, ErrNotIntercepted
	}
	// 已被新版本替换的 worker 不再打开自己的缓存，避免已清理的缓存被重新创建。
	if !w.enter() {
		return nil, ErrNotIntercepted
	}
	defer w.background.Done()

	c, err := w.storage.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", w.cfg.CacheName, err)
	}

	switch strategy {
	case StrategyNetworkFirst:
		return w.networkFirst(ctx, c, req)
	case StrategyCacheFirst:
		return w.cacheFirst(ctx, c, req)
	case StrategyNavigationFallback:
		return w.navigationFallback(ctx, c, req)
	default:
		return w.cacheThenNetwork(ctx, c, req)
	}
}

func (w *Worker) networkFirst(ctx context.Context, c cache.Cache, req *Request) (*Response, error) {
	snap, err := w.network.Fetch(ctx, req)
	if err != nil {
		if cached := w.match(ctx, c, req.Key()); cached != nil {
			w.logFetch(req, StrategyNetworkFirst, true, err)
			return &Response{Snapshot: cached, Strategy: StrategyNetworkFirst, FromCache: true}, nil
		}
		w.logFetch(req, StrategyNetworkFirst, false, err)
		return nil, err
	}
	if storable(req, snap) {
		w.storeInBackground(ctx, c, req, snap)
	}
	return &Response{Snapshot: snap, Strategy: StrategyNetworkFirst}, nil
}

// cacheFirst 的网络失败不做兜底，直接抛给调用方。
func (w *Worker) cacheFirst(ctx context.Context, c cache.Cache, req *Request) (*Response, error) {
	if cached := w.match(ctx, c, req.Key()); cached != nil {
		return &Response{Snapshot: cached, Strategy: StrategyCacheFirst, FromCache: true}, nil
	}
	snap, err := w.network.Fetch(ctx, req)
	if err != nil {
		w.logFetch(req, StrategyCacheFirst, false, err)
		return nil, err
	}
	if storable(req, snap) {
		w.storeInBackground(ctx, c, req, snap)
	}
	return &Response{Snapshot: snap, Strategy: StrategyCacheFirst}, nil
}

func (w *Worker) navigationFallback(ctx context.Context, c cache.Cache, req *Request) (*Response, error) {
	if cached := w.matchPath(ctx, c, w.cfg.IndexPath); cached != nil {
		return &Response{Snapshot: cached, Strategy: StrategyNavigationFallback, FromCache: true}, nil
	}
	snap, err := w.network.Fetch(ctx, req)
	if err == nil {
		return &Response{Snapshot: snap, Strategy: StrategyNavigationFallback}, nil
	}
	if offline := w.matchPath(ctx, c, w.cfg.OfflinePath); offline != nil {
		w.logFetch(req, StrategyNavigationFallback, true, err)
		return &Response{Snapshot: offline, Strategy: StrategyNavigationFallback, FromCache: true}, nil
	}
	w.logFetch(req, StrategyNavigationFallback, false, err)
	return nil, err
}

func (w *Worker) cacheThenNetwork(ctx context.Context, c cache.Cache, req *Request) (*Response, error) {
	if cached := w.match(ctx, c, req.Key()); cached != nil {
		return &Response{Snapshot: cached, Strategy: StrategyDefault, FromCache: true}, nil
	}
	snap, err := w.network.Fetch(ctx, req)
	if err != nil {
		w.logFetch(req, StrategyDefault, false, err)
		return nil, err
	}
	return &Response{Snapshot: snap, Strategy: StrategyDefault}, nil
}

// match 查询缓存；读取错误记日志后按未命中处理。
func (w *Worker) match(ctx context.Context, c cache.Cache, key string) *cache.Snapshot {
	snap, err := c.Match(ctx, key)
	switch {
	case err == nil:
		return snap
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		w.logger.WithError(err).
			WithFields(logging.WorkerFields(w.id, w.cfg.CacheName, "cache_match")).
			WithField("key", key).
			Warn("cache_match_failed")
		return nil
	}
}

func (w *Worker) matchPath(ctx context.Context, c cache.Cache, p string) *cache.Snapshot {
	u, err := w.cfg.ResolveURL(p)
	if err != nil {
		return nil
	}
	return w.match(ctx, c, cache.Key(http.MethodGet, u.String()))
}

// storeInBackground 在独立 goroutine 中写入去掉 Set-Cookie 的副本，失败只记日志。
// 调用方需先用 storable 判断是否可写入。
func (w *Worker) storeInBackground(ctx context.Context, c cache.Cache, req *Request, snap *cache.Snapshot) {
	if !w.enter() {
		return
	}
	clone := sanitizeForStore(snap)
	key := req.Key()
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		defer w.background.Done()
		if err := c.Put(bgCtx, key, clone); err != nil {
			w.logger.WithError(err).
				WithFields(logging.WorkerFields(w.id, w.cfg.CacheName, "cache_write")).
				WithField("key", key).
				Warn("cache_write_failed")
		}
	}()
}

func (w *Worker) logFetch(req *Request, strategy Strategy, recovered bool, err error) {
	fields := logging.WorkerFields(w.id, w.cfg.CacheName, "fetch")
	fields["strategy"] = strategy.String()
	fields["url"] = req.URL.String()
	fields["method"] = req.method()
	fields["recovered"] = recovered
	entry := w.logger.WithFields(fields).WithError(err)
	if recovered {
		entry.Warn("network_failed_served_cache")
		return
	}
	entry.Error("network_failed")
}
