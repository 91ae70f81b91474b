package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/logging"
)

// ErrNoWorker 表示当前没有可接收消息的 worker。
var ErrNoWorker = errors.New("no worker registered")

// DefaultClientIdleTimeout 是客户端无请求后被移出注册表的默认时长。
const DefaultClientIdleTimeout = 30 * time.Minute

// minJanitorInterval 限制后台回收的最小间隔。
const minJanitorInterval = time.Second

// Registration 扮演平台角色：串行执行安装/激活任务，维护 active/waiting 两个槽位
// 以及每个客户端当前受哪个 worker 控制。
type Registration struct {
	logger *logrus.Logger

	// jobs 串行化生命周期任务（安装、激活）。
	jobs sync.Mutex

	mu      sync.Mutex
	active  *Worker
	waiting *Worker
	clients map[string]*client

	idleTimeout time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

// client 记录控制该客户端的 worker（nil 表示未受控）与最近一次出现的时间。
type client struct {
	controller *Worker
	lastSeen   time.Time
}

// WorkerInfo 是 worker 的只读摘要，供诊断接口输出。
type WorkerInfo struct {
	ID          string `json:"id"`
	CacheName   string `json:"cache_name"`
	State       State  `json:"state"`
	SkipWaiting bool   `json:"skip_waiting"`
	Clients     int    `json:"clients"`
}

// RegistrationSnapshot 汇总 active/waiting 与客户端数量。
type RegistrationSnapshot struct {
	Active       *WorkerInfo `json:"active,omitempty"`
	Waiting      *WorkerInfo `json:"waiting,omitempty"`
	Clients      int         `json:"clients"`
	Uncontrolled int         `json:"uncontrolled"`
}

// NewRegistration 创建空的注册表。
func NewRegistration(logger *logrus.Logger) *Registration {
	return &Registration{
		logger:      logger,
		clients:     make(map[string]*client),
		idleTimeout: DefaultClientIdleTimeout,
		now:         time.Now,
	}
}

// SetClientIdleTimeout 调整客户端空闲回收时长；d <= 0 关闭回收。
func (r *Registration) SetClientIdleTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idleTimeout = d
}

// Register 安装 w；安装失败时 w 变为 redundant 且不影响现有 active。
// 安装成功后，若没有 active、w 请求了 skip-waiting 或 active 不再控制任何客户端，则立即激活。
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	if w == nil {
		return errors.New("worker is required")
	}
	w.attach(r)

	r.jobs.Lock()
	defer r.jobs.Unlock()

	w.setState(StateInstalling)
	if err := w.Install(ctx); err != nil {
		w.setState(StateRedundant)
		r.logLifecycle(w, "install_failed", err)
		return fmt.Errorf("install worker %s: %w", w.CacheName(), err)
	}

	r.mu.Lock()
	previous := r.waiting
	r.waiting = w
	w.setState(StateInstalled)
	r.mu.Unlock()
	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}
	r.logLifecycle(w, "installed", nil)

	return r.tryActivateLocked(ctx, false)
}

// Update 在缓存名称变化（即部署了新版本）时注册新的 worker；返回是否触发了更新。
func (r *Registration) Update(ctx context.Context, w *Worker) (bool, error) {
	if w == nil {
		return false, errors.New("worker is required")
	}
	r.mu.Lock()
	current := r.newestLocked()
	r.mu.Unlock()
	if current != nil && current.CacheName() == w.CacheName() {
		return false, nil
	}
	if err := r.Register(ctx, w); err != nil {
		return false, err
	}
	return true, nil
}

// SkipWaiting 实现 Host：安装中只记录标记，waiting 状态下立即执行激活。
func (r *Registration) SkipWaiting(ctx context.Context, w *Worker) error {
	if w.State() != StateInstalled {
		return nil
	}
	r.jobs.Lock()
	defer r.jobs.Unlock()

	r.mu.Lock()
	isWaiting := r.waiting == w
	r.mu.Unlock()
	if !isWaiting {
		return nil
	}
	return r.tryActivateLocked(ctx, true)
}

// Claim 实现 Host：让所有已知客户端改由 w 控制。
func (r *Registration) Claim(ctx context.Context, w *Worker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != w {
		return errors.New("only the active worker can claim clients")
	}
	for _, c := range r.clients {
		c.controller = w
	}
	return nil
}

// tryActivateLocked 需在持有 jobs 锁时调用。
func (r *Registration) tryActivateLocked(ctx context.Context, force bool) error {
	r.mu.Lock()
	w := r.waiting
	if w == nil {
		r.mu.Unlock()
		return nil
	}
	r.evictIdleLocked(r.now())
	ready := force || r.active == nil || w.SkipWaitingRequested() || r.controlledLocked(r.active) == 0
	if !ready {
		r.mu.Unlock()
		r.logLifecycle(w, "waiting", nil)
		return nil
	}
	previous := r.active
	r.active = w
	r.waiting = nil
	w.setState(StateActivating)
	r.mu.Unlock()

	if previous != nil {
		// 旧版本不再接受新的写入；等进行中的请求落盘后再清理其缓存。
		previous.setState(StateRedundant)
		previous.Settle()
	}

	err := w.Activate(ctx)
	w.setState(StateActivated)
	r.logLifecycle(w, "activated", err)
	return err
}

// Active 返回当前处理 fetch 的 worker，可能为 nil。
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting 返回已安装但尚未激活的 worker，可能为 nil。
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// PostMessage 将消息投递给 waiting worker（不存在时投递给 active）。
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	r.mu.Lock()
	target := r.newestLocked()
	r.mu.Unlock()
	if target == nil {
		return ErrNoWorker
	}
	return target.HandleMessage(ctx, msg)
}

// Attach 记录一个客户端并刷新其最近出现时间；新客户端由当前 active 控制（没有 active 时为未受控）。
func (r *Registration) Attach(clientID string) {
	if clientID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if c, ok := r.clients[clientID]; ok {
		c.lastSeen = now
		return
	}
	if r.idleTimeout > 0 && now.Sub(r.lastSweep) >= r.idleTimeout/2 {
		r.evictIdleLocked(now)
	}
	r.clients[clientID] = &client{controller: r.active, lastSeen: now}
}

// Touch 刷新已知客户端的最近出现时间，未知客户端忽略。
func (r *Registration) Touch(clientID string) {
	if clientID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[clientID]; ok {
		c.lastSeen = r.now()
	}
}

// Sweep 移除空闲客户端；若因此旧版本不再控制任何客户端，则激活 waiting worker。
func (r *Registration) Sweep(ctx context.Context) (int, error) {
	r.jobs.Lock()
	defer r.jobs.Unlock()

	r.mu.Lock()
	evicted := r.evictIdleLocked(r.now())
	hasWaiting := r.waiting != nil
	r.mu.Unlock()

	if evicted > 0 && r.logger != nil {
		r.logger.WithFields(logrus.Fields{"action": "lifecycle", "evicted": evicted}).Debug("idle_clients_evicted")
	}
	if !hasWaiting || evicted == 0 {
		return evicted, nil
	}
	return evicted, r.tryActivateLocked(ctx, false)
}

// RunJanitor 按空闲时长的一半周期执行 Sweep，直到 ctx 结束；回收关闭时立即返回。
func (r *Registration) RunJanitor(ctx context.Context) {
	r.mu.Lock()
	interval := r.idleTimeout / 2
	r.mu.Unlock()
	if interval <= 0 {
		return
	}
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && r.logger != nil {
				r.logger.WithFields(logrus.Fields{"action": "lifecycle"}).WithError(err).Warn("sweep_failed")
			}
		}
	}
}

// Detach 移除客户端；若旧版本已无客户端，则激活 waiting worker。
func (r *Registration) Detach(ctx context.Context, clientID string) (bool, error) {
	r.mu.Lock()
	_, ok := r.clients[clientID]
	delete(r.clients, clientID)
	hasWaiting := r.waiting != nil
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if !hasWaiting {
		return true, nil
	}

	r.jobs.Lock()
	defer r.jobs.Unlock()
	return true, r.tryActivateLocked(ctx, false)
}

// Controller 返回控制指定客户端的 worker。
func (r *Registration) Controller(clientID string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok || c.controller == nil {
		return nil, false
	}
	return c.controller, true
}

// Snapshot 返回注册表当前状态摘要。
func (r *Registration) Snapshot() RegistrationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictIdleLocked(r.now())
	snap := RegistrationSnapshot{Clients: len(r.clients)}
	for _, c := range r.clients {
		if c.controller == nil {
			snap.Uncontrolled++
		}
	}
	if r.active != nil {
		snap.Active = r.infoLocked(r.active)
	}
	if r.waiting != nil {
		snap.Waiting = r.infoLocked(r.waiting)
	}
	return snap
}

// ClientIDs 返回全部客户端标识（排序后）。
func (r *Registration) ClientIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registration) newestLocked() *Worker {
	if r.waiting != nil {
		return r.waiting
	}
	return r.active
}

func (r *Registration) controlledLocked(w *Worker) int {
	count := 0
	for _, c := range r.clients {
		if c.controller == w {
			count++
		}
	}
	return count
}

// evictIdleLocked 需在持有 mu 时调用，返回移除的客户端数。
func (r *Registration) evictIdleLocked(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	r.lastSweep = now
	evicted := 0
	for id, c := range r.clients {
		if now.Sub(c.lastSeen) > r.idleTimeout {
			delete(r.clients, id)
			evicted++
		}
	}
	return evicted
}

func (r *Registration) infoLocked(w *Worker) *WorkerInfo {
	return &WorkerInfo{
		ID:          w.ID(),
		CacheName:   w.CacheName(),
		State:       w.State(),
		SkipWaiting: w.SkipWaitingRequested(),
		Clients:     r.controlledLocked(w),
	}
}

func (r *Registration) logLifecycle(w *Worker, event string, err error) {
	if r.logger == nil {
		return
	}
	fields := logging.WorkerFields(w.ID(), w.CacheName(), "lifecycle")
	fields["event"] = event
	fields["state"] = string(w.State())
	if err != nil {
		r.logger.WithFields(fields).WithError(err).Warn("worker_" + event)
		return
	}
	r.logger.WithFields(fields).Info("worker_" + event)
}
