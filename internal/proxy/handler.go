package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/cache"
	"github.com/folio-edge/folio-edge/internal/logging"
	"github.com/folio-edge/folio-edge/internal/server"
	"github.com/folio-edge/folio-edge/internal/worker"
)

// Controller 提供当前处理 fetch 的 worker（worker.Registration 实现）。
type Controller interface {
	Active() *worker.Worker
}

// Handler 把浏览器请求转换成 worker.Request 交给 active worker；
// 没有 active worker 或请求不被拦截时直接回源。
type Handler struct {
	controller Controller
	network    worker.Network
	origin     *url.URL
	logger     *logrus.Logger
}

// NewHandler 构造代理 handler；origin 用于没有 active worker 时的直连回源。
func NewHandler(controller Controller, network worker.Network, origin *url.URL, logger *logrus.Logger) *Handler {
	return &Handler{
		controller: controller,
		network:    network,
		origin:     origin,
		logger:     logger,
	}
}

// Handle 执行拦截并写回响应；拦截失败统一返回 502 upstream_failed。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	active := h.controller.Active()
	origin := h.origin
	if active != nil {
		origin = active.Config().Origin
	}
	if origin == nil {
		return h.writeError(c, fiber.StatusServiceUnavailable, "origin_unconfigured")
	}
	req := buildRequest(c, origin)

	var (
		resp *worker.Response
		err  error
	)
	if active != nil {
		resp, err = active.Fetch(ctx, req)
	} else {
		err = worker.ErrNotIntercepted
	}
	if errors.Is(err, worker.ErrNotIntercepted) {
		resp, err = h.passThrough(ctx, req)
	}

	cacheName := ""
	if active != nil {
		cacheName = active.CacheName()
	}
	if err != nil {
		h.logResult(c, req, cacheName, nil, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	h.logResult(c, req, cacheName, resp, started, nil)
	return writeSnapshot(c, resp)
}

func (h *Handler) passThrough(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	snap, err := h.network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &worker.Response{Snapshot: snap, Strategy: worker.StrategyIgnore}, nil
}

// buildRequest 把 Fiber 请求映射到源站绝对地址；路径做 Clean 防止越级。
func buildRequest(c fiber.Ctx, origin *url.URL) *worker.Request {
	uri := c.Request().URI()
	raw := string(uri.Path())
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}

	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	header.Del(fiber.HeaderHost)
	stripClientCookie(header)
	header.Set("X-Forwarded-Host", c.Hostname())
	header.Set("X-Forwarded-Proto", c.Protocol())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}

	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	return &worker.Request{
		Method:   c.Method(),
		URL:      origin.ResolveReference(relative),
		Header:   header,
		Body:     body,
		Navigate: server.IsNavigationRequest(c),
	}
}

// stripClientCookie 去掉边缘节点自己的客户端 cookie，源站与缓存策略只看到站点 cookie。
func stripClientCookie(header http.Header) {
	lines := header.Values(fiber.HeaderCookie)
	if len(lines) == 0 {
		return
	}
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		for _, pair := range strings.Split(line, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, _, _ := strings.Cut(pair, "=")
			if strings.TrimSpace(name) == server.ClientCookie {
				continue
			}
			kept = append(kept, pair)
		}
	}
	header.Del(fiber.HeaderCookie)
	if len(kept) > 0 {
		header.Set(fiber.HeaderCookie, strings.Join(kept, "; "))
	}
}

func writeSnapshot(c fiber.Ctx, resp *worker.Response) error {
	snap := resp.Snapshot
	if snap == nil {
		snap = &cache.Snapshot{Status: http.StatusNoContent}
	}
	for key, values := range snap.Header {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Set("X-Folio-Strategy", resp.Strategy.String())
	c.Set("X-Folio-Cache-Hit", strconv.FormatBool(resp.FromCache))
	if reqID := server.RequestID(c); reqID != "" {
		c.Set("X-Request-ID", reqID)
	}
	c.Status(snap.Status)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(snap.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(c fiber.Ctx, req *worker.Request, cacheName string, resp *worker.Response, started time.Time, err error) {
	strategy := worker.StrategyIgnore
	cacheHit := false
	status := 0
	if resp != nil {
		strategy = resp.Strategy
		cacheHit = resp.FromCache
		if resp.Snapshot != nil {
			status = resp.Snapshot.Status
		}
	}

	fields := logging.RequestFields(req.Method, req.URL.Path, strategy.String(), cacheName, cacheHit)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["navigate"] = req.Navigate
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := server.RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if clientID := server.ClientID(c); clientID != "" {
		fields["client_id"] = clientID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
