package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClientCookie 保存浏览器会话标识，对应一个受 worker 控制的客户端。
const ClientCookie = "folio_client"

// ProxyHandler 负责把站点请求交给 active worker 或直接回源，测试中可替换为 fake。
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// ClientTracker 记录导航请求对应的客户端，并在子资源请求上刷新其活跃时间（worker.Registration 实现）。
type ClientTracker interface {
	Attach(clientID string)
	Touch(clientID string)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Clients    ClientTracker
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRequestID = "_folio_request_id"
	contextKeyClientID  = "_folio_client_id"
)

// NewApp builds the Fiber application: request ID + client tracking middleware,
// `/-/` diagnostics left to routes registered later, everything else proxied.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Clients == nil {
		return nil, errors.New("client tracker is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "folio-edge",
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID；导航请求额外分配/续用客户端 cookie 并登记到注册表，
// 其余带 cookie 的请求只刷新客户端活跃时间。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		clientID := strings.TrimSpace(c.Cookies(ClientCookie))
		if IsNavigationRequest(c) {
			if clientID == "" {
				clientID = uuid.NewString()
				c.Cookie(&fiber.Cookie{
					Name:     ClientCookie,
					Value:    clientID,
					Path:     "/",
					HTTPOnly: true,
					SameSite: fiber.CookieSameSiteLaxMode,
				})
				opts.Logger.WithFields(logrus.Fields{
					"action":     "client_attach",
					"client_id":  clientID,
					"request_id": reqID,
				}).Debug("client_created")
			}
			opts.Clients.Attach(clientID)
		} else if clientID != "" {
			opts.Clients.Touch(clientID)
		}
		if clientID != "" {
			c.Locals(contextKeyClientID, clientID)
		}
		return c.Next()
	}
}

// IsNavigationRequest 判断请求是否为页面导航：Sec-Fetch-Mode=navigate，
// 或旧浏览器上 Accept 含 text/html 的 GET。
func IsNavigationRequest(c fiber.Ctx) bool {
	if mode := c.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if c.Method() != fiber.MethodGet {
		return false
	}
	return strings.Contains(strings.ToLower(c.Get(fiber.HeaderAccept)), "text/html")
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value, ok := c.Locals(contextKeyRequestID).(string); ok {
		return value
	}
	return ""
}

// ClientID 返回当前请求携带的客户端标识，没有时为空。
func ClientID(c fiber.Ctx) string {
	if value, ok := c.Locals(contextKeyClientID).(string); ok {
		return value
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
