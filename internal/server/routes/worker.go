package routes

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/folio-edge/folio-edge/internal/cache"
	"github.com/folio-edge/folio-edge/internal/worker"
)

// ControlTokenHeader 携带调用 `/-/sw` 写操作所需的共享令牌。
const ControlTokenHeader = "X-Folio-Control-Token"

// Reloader 重新读取配置并构造新版本 worker，供 `/-/sw/update` 使用。
type Reloader func(ctx context.Context) (*worker.Worker, error)

// WorkerRoutes 汇总 worker 控制接口依赖。
type WorkerRoutes struct {
	Registration *worker.Registration
	Storage      cache.Storage
	Reload       Reloader
	Logger       *logrus.Logger
	// ControlToken 为空时写操作只接受本机回环地址。
	ControlToken string
}

// RegisterWorkerRoutes 暴露 `/-/sw*` 控制通道与 `/-/caches` 诊断接口。
func RegisterWorkerRoutes(app *fiber.App, deps WorkerRoutes) {
	if app == nil || deps.Registration == nil {
		return
	}
	registration := deps.Registration
	guard := controlGuard(deps.ControlToken)

	app.Get("/-/sw", func(c fiber.Ctx) error {
		return c.JSON(registration.Snapshot())
	})

	app.Post("/-/sw/message", guard, func(c fiber.Ctx) error {
		var msg worker.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil || strings.TrimSpace(msg.Type) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}
		err := registration.PostMessage(c.Context(), msg)
		var unknown *worker.UnknownMessageError
		switch {
		case err == nil:
		case errors.Is(err, worker.ErrNoWorker):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_worker"})
		case errors.As(err, &unknown):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_message", "type": unknown.Type})
		default:
			logError(deps.Logger, "message", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
		}
		return c.JSON(fiber.Map{"delivered": msg.Type, "registration": registration.Snapshot()})
	})

	app.Post("/-/sw/update", guard, func(c fiber.Ctx) error {
		if deps.Reload == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "update_unavailable"})
		}
		next, err := deps.Reload(c.Context())
		if err != nil {
			logError(deps.Logger, "update", err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "reload_failed", "detail": err.Error()})
		}
		updated, err := registration.Update(c.Context(), next)
		if err != nil {
			logError(deps.Logger, "update", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "install_failed", "detail": err.Error()})
		}
		return c.JSON(fiber.Map{"updated": updated, "registration": registration.Snapshot()})
	})

	app.Delete("/-/sw/clients/:id", guard, func(c fiber.Ctx) error {
		found, err := registration.Detach(c.Context(), c.Params("id"))
		if err != nil {
			logError(deps.Logger, "detach", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activate_failed"})
		}
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
		}
		return c.JSON(registration.Snapshot())
	})

	if deps.Storage != nil {
		app.Get("/-/caches", func(c fiber.Ctx) error {
			payload, err := encodeCaches(c.Context(), deps.Storage, registration.Active())
			if err != nil {
				logError(deps.Logger, "caches", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_failed"})
			}
			return c.JSON(fiber.Map{"caches": payload})
		})
	}
}

// controlGuard 校验控制令牌；未配置令牌时仅放行回环地址。
func controlGuard(token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if token != "" {
			if subtle.ConstantTimeCompare([]byte(c.Get(ControlTokenHeader)), []byte(token)) == 1 {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		if ip := net.ParseIP(c.IP()); ip != nil && ip.IsLoopback() {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}
}

type cachePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

func encodeCaches(ctx context.Context, storage cache.Storage, active *worker.Worker) ([]cachePayload, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	current := ""
	if active != nil {
		current = active.CacheName()
	}
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		c, err := storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, err
		}
		result = append(result, cachePayload{Name: name, Entries: len(keys), Current: name == current})
	}
	return result, nil
}

func logError(logger *logrus.Logger, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{"action": action}).WithError(err).Warn("control_request_failed")
}
