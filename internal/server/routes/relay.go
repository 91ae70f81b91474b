package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/folio-edge/folio-edge/internal/relay"
)

// RegisterRelayRoutes 暴露 `POST /-/relay/contact`，接受 JSON 或表单提交。
func RegisterRelayRoutes(app *fiber.App, mailer *relay.Mailer) {
	if app == nil || mailer == nil {
		return
	}

	app.Post("/-/relay/contact", func(c fiber.Ctx) error {
		contact, ok := decodeContact(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}

		err := mailer.Send(c.Context(), contact)
		var invalid *relay.ValidationError
		switch {
		case err == nil:
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sent"})
		case errors.Is(err, relay.ErrUnconfigured):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "relay_unconfigured"})
		case errors.As(err, &invalid):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "invalid_contact",
				"field":  invalid.Field,
				"reason": invalid.Reason,
			})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "relay_failed"})
		}
	})
}

func decodeContact(c fiber.Ctx) (relay.Contact, bool) {
	var contact relay.Contact
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(c.Body(), &contact); err != nil {
			return contact, false
		}
		return contact, true
	}
	contact.Name = c.FormValue("name")
	contact.Email = c.FormValue("email")
	contact.Message = c.FormValue("message")
	return contact, true
}
