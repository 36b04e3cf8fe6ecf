// Package fiberapi mounts the engine on a Fiber application. The route
// table itself is served through the net/http dispatcher via Fiber's
// adaptor so both transports share one implementation; what this package
// adds is Fiber-native protected-route middleware.
package fiberapi

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/lmarrec/gatehouse"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/transport/httpapi"
)

// Register mounts the engine's endpoints under its base path.
func Register(app *fiber.App, e *gatehouse.Engine) {
	h := adaptor.HTTPHandler(httpapi.NewRouter(e))
	app.All(e.BasePath, h)
	app.All(e.BasePath+"/*", h)
}

// BuildProtectedMiddleware creates a Fiber middleware that validates session
// tokens and stores user/session data in the context for downstream
// application handlers.
func BuildProtectedMiddleware(e *gatehouse.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		req, err := adaptor.ConvertRequest(c, false)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"code":    core.CodeAdapterError,
				"message": "internal error",
			})
		}

		token := httpapi.ExtractToken(e, req)
		if token == "" {
			return unauthorized(c, core.CodeUnauthorized, "missing session token")
		}

		data, err := e.GetSession(c.Context(), token)
		if err != nil {
			apiErr := core.APIErrorFrom(err)
			return c.Status(apiErr.Status).JSON(apiErr)
		}
		if data == nil {
			return unauthorized(c, core.CodeUnauthorized, "invalid session token")
		}

		// Store user and session in context for downstream handlers
		c.Locals("user", data.User)
		c.Locals("session", data.Session)

		return c.Next()
	}
}

func unauthorized(c fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"code":    code,
		"message": message,
	})
}
