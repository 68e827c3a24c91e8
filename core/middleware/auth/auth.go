// Package auth protects the admin API with a shared API key.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// Header carries the API key.
	Header = "X-API-Key"
	// PrivilegedKey is the fiber Locals key set on authenticated requests.
	PrivilegedKey = "privileged"
)

// Config holds the middleware settings.
type Config struct {
	// ApiKey is the expected key. Empty disables the check and every request is privileged.
	ApiKey string
	// Public lists path prefixes that skip the check (e.g. /swagger, /metrics).
	Public []string
}

// New returns the middleware. Authenticated requests are marked privileged.
func New(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, p := range cfg.Public {
			if strings.HasPrefix(c.Path(), p) {
				return c.Next()
			}
		}
		if cfg.ApiKey == "" {
			c.Locals(PrivilegedKey, true)
			return c.Next()
		}

		key := c.Get(Header)
		if key == "" {
			key = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.ApiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		c.Locals(PrivilegedKey, true)
		return c.Next()
	}
}

// Privileged reports whether the request passed authentication.
func Privileged(c *fiber.Ctx) bool {
	v, _ := c.Locals(PrivilegedKey).(bool)
	return v
}
