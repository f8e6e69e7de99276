package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/auth"
	"github.com/makeastory/api/pkg/response"
)

// Authenticate validates the bearer token of every request and stores the
// caller identity in the context locals.
func Authenticate(verifier auth.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get("Authorization"))
		if err != nil {
			if errors.Is(err, auth.ErrMissingToken) {
				return response.Unauthorized(c, "Missing authorization header")
			}
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		if verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}
		id, err := verifier.Verify(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id)
		return c.Next()
	}
}

// GatewayAuth reads the identity from X-User-* headers set by the API
// gateway after it verified the token.
func GatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
		})
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals("userId", id.UserID)
	c.Locals("email", id.Email)
	c.Locals("name", id.Name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
