package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/auth"
	"github.com/makeastory/api/pkg/response"
)

type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify. A gateway calls it before forwarding a
// request and copies the X-User-* headers onto the upstream call.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return response.Unauthorized(c, err.Error())
	}

	id, err := h.verifier.Verify(token)
	if err != nil {
		return response.Unauthorized(c, "Invalid or expired token")
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	return response.OK(c, fiber.Map{
		"valid":  true,
		"userId": id.UserID,
		"email":  id.Email,
	})
}
