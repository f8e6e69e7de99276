package handler

import (
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/storage"
	"github.com/makeastory/api/pkg/response"
)

const downloadLinkTTL = 15 * time.Minute

type DownloadHandler struct {
	storage storage.Storage
}

func NewDownloadHandler(s storage.Storage) *DownloadHandler {
	return &DownloadHandler{storage: s}
}

// Download handles GET /api/download/:filename
func (h *DownloadHandler) Download(c *fiber.Ctx) error {
	name := c.Params("filename")
	if name == "" || name != filepath.Base(name) {
		return response.ValidationError(c, "Invalid filename", nil)
	}

	if linker, ok := h.storage.(storage.Linker); ok {
		url, err := linker.Link(c.Context(), name, downloadLinkTTL)
		if err != nil {
			return writeError(c, err)
		}
		return c.Redirect(url, fiber.StatusFound)
	}

	rc, err := h.storage.Open(c.Context(), name)
	if err != nil {
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, client.MIMETypeForPath(name))
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.SendStream(rc)
}
