package controllers

import (
	"path/filepath"

	"github.com/osvaldoandrade/gdtrelay/internal/services"

	"github.com/gin-gonic/gin"
)

type downloadController struct{ svc services.ArtifactService }

func NewDownloadController(svc services.ArtifactService) *downloadController {
	return &downloadController{svc: svc}
}

func (h *downloadController) Handle(c *gin.Context) {
	name := c.Param("filename")
	path, err := h.svc.Resolve(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}
