package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/gdtrelay/internal/middleware"
	"github.com/osvaldoandrade/gdtrelay/internal/services"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"

	"github.com/gin-gonic/gin"
)

// UploadField is the multipart field carrying the PDF.
const UploadField = "pdf"

type inspectController struct {
	svc      services.InspectionService
	maxBytes int64
}

func NewInspectController(svc services.InspectionService, maxBytes int64) *inspectController {
	return &inspectController{svc: svc, maxBytes: maxBytes}
}

func (h *inspectController) Handle(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	fh, err := c.FormFile(UploadField)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(c, &domain.InspectError{Kind: domain.KindPayloadTooLarge, Message: "PDF exceeds upload limit", Err: err})
			return
		}
		// no file: the service rejects before staging or invoking anything
		_, err = h.svc.Inspect(c.Request.Context(), "", nil)
		writeError(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, domain.NewInspectError(domain.KindInternal, "Cannot read upload", err))
		return
	}
	defer f.Close()

	middleware.LoggerFrom(c).Debug("inspect upload received", "file", fh.Filename, "size", fh.Size)

	resp, err := h.svc.Inspect(c.Request.Context(), fh.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
