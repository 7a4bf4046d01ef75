package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"

	"github.com/gin-gonic/gin"
)

const busyRetryAfterSeconds = "5"

// writeError renders err as the relay's error envelope.
func writeError(c *gin.Context, err error) {
	var ie *domain.InspectError
	if !errors.As(err, &ie) {
		ie = domain.NewInspectError(domain.KindInternal, "Internal error", err)
	}
	body := gin.H{"error": ie.Message}
	if ie.Details != "" {
		body["details"] = ie.Details
	}
	if ie.Raw != "" {
		body["raw"] = ie.Raw
	}
	if ie.Kind == domain.KindArtifactNotFound || ie.Kind == domain.KindInvalidArtifactName {
		body["file"] = ie.File
	}
	if ie.InspectionID != "" {
		body["inspection_id"] = ie.InspectionID
	}
	if ie.Kind == domain.KindAnalyzerBusy {
		c.Header("Retry-After", busyRetryAfterSeconds)
	}
	status := ie.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}
