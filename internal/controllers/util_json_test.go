package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderError(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(c, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "missing input",
			err:        &domain.InspectError{Kind: domain.KindMissingInput, Message: "PDF file required"},
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"error": "PDF file required"},
		},
		{
			name: "process failure carries details",
			err: &domain.InspectError{
				Kind:         domain.KindProcessExecutionFailure,
				Message:      "Processing failed",
				Details:      "Traceback: boom",
				InspectionID: "abc",
			},
			wantStatus: http.StatusInternalServerError,
			wantBody: map[string]any{
				"error":         "Processing failed",
				"details":       "Traceback: boom",
				"inspection_id": "abc",
			},
		},
		{
			name:       "malformed output carries raw",
			err:        &domain.InspectError{Kind: domain.KindMalformedProcessOutput, Message: "Invalid analyzer output", Raw: "not json"},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "Invalid analyzer output", "raw": "not json"},
		},
		{
			name:       "not found names the file",
			err:        &domain.InspectError{Kind: domain.KindArtifactNotFound, Message: "File not found", File: "x.xlsx"},
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "File not found", "file": "x.xlsx"},
		},
		{
			name:       "plain error is internal",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "Internal error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := renderError(t, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, body)
			assert.Empty(t, w.Header().Get("Retry-After"))
		})
	}
}

func TestWriteError_BusySetsRetryAfter(t *testing.T) {
	w, body := renderError(t, &domain.InspectError{Kind: domain.KindAnalyzerBusy, Message: "Analyzer busy, retry later"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, "Analyzer busy, retry later", body["error"])
}
