package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindMissingInput            ErrorKind = "MISSING_INPUT"
	KindPayloadTooLarge         ErrorKind = "PAYLOAD_TOO_LARGE"
	KindProcessExecutionFailure ErrorKind = "PROCESS_EXECUTION_FAILURE"
	KindMalformedProcessOutput  ErrorKind = "MALFORMED_PROCESS_OUTPUT"
	KindMissingSummaryArtifact  ErrorKind = "MISSING_SUMMARY_ARTIFACT"
	KindInvalidSummary          ErrorKind = "INVALID_SUMMARY"
	KindMissingFilenameField    ErrorKind = "MISSING_FILENAME_FIELD"
	KindInvalidArtifactName     ErrorKind = "INVALID_ARTIFACT_NAME"
	KindArtifactNotFound        ErrorKind = "ARTIFACT_NOT_FOUND"
	KindAnalyzerBusy            ErrorKind = "ANALYZER_BUSY"
	KindInternal                ErrorKind = "INTERNAL"
)

var kindStatus = map[ErrorKind]int{
	KindMissingInput:            http.StatusBadRequest,
	KindPayloadTooLarge:         http.StatusRequestEntityTooLarge,
	KindProcessExecutionFailure: http.StatusInternalServerError,
	KindMalformedProcessOutput:  http.StatusInternalServerError,
	KindMissingSummaryArtifact:  http.StatusInternalServerError,
	KindInvalidSummary:          http.StatusInternalServerError,
	KindMissingFilenameField:    http.StatusInternalServerError,
	KindInvalidArtifactName:     http.StatusBadRequest,
	KindArtifactNotFound:        http.StatusNotFound,
	KindAnalyzerBusy:            http.StatusTooManyRequests,
	KindInternal:                http.StatusInternalServerError,
}

// HTTPStatus maps the kind onto the status code returned to clients.
func (k ErrorKind) HTTPStatus() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// InspectError is the terminal error of an inspection or download request.
// Details carries diagnostic text (stderr, validation output), Raw the
// unparsed analyzer stdout and File the artifact name a download asked for.
type InspectError struct {
	Kind         ErrorKind
	Message      string
	Details      string
	Raw          string
	File         string
	InspectionID string
	Err          error
}

func (e *InspectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *InspectError) Unwrap() error { return e.Err }

func NewInspectError(kind ErrorKind, message string, cause error) *InspectError {
	return &InspectError{Kind: kind, Message: message, Err: cause}
}

// KindOf classifies err, falling back to KindInternal.
func KindOf(err error) ErrorKind {
	var ie *InspectError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindInternal
}
