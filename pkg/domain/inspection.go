package domain

import (
	"encoding"
	"time"
)

type InspectionStatus string

const (
	InspectionProcessing InspectionStatus = "PROCESSING"
	InspectionSucceeded  InspectionStatus = "SUCCEEDED"
	InspectionFailed     InspectionStatus = "FAILED"
)

var (
	_ encoding.BinaryMarshaler = InspectionStatus("")
	_ encoding.TextMarshaler   = InspectionStatus("")
)

func (s InspectionStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s InspectionStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

// UploadedFile is a staged copy of the client's PDF, owned by one request.
type UploadedFile struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
}

// InspectionRecord tracks one upload/analyze cycle.
type InspectionRecord struct {
	ID             string           `json:"id"`
	Status         InspectionStatus `json:"status"`
	OriginalName   string           `json:"original_name"`
	Size           int64            `json:"size"`
	ArtifactName   string           `json:"artifact_name,omitempty"`
	ArtifactSheets []string         `json:"artifact_sheets,omitempty"`
	ArtifactRows   int              `json:"artifact_rows,omitempty"`
	Summary        *SummaryReport   `json:"summary,omitempty"`
	ErrorKind      ErrorKind        `json:"error_kind,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	DurationMs     int64            `json:"duration_ms,omitempty"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// DownloadURL is the relative path clients use to fetch the artifact.
func DownloadURL(artifactName string) string {
	return "/inspect/download/" + artifactName
}

// InspectResponse is the success envelope of POST /inspect.
type InspectResponse struct {
	Status           string         `json:"status"`
	Summary          *SummaryReport `json:"summary"`
	ExcelDownloadURL string         `json:"excel_download_url"`
	InspectionID     string         `json:"inspection_id"`
}
