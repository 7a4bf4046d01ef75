package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/osvaldoandrade/gdtrelay/internal/tracing"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
)

const uploadField = "pdf"

// APIError is a non-2xx answer from the relay, decoded from its error envelope.
type APIError struct {
	Status       int           `json:"-"`
	Message      string        `json:"error"`
	Details      string        `json:"details,omitempty"`
	Raw          string        `json:"raw,omitempty"`
	File         string        `json:"file,omitempty"`
	InspectionID string        `json:"inspection_id,omitempty"`
	RetryAfter   time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s (%d): %s", msg, e.Status, strings.TrimSpace(e.Details))
	}
	return fmt.Sprintf("%s (%d)", msg, e.Status)
}

type Client struct {
	rc      *resty.Client
	baseURL string
}

func New(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		tracing.InjectHeaders(r.Context(), r.Header)
		return nil
	})
	return &Client{rc: rc, baseURL: baseURL}
}

func (c *Client) BaseURL() string { return c.baseURL }

// AbsoluteURL joins a relay-relative path such as excel_download_url with
// the base URL.
func (c *Client) AbsoluteURL(rel string) string {
	return AbsoluteURL(c.baseURL, rel)
}

func AbsoluteURL(base, rel string) string {
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") {
		return rel
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return strings.TrimRight(base, "/") + rel
}

// Inspect uploads the PDF at path and waits for the analysis. Failures,
// including a busy relay, are returned as is.
func (c *Client) Inspect(ctx context.Context, path string) (*domain.InspectResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.InspectReader(ctx, filepath.Base(path), f)
}

func (c *Client) InspectReader(ctx context.Context, name string, r io.Reader) (*domain.InspectResponse, error) {
	var out domain.InspectResponse
	res, err := c.rc.R().
		SetContext(ctx).
		SetFileReader(uploadField, name, r).
		SetResult(&out).
		Post("/inspect")
	if err != nil {
		return nil, fmt.Errorf("post inspect: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}
	return &out, nil
}

func (c *Client) Inspection(ctx context.Context, id string) (*domain.InspectionRecord, error) {
	var out domain.InspectionRecord
	res, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/inspections/{id}")
	if err != nil {
		return nil, fmt.Errorf("get inspection: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}
	return &out, nil
}

func (c *Client) Inspections(ctx context.Context, limit int) ([]domain.InspectionRecord, error) {
	var out struct {
		Inspections []domain.InspectionRecord `json:"inspections"`
	}
	req := c.rc.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	res, err := req.Get("/inspections")
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}
	return out.Inspections, nil
}

// Download is an open artifact stream. Size is -1 when the relay did not
// announce a length.
type Download struct {
	Name string
	Size int64
	Body io.ReadCloser
}

// Download opens the artifact named name. The caller closes Body.
func (c *Client) Download(ctx context.Context, name string) (*Download, error) {
	res, err := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetPathParam("filename", name).
		Get("/inspect/download/{filename}")
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	body := res.RawBody()
	if !res.IsSuccess() {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return nil, decodeAPIError(res.StatusCode(), res.Header(), data)
	}
	return &Download{Name: name, Size: res.RawResponse.ContentLength, Body: body}, nil
}

func apiError(res *resty.Response) error {
	return decodeAPIError(res.StatusCode(), res.Header(), res.Body())
}

func decodeAPIError(status int, h http.Header, body []byte) error {
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}
