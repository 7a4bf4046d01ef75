package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/osvaldoandrade/gdtrelay/internal/analyzer"
	"github.com/osvaldoandrade/gdtrelay/pkg/config"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/xuri/excelize/v2"
)

// relayRunner stands in for the analyzer process: it writes a real workbook
// into the request output dir and the summary where the environment says.
// The workbook is named excelName, or after the staged input when unset, and
// records the uploaded bytes.
type relayRunner struct {
	calls     atomic.Int32
	fail      bool
	summary   string
	excelName string
}

func (r *relayRunner) Run(ctx context.Context, c analyzer.Command) ([]byte, []byte, error) {
	r.calls.Add(1)
	if r.fail {
		return nil, []byte("Traceback: segmentation failed"), &exitError{}
	}
	env := map[string]string{}
	for _, kv := range c.Env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	input := c.Args[len(c.Args)-1]
	name := r.excelName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".xlsx"
	}
	pdf, err := os.ReadFile(input)
	if err != nil {
		return nil, []byte(err.Error()), err
	}

	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetSheetRow("Sheet1", "A1", &[]any{"Rule", "Status", "Source"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]any{"GDT-001", "PASS", string(pdf)})
	if err := f.SaveAs(filepath.Join(env[analyzer.EnvOutputDir], name)); err != nil {
		return nil, []byte(err.Error()), err
	}
	summary := r.summary
	if summary == "" {
		summary = `{"total_rules":20,"applicable_rules":18,"passed":17,"failed":1,"not_applicable":2,` +
			`"critical_issues":0,"major_issues":1,"overall_risk":"Low","compliance_percent":95,` +
			`"issues":[{"rule_id":"GDT-007","reason":"datum missing","recommendation":"add datum A"}]}`
	}
	if err := os.WriteFile(env[analyzer.EnvSummaryPath], []byte(summary), 0o644); err != nil {
		return nil, []byte(err.Error()), err
	}
	out, _ := json.Marshal(map[string]string{"status": "success", "excel_name": name})
	return out, nil, nil
}

type exitError struct{}

func (exitError) Error() string { return "exit status 1" }

func newTestServer(t *testing.T, runner analyzer.Runner, mutate func(*config.Config)) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Port:           0,
		Env:            "test",
		Timezone:       "UTC",
		LogLevel:       "error",
		LogFormat:      "json",
		StagingDir:     filepath.Join(root, "uploads"),
		OutputDir:      filepath.Join(root, "output"),
		MaxUploadBytes: 1 << 20,
		Analyzer: config.AnalyzerConfig{
			Command:        "analyzer",
			TimeoutSeconds: 10,
			MaxConcurrent:  2,
			QueueSize:      4,
		},
		Retention: config.RetentionConfig{
			ArtifactTTLSeconds:   3600,
			SweepIntervalSeconds: 60,
		},
		Persistence: config.PersistenceConfig{Type: "memory"},
		CORS:        config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	application, err := NewApplication(cfg, WithRunner(runner))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { _ = application.Close() })
	SetupMappings(application)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(server.Close)
	return server, root
}

func uploadPDF(t *testing.T, baseURL, field, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(content)
	} else {
		_ = mw.WriteField("note", "no file")
	}
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/inspect", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post inspect: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHTTPIntegrationFlow(t *testing.T) {
	runner := &relayRunner{excelName: "report_42.xlsx"}
	server, _ := newTestServer(t, runner, nil)

	resp := uploadPDF(t, server.URL, "pdf", "report_42.pdf", []byte("%PDF-1.7 drawing"))
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("inspect status %d: %s", resp.StatusCode, b)
	}
	var out domain.InspectResponse
	decodeJSON(t, resp, &out)
	if out.Status != "success" {
		t.Fatalf("expected status success, got %q", out.Status)
	}
	if out.Summary.CompliancePercent != 95 {
		t.Fatalf("expected compliance 95, got %v", out.Summary.CompliancePercent)
	}
	if out.ExcelDownloadURL != "/inspect/download/report_42.xlsx" {
		t.Fatalf("unexpected download url %q", out.ExcelDownloadURL)
	}
	if len(out.Summary.Issues) != 1 || out.Summary.Issues[0].RuleID != "GDT-007" {
		t.Fatalf("issues not relayed: %+v", out.Summary.Issues)
	}

	dl, err := http.Get(server.URL + out.ExcelDownloadURL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK || len(body) == 0 {
		t.Fatalf("download status %d, %d bytes", dl.StatusCode, len(body))
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, "report_42.xlsx") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}

	rec, err := http.Get(server.URL + "/inspections/" + out.InspectionID)
	if err != nil {
		t.Fatalf("get inspection: %v", err)
	}
	var record domain.InspectionRecord
	decodeJSON(t, rec, &record)
	if record.Status != domain.InspectionSucceeded || record.ArtifactName != "report_42.xlsx" {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(record.ArtifactSheets) != 1 || record.ArtifactRows != 2 {
		t.Fatalf("workbook probe not recorded: sheets=%v rows=%d", record.ArtifactSheets, record.ArtifactRows)
	}

	list, err := http.Get(server.URL + "/inspections?limit=5")
	if err != nil {
		t.Fatalf("list inspections: %v", err)
	}
	var listed struct {
		Count int `json:"count"`
	}
	decodeJSON(t, list, &listed)
	if listed.Count != 1 {
		t.Fatalf("expected 1 inspection, got %d", listed.Count)
	}

	for _, path := range []string{"/", "/healthz", "/metrics"} {
		r, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, r.StatusCode)
		}
	}
}

func TestSameFilenameUploadsDownloadTheirOwnWorkbook(t *testing.T) {
	for _, excelName := range []string{"", "report.xlsx"} {
		t.Run("excel_name="+excelName, func(t *testing.T) {
			server, _ := newTestServer(t, &relayRunner{excelName: excelName}, nil)

			urls := map[string]string{}
			for _, content := range []string{"%PDF drawing A", "%PDF drawing B"} {
				resp := uploadPDF(t, server.URL, "pdf", "drawing.pdf", []byte(content))
				if resp.StatusCode != http.StatusOK {
					b, _ := io.ReadAll(resp.Body)
					t.Fatalf("inspect status %d: %s", resp.StatusCode, b)
				}
				var out domain.InspectResponse
				decodeJSON(t, resp, &out)
				for other, url := range urls {
					if url == out.ExcelDownloadURL {
						t.Fatalf("%q and %q share download url %q", other, content, url)
					}
				}
				urls[content] = out.ExcelDownloadURL
			}

			for content, url := range urls {
				dl, err := http.Get(server.URL + url)
				if err != nil {
					t.Fatalf("download: %v", err)
				}
				if dl.StatusCode != http.StatusOK {
					t.Fatalf("download %s: status %d", url, dl.StatusCode)
				}
				wb, err := excelize.OpenReader(dl.Body)
				dl.Body.Close()
				if err != nil {
					t.Fatalf("open workbook: %v", err)
				}
				source, _ := wb.GetCellValue("Sheet1", "C2")
				_ = wb.Close()
				if source != content {
					t.Fatalf("%s served %q, want %q", url, source, content)
				}
			}
		})
	}
}

func TestInspectMissingPDF(t *testing.T) {
	runner := &relayRunner{}
	server, _ := newTestServer(t, runner, nil)

	resp := uploadPDF(t, server.URL, "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["error"] != "PDF file required" {
		t.Fatalf("unexpected error body %v", body)
	}
	if runner.calls.Load() != 0 {
		t.Fatal("analyzer must not run without an upload")
	}
}

func TestInspectAnalyzerFailure(t *testing.T) {
	runner := &relayRunner{fail: true}
	server, root := newTestServer(t, runner, nil)

	resp := uploadPDF(t, server.URL, "pdf", "broken.pdf", []byte("%PDF"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["error"] != "Processing failed" {
		t.Fatalf("unexpected error %v", body["error"])
	}
	if !strings.Contains(body["details"].(string), "segmentation failed") {
		t.Fatalf("stderr not relayed: %v", body["details"])
	}

	entries, _ := os.ReadDir(filepath.Join(root, "uploads"))
	if len(entries) != 0 {
		t.Fatalf("staged upload left behind: %d entries", len(entries))
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	server, root := newTestServer(t, &relayRunner{}, nil)
	secret := filepath.Join(root, "server.js")
	if err := os.WriteFile(secret, []byte("TOP-SECRET"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	for _, path := range []string{
		"/inspect/download/..",
		"/inspect/download/..%2Fserver.js",
		"/inspect/download/../server.js",
		"/inspect/download/.hidden",
	} {
		req, _ := http.NewRequest(http.MethodGet, server.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("GET %s: expected rejection, got 200", path)
		}
		if bytes.Contains(body, []byte("TOP-SECRET")) {
			t.Fatalf("GET %s leaked content outside the output dir", path)
		}
	}

	resp, err := http.Get(server.URL + "/inspect/download/missing.xlsx")
	if err != nil {
		t.Fatalf("download missing: %v", err)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "File not found" || body["file"] != "missing.xlsx" {
		t.Fatalf("unexpected not-found response %d %v", resp.StatusCode, body)
	}
}

func TestInspectPayloadTooLarge(t *testing.T) {
	runner := &relayRunner{}
	server, _ := newTestServer(t, runner, func(c *config.Config) { c.MaxUploadBytes = 1024 })

	resp := uploadPDF(t, server.URL, "pdf", "huge.pdf", bytes.Repeat([]byte("x"), 8<<10))
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	if runner.calls.Load() != 0 {
		t.Fatal("analyzer must not run for an oversized upload")
	}
}

func TestInspectRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	server, _ := newTestServer(t, &relayRunner{}, func(c *config.Config) {
		c.RedisAddr = mr.Addr()
		c.RateLimit.Inspect = config.RateLimitBucketConfig{RequestsPerMinute: 1, BurstSize: 1}
	})

	first := uploadPDF(t, server.URL, "pdf", "a.pdf", []byte("%PDF"))
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", first.StatusCode)
	}
	second := uploadPDF(t, server.URL, "pdf", "b.pdf", []byte("%PDF"))
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, &relayRunner{}, nil)

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/inspect", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected allow-origin *, got %q", got)
	}
}
