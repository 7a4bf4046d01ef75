package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
)

const (
	defaultUploadName = "upload.pdf"
	defaultUploadExt  = ".pdf"
)

// Stager writes uploads below rootDir, one directory per inspection.
type Stager struct {
	rootDir string
}

func NewStager(rootDir string) *Stager {
	return &Stager{rootDir: rootDir}
}

func (s *Stager) Root() string { return s.rootDir }

func (s *Stager) Dir(id string) string {
	return filepath.Join(s.rootDir, id)
}

// Stage copies src to rootDir/<id>/<id><ext>. The client name is kept only as
// metadata: analyzers derive their output names from the staged file, so a
// name chosen by one client must not be able to collide with another's.
func (s *Stager) Stage(ctx context.Context, id, originalName string, src io.Reader) (domain.UploadedFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UploadedFile{}, err
	}
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("create staging dir: %w", err)
	}
	dst := filepath.Join(dir, StagedName(id, originalName))
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("create staged file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(src)
	head, _ := br.Peek(512)
	contentType := http.DetectContentType(head)

	n, err := io.Copy(f, br)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("write staged file: %w", err)
	}
	abs, _ := filepath.Abs(dst)
	return domain.UploadedFile{
		ID:           id,
		Path:         abs,
		OriginalName: originalName,
		Size:         n,
		ContentType:  contentType,
	}, nil
}

// Remove deletes the staging directory of one inspection.
func (s *Stager) Remove(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid staging id %q", id)
	}
	return os.RemoveAll(s.Dir(id))
}

// StagedName is the generated on-disk name of an upload: the inspection id
// plus the client's extension when it is short and plain, else ".pdf".
func StagedName(id, originalName string) string {
	ext := strings.ToLower(filepath.Ext(SanitizeFilename(originalName)))
	if len(ext) < 2 || len(ext) > 8 || strings.ContainsAny(ext, " ()+_") {
		ext = defaultUploadExt
	}
	return id + ext
}

// SanitizeFilename reduces a client supplied name to a safe basename.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		if allowedRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxNameLen {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:maxNameLen-len(ext)] + ext
	}
	if strings.Trim(out, "_ ") == "" {
		return defaultUploadName
	}
	return out
}
