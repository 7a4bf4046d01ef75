package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxNameLen = 255

var (
	ErrInvalidArtifactName = errors.New("invalid artifact name")
	ErrArtifactNotFound    = errors.New("artifact not found")
)

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case ' ', '.', '_', '(', ')', '+', '-':
		return true
	}
	return false
}

// ValidateArtifactName accepts plain file names only: no separators, no
// leading dot, characters from [A-Za-z0-9 ._()+-], at most 255 bytes.
func ValidateArtifactName(name string) error {
	if name == "" || len(name) > maxNameLen || strings.HasPrefix(name, ".") {
		return ErrInvalidArtifactName
	}
	for _, r := range name {
		if !allowedRune(r) {
			return ErrInvalidArtifactName
		}
	}
	return nil
}

// ArtifactStore owns the output root. Each inspection writes into
// root/<id>/; analyzers that ignore scoping write into root itself.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) Root() string { return a.root }

func (a *ArtifactStore) Dir(id string) string {
	return filepath.Join(a.root, id)
}

func (a *ArtifactStore) SummaryPath(id string) string {
	return filepath.Join(a.Dir(id), "summary.json")
}

func (a *ArtifactStore) Prepare(id string) (string, error) {
	dir := a.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// Locate returns the path of name produced by inspection id, checking the
// request directory before the flat root.
func (a *ArtifactStore) Locate(id, name string) (string, error) {
	if err := ValidateArtifactName(name); err != nil {
		return "", err
	}
	var candidates []string
	if id != "" && ValidateArtifactName(id) == nil {
		candidates = append(candidates, filepath.Join(a.Dir(id), name))
	}
	candidates = append(candidates, filepath.Join(a.root, name))
	for _, p := range candidates {
		if !a.contains(p) {
			continue
		}
		info, err := os.Lstat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return p, nil
	}
	return "", ErrArtifactNotFound
}

// Adopt moves a file the analyzer left in a shared location into the
// request directory and returns the new path.
func (a *ArtifactStore) Adopt(id, src string) (string, error) {
	dir, err := a.Prepare(id)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("adopt %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}

// Rename gives an artifact of inspection id a new plain name inside the
// request directory.
func (a *ArtifactStore) Rename(id, from, to string) (string, error) {
	for _, n := range []string{id, from, to} {
		if err := ValidateArtifactName(n); err != nil {
			return "", err
		}
	}
	src := filepath.Join(a.Dir(id), from)
	dst := filepath.Join(a.Dir(id), to)
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("rename %s: %s exists", from, to)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("rename %s: %w", from, err)
	}
	return dst, nil
}

// UniqueName derives a name for inspection id that no other inspection can
// produce: the stem, the first id characters, then the extension.
func UniqueName(name, id string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	tag := id
	if len(tag) > 8 {
		tag = tag[:8]
	}
	if room := maxNameLen - len(ext) - len(tag) - 1; len(stem) > room {
		stem = stem[:room]
	}
	return stem + "-" + tag + ext
}

func (a *ArtifactStore) Remove(id string) error {
	if ValidateArtifactName(id) != nil {
		return fmt.Errorf("invalid inspection id %q", id)
	}
	return os.RemoveAll(a.Dir(id))
}

func (a *ArtifactStore) contains(p string) bool {
	root, err := filepath.Abs(a.root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
