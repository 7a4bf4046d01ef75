package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestValidateArtifactName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"plain", "report_42.xlsx", true},
		{"spaces and parens", "Part A (rev+2).xlsx", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"hidden", ".env", false},
		{"parent segment", "../server.js", false},
		{"nested", "sub/report.xlsx", false},
		{"backslash", `..\server.js`, false},
		{"nul", "report\x00.xlsx", false},
		{"newline", "report\n.xlsx", false},
		{"unicode", "rapport_é.xlsx", false},
		{"too long", strings.Repeat("a", 256), false},
		{"max length", strings.Repeat("a", 255), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArtifactName(tt.input)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidArtifactName)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "drawing.pdf", SanitizeFilename("drawing.pdf"))
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "evil.pdf", SanitizeFilename(`C:\Users\x\evil.pdf`))
	assert.Equal(t, "bashrc", SanitizeFilename(".bashrc"))
	assert.Equal(t, "part_1_.pdf", SanitizeFilename("part#1?.pdf"))
	assert.Equal(t, defaultUploadName, SanitizeFilename(""))
	assert.Equal(t, defaultUploadName, SanitizeFilename("/"))
	assert.LessOrEqual(t, len(SanitizeFilename(strings.Repeat("x", 400)+".pdf")), maxNameLen)
	assert.True(t, strings.HasSuffix(SanitizeFilename(strings.Repeat("x", 400)+".pdf"), ".pdf"))
}

func TestStagedName(t *testing.T) {
	tests := map[string]string{
		"drawing.pdf":       "insp-1.pdf",
		"DRAWING.PDF":       "insp-1.pdf",
		"../../etc/passwd":  "insp-1.pdf",
		"scan.tiff":         "insp-1.tiff",
		"":                  "insp-1.pdf",
		"weird.(1)":         "insp-1.pdf",
		"archive.verylongx": "insp-1.pdf",
	}
	for in, want := range tests {
		assert.Equal(t, want, StagedName("insp-1", in), "input %q", in)
	}
}

func TestStager_StageAndRemove(t *testing.T) {
	root := t.TempDir()
	s := NewStager(root)

	up, err := s.Stage(context.Background(), "id-1", "../drawing.pdf", strings.NewReader("%PDF-1.7\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "id-1", up.ID)
	assert.Equal(t, "../drawing.pdf", up.OriginalName)
	assert.Equal(t, int64(len("%PDF-1.7\nbody")), up.Size)
	assert.Equal(t, "application/pdf", up.ContentType)
	assert.Equal(t, filepath.Join(root, "id-1", "id-1.pdf"), up.Path)

	data, err := os.ReadFile(up.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7\nbody", string(data))

	require.NoError(t, s.Remove("id-1"))
	_, err = os.Stat(s.Dir("id-1"))
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, s.Remove("../x"))
}

func TestStager_SameNameDifferentRequests(t *testing.T) {
	s := NewStager(t.TempDir())
	a, err := s.Stage(context.Background(), "a", "part.pdf", strings.NewReader("A"))
	require.NoError(t, err)
	b, err := s.Stage(context.Background(), "b", "part.pdf", strings.NewReader("B"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestArtifactStore_Locate(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root)

	dir, err := store.Prepare("insp-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scoped.xlsx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "flat.xlsx"), []byte("y"), 0o644))
	secret := filepath.Join(filepath.Dir(root), "server.js")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))
	t.Cleanup(func() { os.Remove(secret) })

	p, err := store.Locate("insp-1", "scoped.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scoped.xlsx"), p)

	p, err = store.Locate("", "flat.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "flat.xlsx"), p)

	_, err = store.Locate("", "missing.xlsx")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = store.Locate("", "../server.js")
	assert.ErrorIs(t, err, ErrInvalidArtifactName)

	_, err = store.Locate("..", "server.js")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	// directories are not artifacts
	_, err = store.Locate("", "insp-1")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestArtifactStore_AdoptAndRemove(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root)
	shared := filepath.Join(root, "summary.json")
	require.NoError(t, os.WriteFile(shared, []byte("{}"), 0o644))

	moved, err := store.Adopt("insp-2", shared)
	require.NoError(t, err)
	assert.Equal(t, store.SummaryPath("insp-2"), moved)
	_, err = os.Stat(shared)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Remove("insp-2"))
	_, err = os.Stat(store.Dir("insp-2"))
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, store.Remove(".."))
}

func TestArtifactStore_Rename(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	dir, err := store.Prepare("insp-3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.xlsx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken.xlsx"), []byte("y"), 0o644))

	p, err := store.Rename("insp-3", "report.xlsx", "report-insp3.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report-insp3.xlsx"), p)
	_, err = os.Stat(filepath.Join(dir, "report.xlsx"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Rename("insp-3", "report-insp3.xlsx", "taken.xlsx")
	assert.Error(t, err, "an existing file must not be replaced")
	_, err = store.Rename("insp-3", "report-insp3.xlsx", "../escape.xlsx")
	assert.ErrorIs(t, err, ErrInvalidArtifactName)
	_, err = store.Rename("..", "report-insp3.xlsx", "x.xlsx")
	assert.ErrorIs(t, err, ErrInvalidArtifactName)
}

func TestUniqueName(t *testing.T) {
	assert.Equal(t, "report_42-0f3c9a1b.xlsx", UniqueName("report_42.xlsx", "0f3c9a1b-2222-4333-8444-555566667777"))
	assert.Equal(t, "report-abc.xlsx", UniqueName("report.xlsx", "abc"))
	assert.Equal(t, "notes-0f3c9a1b", UniqueName("notes", "0f3c9a1b-2222"))

	long := UniqueName(strings.Repeat("r", 300)+".xlsx", "0f3c9a1b-2222")
	assert.Len(t, long, maxNameLen)
	assert.True(t, strings.HasSuffix(long, "-0f3c9a1b.xlsx"))
	assert.NoError(t, ValidateArtifactName(long))
}

func TestProbeWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	f := excelize.NewFile()
	const sheet = "Sheet1"
	for row := 1; row <= 3; row++ {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		require.NoError(t, f.SetCellValue(sheet, cell, row))
	}
	_, err := f.NewSheet("Issues")
	require.NoError(t, err)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	info, err := ProbeWorkbook(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1", "Issues"}, info.Sheets)
	assert.Equal(t, 3, info.Rows)

	bogus := filepath.Join(t.TempDir(), "bogus.xlsx")
	require.NoError(t, os.WriteFile(bogus, []byte("not a zip"), 0o644))
	_, err = ProbeWorkbook(bogus)
	assert.Error(t, err)
}
