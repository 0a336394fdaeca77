package fs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestWalkerDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.txt", "a")
	writeFile(t, root, "docs/guide.md", "b")
	writeFile(t, root, "docs/deep/more.md", "c")
	writeFile(t, root, "paper.pdf", "d")
	writeFile(t, root, ".git/HEAD.txt", "e")
	writeFile(t, root, ".kb/cache.txt", "f")

	files, err := NewWalker(nil, nil).Walk(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
		assert.Positive(t, f.Size)
	}
	assert.Equal(t, []string{"docs/deep/more.md", "docs/guide.md", "notes.txt", "paper.pdf"}, rel)
}

func TestWalkerCustomPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep/a.txt", "a")
	writeFile(t, root, "skip/b.txt", "b")
	writeFile(t, root, "keep/c.md", "c")

	files, err := NewWalker([]string{"**/*.txt"}, []string{"skip/**"}).Walk(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", filepath.Base(files[0].Path))
}

func TestWalkerMissingRoot(t *testing.T) {
	_, err := NewWalker(nil, nil).Walk(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestReaderReadDocument(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name       string
		file       string
		sourceType string
		title      string
	}{
		{"text", "meeting-notes.txt", domain.SourceTypeText, "meeting-notes"},
		{"markdown", "README.md", domain.SourceTypeMarkdown, "README"},
		{"upper case extension", "LOUD.TXT", domain.SourceTypeText, "LOUD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, root, tt.file, "some content")

			doc, err := NewReader().ReadDocument(path)
			require.NoError(t, err)
			assert.Equal(t, tt.title, doc.Title)
			assert.Equal(t, tt.sourceType, doc.SourceType)
			assert.Equal(t, "some content", doc.RawContent)
			assert.True(t, filepath.IsAbs(doc.SourcePath))
			assert.Equal(t, tt.file, doc.Metadata["filename"])
			assert.Equal(t, int64(len("some content")), doc.Metadata["size_bytes"])
		})
	}
}

func TestReaderUnsupported(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"slides.pptx", "data.csv", "noext"} {
		path := writeFile(t, root, name, "x")
		_, err := NewReader().ReadDocument(path)
		assert.ErrorIs(t, err, domain.ErrUnsupportedSourceType, name)
	}
}

func TestReaderMissingFile(t *testing.T) {
	_, err := NewReader().ReadDocument(filepath.Join(t.TempDir(), "gone.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReaderRejectsInvalidUTF8(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"latin1.txt", "broken.md"} {
		path := writeFile(t, root, name, "caf\xe9 ab\xffcd")
		_, err := NewReader().ReadDocument(path)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
}

// minimalPDF builds a one-page PDF showing text in Helvetica, with a
// correct cross-reference table.
func minimalPDF(text string) []byte {
	content := "q Q"
	if text != "" {
		content = fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestReaderPDF(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Paper.PDF")
	require.NoError(t, os.WriteFile(path, minimalPDF("Contextual chunk embeddings"), 0o644))

	doc, err := NewReader().ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypePDF, doc.SourceType)
	assert.Equal(t, "Paper", doc.Title)
	assert.Contains(t, doc.RawContent, "Contextual chunk embeddings")
	assert.Equal(t, 1, doc.Metadata["pages"])
}

func TestReaderPDFWithoutText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF(""), 0o644))

	_, err := NewReader().ReadDocument(path)
	assert.ErrorIs(t, err, domain.ErrNoContent)
}

func TestReaderCorruptPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", "%PDF-1.7 not really")
	_, err := NewReader().ReadDocument(path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
