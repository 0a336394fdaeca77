package fs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"kb/internal/domain"
	"kb/internal/port"
)

// sourceTypes maps readable file extensions to document source types.
var sourceTypes = map[string]string{
	".txt":      domain.SourceTypeText,
	".md":       domain.SourceTypeMarkdown,
	".markdown": domain.SourceTypeMarkdown,
	".pdf":      domain.SourceTypePDF,
}

// Reader turns plain-text, markdown and PDF files into ingestable documents.
type Reader struct{}

var _ port.FileReader = Reader{}

func NewReader() Reader {
	return Reader{}
}

// ReadDocument reads path. The title is the file name without extension;
// the source path is absolute. Text files must be valid UTF-8; PDFs must
// carry extractable text. Other extensions fail with
// domain.ErrUnsupportedSourceType.
func (Reader) ReadDocument(path string) (port.IngestedFile, error) {
	ext := strings.ToLower(filepath.Ext(path))
	sourceType, ok := sourceTypes[ext]
	if !ok {
		return port.IngestedFile{}, fmt.Errorf("%s: %w %q", path, domain.ErrUnsupportedSourceType, ext)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return port.IngestedFile{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return port.IngestedFile{}, err
	}
	if info.IsDir() {
		return port.IngestedFile{}, fmt.Errorf("%s: is a directory", path)
	}

	name := filepath.Base(abs)
	metadata := map[string]any{
		"filename":   name,
		"size_bytes": info.Size(),
	}

	var content string
	if sourceType == domain.SourceTypePDF {
		text, pages, err := readPDF(abs)
		if err != nil {
			return port.IngestedFile{}, err
		}
		content = text
		metadata["pages"] = pages
	} else {
		data, err := os.ReadFile(abs)
		if err != nil {
			return port.IngestedFile{}, err
		}
		if !utf8.Valid(data) {
			return port.IngestedFile{}, fmt.Errorf("%s: %w: file is not valid UTF-8", path, domain.ErrInvalidInput)
		}
		content = string(data)
	}

	return port.IngestedFile{
		Title:      strings.TrimSuffix(name, filepath.Ext(name)),
		SourcePath: abs,
		SourceType: sourceType,
		RawContent: content,
		Metadata:   metadata,
	}, nil
}

// readPDF extracts the plain text of every page. A PDF whose text trims to
// nothing (a scanned image, say) is rejected.
func readPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w: opening pdf: %v", path, domain.ErrInvalidInput, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w: extracting pdf text: %v", path, domain.ErrInvalidInput, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", 0, fmt.Errorf("%s: reading pdf text: %w", path, err)
	}

	text := strings.ToValidUTF8(buf.String(), "")
	if strings.TrimSpace(text) == "" {
		return "", 0, fmt.Errorf("%s: %w: no extractable text in pdf", path, domain.ErrNoContent)
	}
	return text, r.NumPage(), nil
}
