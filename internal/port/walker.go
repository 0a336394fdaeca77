package port

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}

// IngestedFile holds document fields read from disk.
type IngestedFile struct {
	Title      string
	SourcePath string
	SourceType string
	RawContent string
	Metadata   map[string]any
}

type FileReader interface {
	ReadDocument(path string) (IngestedFile, error)
}
