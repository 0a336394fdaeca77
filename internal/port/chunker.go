package port

// Chunker splits text into an ordered list of chunks.
type Chunker interface {
	Chunk(text string) []string
}

// Hasher fingerprints content.
type Hasher interface {
	Fingerprint(text string) string
}
