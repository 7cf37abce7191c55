package models

// Document is the normalized text of one uploaded file. It only lives for
// the duration of a single ingestion.
type Document struct {
	ID          string
	Filename    string
	ContentType string
	Content     string
}

// Chunk is an ordered, retrievable substring of a Document.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string
	Index      int
	Text       string
}

// Entry is what the vector index stores for a chunk.
type Entry struct {
	ID        string
	Embedding []float32
	Text      string
	Metadata  map[string]any
}

// Match is an Entry returned by a similarity query.
type Match struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// Texts returns the chunk texts of matches, preserving their order.
func Texts(matches []Match) []string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
	}
	return texts
}
