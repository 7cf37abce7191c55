package processor

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xhad/docqa/internal/models"
)

const (
	DefaultOverlapRatio = 0.15
	// DefaultChunkSize applies to texts shorter than smallTextLimit characters.
	DefaultChunkSize = 1000
	mediumChunkSize  = 700
	largeChunkSize   = 400
	smallTextLimit   = 2000
	mediumTextLimit  = 10000
)

type ProcessorConfig struct {
	// OverlapRatio is the share of the chunk size reported as overlap.
	OverlapRatio float64
	// DisableOverlap emits the raw greedy chunks with no neighbour prefix.
	DisableOverlap bool
}

type Processor struct {
	config ProcessorConfig
}

// Plan describes how one document was chunked.
type Plan struct {
	TextLength int
	ChunkSize  int
	Overlap    int
	Chunks     []models.Chunk
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.OverlapRatio == 0 {
		config.OverlapRatio = DefaultOverlapRatio
	}

	return Processor{
		config: config,
	}
}

// Process normalizes the document, sizes its chunks from the text length and
// splits it. Chunk ids are "{document id}_{index}".
func (p *Processor) Process(doc models.Document) Plan {
	text := Normalize(doc.Content)
	length := utf8.RuneCountInString(text)
	size := ChunkSize(length)

	overlap := 0
	if !p.config.DisableOverlap {
		overlap = Overlap(size, p.config.OverlapRatio)
	}

	texts := Chunk(text, size, overlap)
	chunks := make([]models.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			Source:     doc.Filename,
			Index:      i,
			Text:       t,
		})
	}

	return Plan{
		TextLength: length,
		ChunkSize:  size,
		Overlap:    overlap,
		Chunks:     chunks,
	}
}

// Normalize replaces every run of newlines with a single space and trims the
// result.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inRun := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			if !inRun {
				b.WriteByte(' ')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteByte(c)
	}

	return strings.TrimSpace(b.String())
}

// ChunkSize picks the target chunk length for a text of the given length in
// characters. Longer documents get smaller chunks.
func ChunkSize(length int) int {
	switch {
	case length < smallTextLimit:
		return DefaultChunkSize
	case length < mediumTextLimit:
		return mediumChunkSize
	default:
		return largeChunkSize
	}
}

// Overlap returns round(size * ratio).
func Overlap(size int, ratio float64) int {
	return int(math.Round(float64(size) * ratio))
}

// Chunk greedily packs sentences into chunks of at most size characters. A
// sentence longer than size becomes a chunk of its own. When overlap is
// positive and there is more than one chunk, every chunk after the first is
// prefixed with the whole preceding chunk; the magnitude of overlap does not
// bound the prefix.
func Chunk(text string, size, overlap int) []string {
	raw := accumulate(SplitSentences(text), size)
	if overlap <= 0 || len(raw) < 2 {
		return raw
	}

	out := make([]string, len(raw))
	out[0] = raw[0]
	for i := 1; i < len(raw); i++ {
		out[i] = raw[i-1] + " " + raw[i]
	}
	return out
}

func accumulate(sentences []string, size int) []string {
	var chunks []string
	var buf strings.Builder
	bufLen := 0

	flush := func() {
		if c := strings.TrimSpace(buf.String()); c != "" {
			chunks = append(chunks, c)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, sentence := range sentences {
		n := utf8.RuneCountInString(sentence)
		if bufLen+n > size {
			flush()
		}
		buf.WriteString(sentence)
		buf.WriteByte(' ')
		bufLen += n + 1
	}
	flush()

	return chunks
}

// SplitSentences splits text after '.', '!' or '?' wherever the terminator is
// followed by whitespace. The whitespace is dropped; the terminator stays
// with its sentence.
func SplitSentences(text string) []string {
	var sentences []string

	start, i := 0, 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		j := i
		for j < len(text) {
			s, n := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(s) {
				break
			}
			j += n
		}
		if j == i {
			continue
		}

		if start < i {
			sentences = append(sentences, text[start:i])
		}
		start, i = j, j
	}

	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	return sentences
}
