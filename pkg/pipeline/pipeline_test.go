package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/extract"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/store"
	"github.com/xhad/docqa/pkg/uploads"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	passages string
}

func (g *fakeGenerator) Answer(_ context.Context, _, passages string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.passages = passages
	return "generated answer"
}

func (g *fakeGenerator) AnswerStream(ctx context.Context, query, passages string, onChunk func(string) error) string {
	_ = onChunk("generated ")
	_ = onChunk("answer")
	return g.Answer(ctx, query, passages)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type failingIndex struct {
	*store.MemoryIndex
}

func (failingIndex) Add(context.Context, []models.Entry) error {
	return errors.New("disk full")
}

func docx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		fmt.Fprintf(&body, "<w:p><w:r><w:t>%s</w:t></w:r></w:p>", html.EscapeString(p))
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func longParagraphs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Paragraph %03d talks about quarterly revenue figures in detail.", i)
	}
	return out
}

type fixture struct {
	p       *pipeline.Pipeline
	emb     *llm.HashEmbedder
	index   *store.MemoryIndex
	gen     *fakeGenerator
	uploads *uploads.Store
	fs      afero.Fs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	up, err := uploads.New(fs, "uploads")
	require.NoError(t, err)

	f := &fixture{
		emb:     llm.NewHashEmbedder(128),
		index:   store.NewMemoryIndex(),
		gen:     &fakeGenerator{},
		uploads: up,
		fs:      fs,
	}
	f.p, err = pipeline.New(pipeline.Config{
		Embedder:      f.emb,
		Index:         f.index,
		Generator:     f.gen,
		Uploads:       up,
		NewDocumentID: func(name string) string { return name },
	})
	require.NoError(t, err)
	return f
}

func count(t *testing.T, f *fixture) int {
	t.Helper()
	n, err := f.p.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestPipeline_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("Should index a short document as a single chunk", func(t *testing.T) {
		f := newFixture(t)

		res, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "hello.docx", Data: docx(t, "Hello world.", "This is a test.")})
		require.NoError(t, err)

		assert.Equal(t, 1, res.Chunks)
		assert.Equal(t, 1000, res.ChunkSize)
		assert.Equal(t, "Hello world. This is a test.", res.FirstChunk)
		assert.Equal(t, res.FirstChunk, res.LastChunk)
		assert.Equal(t, 1, count(t, f))
		assert.Equal(t, 1, f.emb.Calls(llm.IntentDocument))

		names, err := f.uploads.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"hello.docx"}, names)

		matches, err := f.p.Retrieve(ctx, "hello", 5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "hello.docx_0", matches[0].ID)
		assert.Equal(t, "hello.docx", matches[0].Metadata["source"])
	})

	t.Run("Should size medium documents at 700 with overlapping chunks", func(t *testing.T) {
		f := newFixture(t)

		res, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "report.docx", Data: docx(t, longParagraphs(50)...)})
		require.NoError(t, err)

		assert.Greater(t, res.TextLength, 2000)
		assert.Less(t, res.TextLength, 10000)
		assert.Equal(t, 700, res.ChunkSize)
		assert.Equal(t, 105, res.Overlap)
		assert.Greater(t, res.Chunks, 1)
		assert.Equal(t, res.Chunks, count(t, f))
		assert.True(t, strings.HasPrefix(res.FirstChunk, "Paragraph 000"))
		assert.True(t, strings.HasSuffix(res.LastChunk, "Paragraph 049 talks about quarterly revenue figures in detail."))
	})

	t.Run("Should reject unsupported files before any work", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "notes.txt", Data: []byte("plain")})
		require.ErrorIs(t, err, extract.ErrUnsupportedType)

		assert.Zero(t, count(t, f))
		assert.Zero(t, f.emb.Calls(llm.IntentDocument))
		names, _ := f.uploads.List()
		assert.Empty(t, names)
	})

	t.Run("Should report extraction failures", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "broken.docx", Data: []byte("garbage")})
		assert.ErrorIs(t, err, extract.ErrExtraction)
		assert.Zero(t, count(t, f))
	})

	t.Run("Should add nothing when embedding fails", func(t *testing.T) {
		f := newFixture(t)
		f.emb.FailWith(errors.New("service unavailable"))

		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "a.docx", Data: docx(t, "Some text.")})
		assert.ErrorIs(t, err, llm.ErrEmbedding)
		assert.Zero(t, count(t, f))
	})

	t.Run("Should wrap index failures as storage errors", func(t *testing.T) {
		p, err := pipeline.New(pipeline.Config{
			Embedder:  llm.NewHashEmbedder(16),
			Index:     failingIndex{store.NewMemoryIndex()},
			Generator: &fakeGenerator{},
		})
		require.NoError(t, err)

		_, err = p.Ingest(ctx, pipeline.Upload{Filename: "a.docx", Data: docx(t, "Some text.")})
		assert.ErrorIs(t, err, pipeline.ErrStorage)
	})

	t.Run("Should keep re-uploads of the same file apart", func(t *testing.T) {
		p, err := pipeline.New(pipeline.Config{
			Embedder:  llm.NewHashEmbedder(16),
			Index:     store.NewMemoryIndex(),
			Generator: &fakeGenerator{},
		})
		require.NoError(t, err)

		first, err := p.Ingest(ctx, pipeline.Upload{Filename: "a.docx", Data: docx(t, "Some text.")})
		require.NoError(t, err)
		second, err := p.Ingest(ctx, pipeline.Upload{Filename: "a.docx", Data: docx(t, "Some text.")})
		require.NoError(t, err)

		assert.NotEqual(t, first.DocumentID, second.DocumentID)
		n, err := p.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPipeline_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("Should answer from retrieved chunks", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "hello.docx", Data: docx(t, "Hello world.", "This is a test.")})
		require.NoError(t, err)

		answer, err := f.p.Query(ctx, "What does the greeting say?")
		require.NoError(t, err)
		assert.Equal(t, "generated answer", answer)
		assert.Equal(t, 1, f.gen.Calls())
		assert.Equal(t, "Hello world. This is a test.", f.gen.passages)
	})

	t.Run("Should join at most three chunks", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "report.docx", Data: docx(t, longParagraphs(50)...)})
		require.NoError(t, err)

		matches, err := f.p.Retrieve(ctx, "quarterly revenue", pipeline.InteractiveK)
		require.NoError(t, err)
		require.Len(t, matches, 3)

		_, err = f.p.Query(ctx, "quarterly revenue")
		require.NoError(t, err)
		assert.Equal(t, strings.Join(models.Texts(matches), " "), f.gen.passages)
	})

	t.Run("Should not call the generator when nothing is indexed", func(t *testing.T) {
		f := newFixture(t)

		answer, err := f.p.Query(ctx, "anything")
		require.NoError(t, err)
		assert.Equal(t, pipeline.NoInformation, answer)
		assert.Zero(t, f.gen.Calls())
	})

	t.Run("Should reject an empty question before embedding", func(t *testing.T) {
		f := newFixture(t)

		for _, q := range []string{"", "   "} {
			_, err := f.p.Query(ctx, q)
			assert.ErrorIs(t, err, pipeline.ErrEmptyQuery)
		}
		assert.Zero(t, f.emb.Calls(llm.IntentQuery))
	})

	t.Run("Should surface embedding failures", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "hello.docx", Data: docx(t, "Hello world.")})
		require.NoError(t, err)
		f.emb.FailWith(errors.New("timeout"))

		_, err = f.p.Query(ctx, "hello")
		assert.ErrorIs(t, err, llm.ErrEmbedding)
		assert.Zero(t, f.gen.Calls())
	})

	t.Run("Should stream the generated answer", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "hello.docx", Data: docx(t, "Hello world.")})
		require.NoError(t, err)

		var chunks []string
		answer, err := f.p.QueryStream(ctx, "hello", func(s string) error {
			chunks = append(chunks, s)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "generated answer", answer)
		assert.Equal(t, []string{"generated ", "answer"}, chunks)
	})
}

func TestPipeline_Clear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.p.Ingest(ctx, pipeline.Upload{Filename: "hello.docx", Data: docx(t, "Hello world.")})
	require.NoError(t, err)
	require.Equal(t, 1, count(t, f))

	require.NoError(t, f.p.Clear(ctx))
	assert.Zero(t, count(t, f))
	names, err := f.uploads.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	answer, err := f.p.Query(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoInformation, answer)

	require.NoError(t, f.p.Clear(ctx))
}

func TestPipeline_Concurrent(t *testing.T) {
	ctx := context.Background()
	p, err := pipeline.New(pipeline.Config{
		Embedder:  llm.NewHashEmbedder(32),
		Index:     store.NewMemoryIndex(),
		Generator: &fakeGenerator{},
	})
	require.NoError(t, err)

	files := make([][]byte, 8)
	for i := range files {
		files[i] = docx(t, fmt.Sprintf("Document %d has text.", i))
	}

	var wg sync.WaitGroup
	for i := range files {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := p.Ingest(ctx, pipeline.Upload{
				Filename: fmt.Sprintf("doc%d.docx", i),
				Data:     files[i],
			})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := p.Query(ctx, "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestNew(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{Index: store.NewMemoryIndex()})
	assert.Error(t, err)

	_, err = pipeline.New(pipeline.Config{Embedder: llm.NewHashEmbedder(8)})
	assert.Error(t, err)
}
