package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/xhad/docqa/internal/types"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrExtraction      = errors.New("failed to extract text")
)

// Result is the text pulled out of an uploaded file.
type Result struct {
	Text        string
	ContentType string
}

// Registry maps lower-case file extensions to the extractor handling them.
type Registry struct {
	extractors map[string]types.Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]types.Extractor)}
}

// Default returns a registry accepting .pdf and .docx files.
func Default() *Registry {
	r := NewRegistry()
	r.Register(".pdf", PDFExtractor{})
	r.Register(".docx", DOCXExtractor{})
	return r
}

func (r *Registry) Register(ext string, e types.Extractor) {
	r.extractors[strings.ToLower(ext)] = e
}

// Accepted lists the registered extensions in sorted order.
func (r *Registry) Accepted() []string {
	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Check rejects a filename whose extension has no extractor.
func (r *Registry) Check(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := r.extractors[ext]; !ok {
		return fmt.Errorf("%w %q: accepted types are %s",
			ErrUnsupportedType, ext, strings.Join(r.Accepted(), ", "))
	}
	return nil
}

// Extract returns the text of data, chosen by the extension of filename.
// Extraction that fails or yields only whitespace is an ErrExtraction.
func (r *Registry) Extract(filename string, data []byte) (*Result, error) {
	if err := r.Check(filename); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	contentType := mimetype.Detect(data).String()

	text, err := r.extractors[ext].Extract(data)
	if err != nil {
		return nil, fmt.Errorf("%w from %s (detected %s): %v", ErrExtraction, filename, contentType, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w from %s: document contains no text", ErrExtraction, filename)
	}

	return &Result{Text: text, ContentType: contentType}, nil
}
