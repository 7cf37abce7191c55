package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xhad/docqa/pkg/extract"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/pipeline"
)

const (
	msgNoFilePart      = "No file part"
	msgNoSelectedFile  = "No selected file"
	msgUnsupported     = "Unsupported file type. Please upload a .pdf or .docx"
	msgExtraction      = "Failed to extract text from the document."
	msgStorage         = "Failed to create and store vector embeddings."
	msgNoQuery         = "No query provided"
	msgQueryEmbedding  = "Failed to embed the query."
	msgQueryFailed     = "Failed to answer the query."
	msgCleared         = "Document and embeddings cleared successfully! You can now upload a new document."
	msgClearFailed     = "Failed to clear the document."
	defaultMaxUploadMB = 32
)

// Pipeline is the document question answering service exposed over HTTP.
type Pipeline interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*pipeline.IngestResult, error)
	Query(ctx context.Context, question string) (string, error)
	QueryStream(ctx context.Context, question string, onChunk func(string) error) (string, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Accepted() []string
}

type Config struct {
	MaxUploadMB int
	// Streaming makes websocket queries send partial answers.
	Streaming bool
}

type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	config   Config
	metrics  *metrics
	log      logger.Logger
}

type errorResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code,omitempty"`
	Accepted []string `json:"accepted,omitempty"`
}

type uploadResponse struct {
	Message    string `json:"message"`
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	ChunkSize  int    `json:"chunk_size"`
	Overlap    int    `json:"overlap"`
	TextLength int    `json:"text_length"`
	FirstChunk string `json:"first_chunk"`
	LastChunk  string `json:"last_chunk"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Response string `json:"response"`
}

func New(p Pipeline, config Config, log logger.Logger) *Server {
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = defaultMaxUploadMB
	}
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		echo:     echo.New(),
		pipeline: p,
		config:   config,
		metrics:  newMetrics(),
		log:      log,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)
	e.Use(s.metrics.middleware)

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(s.metrics.handler()))
	e.POST("/upload", s.handleUpload, middleware.BodyLimit(fmt.Sprintf("%dM", config.MaxUploadMB)))
	e.POST("/query", s.handleQuery)
	e.POST("/clear", s.handleClear)
	e.GET("/ws", s.handleWebSocket)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("Starting server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		reqLog := s.log.With("method", req.Method, "path", req.URL.Path)
		c.SetRequest(req.WithContext(logger.ContextWithLogger(req.Context(), reqLog)))

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		reqLog.Debug("Request handled", "status", c.Response().Status, "duration", time.Since(start))
		return nil
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}

	req := c.Request()
	s.log.Warn("Request failed", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
	if !c.Response().Committed {
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	n, err := s.pipeline.Count(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "chunks": n})
}

func (s *Server) handleUpload(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoFilePart, Code: "missing_file"})
	}
	if strings.TrimSpace(fh.Filename) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoSelectedFile, Code: "missing_file"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoFilePart, Code: "missing_file"})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	res, err := s.pipeline.Ingest(ctx, pipeline.Upload{Filename: fh.Filename, Data: data})
	if err != nil {
		s.metrics.ingest(outcomeOf(err))
		logger.FromContext(ctx).Error("Ingestion failed", "filename", fh.Filename, "error", err)
		return c.JSON(uploadError(err, s.pipeline.Accepted()))
	}
	s.metrics.ingest("ok")
	s.metrics.chunks.Add(float64(res.Chunks))

	return c.JSON(http.StatusOK, uploadResponse{
		Message:    fmt.Sprintf("File \"%s\" uploaded, text processed, and embeddings stored successfully!", res.Filename),
		Filename:   res.Filename,
		DocumentID: res.DocumentID,
		Chunks:     res.Chunks,
		ChunkSize:  res.ChunkSize,
		Overlap:    res.Overlap,
		TextLength: res.TextLength,
		FirstChunk: res.FirstChunk,
		LastChunk:  res.LastChunk,
	})
}

func uploadError(err error, accepted []string) (int, errorResponse) {
	switch {
	case errors.Is(err, extract.ErrUnsupportedType):
		return http.StatusBadRequest, errorResponse{Error: msgUnsupported, Code: "unsupported_type", Accepted: accepted}
	case errors.Is(err, extract.ErrExtraction):
		return http.StatusInternalServerError, errorResponse{Error: msgExtraction, Code: "extraction_failed"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: msgStorage, Code: "storage_failed"}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, extract.ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, extract.ErrExtraction):
		return "extraction_failed"
	case errors.Is(err, llm.ErrEmbedding):
		return "embedding_failed"
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return "empty_query"
	default:
		return "storage_failed"
	}
}

func (s *Server) handleQuery(c echo.Context) error {
	ctx := c.Request().Context()

	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoQuery, Code: "empty_query"})
	}

	answer, err := s.pipeline.Query(ctx, req.Query)
	s.metrics.query(outcomeOf(err))
	if err != nil {
		return c.JSON(queryError(ctx, err))
	}
	return c.JSON(http.StatusOK, queryResponse{Response: answer})
}

func queryError(ctx context.Context, err error) (int, errorResponse) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return http.StatusBadRequest, errorResponse{Error: msgNoQuery, Code: "empty_query"}
	case errors.Is(err, llm.ErrEmbedding):
		logger.FromContext(ctx).Error("Query embedding failed", "error", err)
		return http.StatusBadGateway, errorResponse{Error: msgQueryEmbedding, Code: "embedding_failed"}
	default:
		logger.FromContext(ctx).Error("Query failed", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: msgQueryFailed, Code: "query_failed"}
	}
}

func (s *Server) handleClear(c echo.Context) error {
	ctx := c.Request().Context()

	if err := s.pipeline.Clear(ctx); err != nil {
		logger.FromContext(ctx).Error("Clearing corpus failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: msgClearFailed, Code: "clear_failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msgCleared})
}
