package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"toneshift/internal/diag"
	"toneshift/internal/transpose"
	"toneshift/pkg/contract"
	"toneshift/pkg/registry"
)

// Transposer: HTTP 层所需的引擎能力（*transpose.Engine 满足）。
type Transposer interface {
	ExtractTone(ctx context.Context, doc contract.Document) (contract.StylisticTone, error)
	ApplyTone(ctx context.Context, doc contract.Document, tone contract.StylisticTone) (contract.Document, error)
}

var _ Transposer = (*transpose.Engine)(nil)

const (
	// 表单字段名
	FieldToneFile    = "toneFile"
	FieldContentFile = "contentFile"

	// HeaderRequestID 为请求标识头；入站缺省时生成 uuid。
	HeaderRequestID = "X-Request-Id"

	defaultMaxUpload = 32 << 20
	successMessage   = "Files successfully uploaded, processing completed"
)

var errMissingFile = errors.New("missing file")

// Options: HTTP 层可选项。
type Options struct {
	// MaxUploadBytes: 单个请求体上限；<=0 使用默认 32MiB。
	MaxUploadBytes int64
}

// Server 承载语气转换 API 与已存文件的浏览/下载。
type Server struct {
	eng   Transposer
	store contract.Storage
	log   *diag.Logger
	max   int64
}

// New 构造服务（nil logger 使用 Nop）。
func New(eng Transposer, store contract.Storage, logger *diag.Logger, opts *Options) (*Server, error) {
	if eng == nil || store == nil {
		return nil, fmt.Errorf("server: engine and storage required: %w", contract.ErrInvalidInput)
	}
	if logger == nil {
		logger = diag.NewNop()
	}
	s := &Server{eng: eng, store: store, log: logger, max: defaultMaxUpload}
	if opts != nil && opts.MaxUploadBytes > 0 {
		s.max = opts.MaxUploadBytes
	}
	return s, nil
}

// Handler 返回挂载全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(diag.Registry, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Post("/transform/tone", s.handleTransform)
		r.Get("/files", s.handleList)
		r.Get("/files/{name}", s.handleDownload)
	})
	return r
}

type ridKey struct{}

// RequestIDFrom 读取 requestID 中间件设置的请求标识。
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ridKey{}).(string)
	return id
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ridKey{}, id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		next.ServeHTTP(ww, r)
		dur := time.Since(t0).Milliseconds()
		result := "success"
		if ww.Status() >= http.StatusBadRequest {
			result = "error"
		}
		diag.IncOp("http", "finish", result)
		diag.ObserveDuration("http", "finish", dur)
		s.log.Zap().Info("request",
			zap.String("comp", "http"),
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("dur_ms", dur),
		)
	})
}

// TransformResponse 为 /api/transform/tone 成功应答。
type TransformResponse struct {
	Message string `json:"message"`
	Tone    string `json:"tone"`
	File    string `json:"file"`
}

// ErrorResponse 为失败应答；Error 为底层原因。
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// upload: 单个已读入内存的表单文件。
type upload struct {
	name  string
	data  []byte
	codec contract.Codec
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.max)
	var toneName, contentName string
	fail := func(err error) {
		diag.Failed(s.log, "http", "transform failed", err, contentName, "", map[string]string{
			"request_id": RequestIDFrom(r.Context()),
		})
		writeJSON(w, statusOf(err), ErrorResponse{
			Message: fmt.Sprintf("Failed to transform toneFile '%s' and contentFile '%s'", toneName, contentName),
			Error:   err.Error(),
		})
	}

	if err := r.ParseMultipartForm(s.max); err != nil {
		fail(fmt.Errorf("parse multipart form: %w: %w", contract.ErrInvalidArgument, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	toneUp, err := readUpload(r, FieldToneFile)
	if toneUp != nil {
		toneName = toneUp.name
	}
	contentUp, cerr := readUpload(r, FieldContentFile)
	if contentUp != nil {
		contentName = contentUp.name
	}
	if err = errors.Join(err, cerr); err != nil {
		fail(err)
		return
	}

	tone, stored, err := s.transform(r.Context(), toneUp, contentUp)
	if err != nil {
		fail(err)
		return
	}
	writeJSON(w, http.StatusOK, TransformResponse{Message: successMessage, Tone: string(tone), File: stored})
}

// transform: 存入原件 → 解码 → 提取语气 → 改写 → 编码 → 存入结果。
func (s *Server) transform(ctx context.Context, toneUp, contentUp *upload) (contract.StylisticTone, string, error) {
	if _, err := s.store.Write(ctx, toneUp.name, contract.CategoryToneSource, bytes.NewReader(toneUp.data)); err != nil {
		return "", "", fmt.Errorf("store %s: %w", FieldToneFile, err)
	}
	if _, err := s.store.Write(ctx, contentUp.name, contract.CategoryOriginalTone, bytes.NewReader(contentUp.data)); err != nil {
		return "", "", fmt.Errorf("store %s: %w", FieldContentFile, err)
	}

	toneDoc, err := toneUp.codec.Decode(ctx, bytes.NewReader(toneUp.data))
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w: %w", FieldToneFile, contract.ErrInvalidArgument, err)
	}
	contentDoc, err := contentUp.codec.Decode(ctx, bytes.NewReader(contentUp.data))
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w: %w", FieldContentFile, contract.ErrInvalidArgument, err)
	}

	tone, err := s.eng.ExtractTone(transpose.WithDocID(ctx, contract.NormalizeDocID(toneUp.name)), toneDoc)
	if err != nil {
		return "", "", err
	}
	out, err := s.eng.ApplyTone(transpose.WithDocID(ctx, contract.NormalizeDocID(contentUp.name)), contentDoc, tone)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := contentUp.codec.Encode(ctx, &buf, out); err != nil {
		return "", "", fmt.Errorf("encode result: %w", err)
	}
	stored, err := s.store.Write(ctx, contentUp.name, contract.CategoryAdjustedTone, &buf)
	if err != nil {
		return "", "", fmt.Errorf("store result: %w", err)
	}
	return tone, stored, nil
}

// readUpload 读取表单文件；返回的 upload 在出错时仍可能携带文件名。
func readUpload(r *http.Request, field string) (*upload, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", field, contract.ErrInvalidArgument, errMissingFile)
	}
	defer f.Close()
	up := &upload{name: filepath.Base(hdr.Filename)}
	if hdr.Size == 0 {
		return up, fmt.Errorf("%s %q is empty: %w", field, up.name, contract.ErrInvalidArgument)
	}
	if up.codec, err = registry.CodecFor(up.name); err != nil {
		return up, fmt.Errorf("%s: %w", field, err)
	}
	if up.data, err = io.ReadAll(f); err != nil {
		return up, fmt.Errorf("read %s: %w", field, err)
	}
	return up, nil
}

// statusOf 将错误映射为 HTTP 状态码。
func statusOf(err error) int {
	var toneErr *contract.InvalidToneError
	var rwErr *contract.RewriteError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &toneErr), errors.As(err, &rwErr):
		return http.StatusBadGateway
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, contract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, contract.ErrInvalidArgument), errors.Is(err, contract.ErrPathInvalid):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FilesResponse 为 /api/files 应答。
type FilesResponse struct {
	Files []string `json:"files"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		diag.Failed(s.log, "http", "list failed", err, "", "", nil)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Failed to list files", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, FilesResponse{Files: names})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rc, err := s.store.Open(r.Context(), name)
	if err != nil {
		writeJSON(w, statusOf(err), ErrorResponse{Message: fmt.Sprintf("Failed to read file '%s'", name), Error: err.Error()})
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, rc); err != nil {
		diag.Failed(s.log, "http", "download failed", err, name, "", nil)
	}
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".txt", ".text":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
