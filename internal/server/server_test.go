package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toneshift/internal/config"
	"toneshift/internal/diag"
	"toneshift/internal/transpose"
	"toneshift/pkg/contract"
	"toneshift/plugins/storage/filesystem"
)

// stubEngine: 以函数注入的 Transposer 假实现。
type stubEngine struct {
	extract func(ctx context.Context, doc contract.Document) (contract.StylisticTone, error)
	apply   func(ctx context.Context, doc contract.Document, tone contract.StylisticTone) (contract.Document, error)
}

func (s stubEngine) ExtractTone(ctx context.Context, doc contract.Document) (contract.StylisticTone, error) {
	return s.extract(ctx, doc)
}

func (s stubEngine) ApplyTone(ctx context.Context, doc contract.Document, tone contract.StylisticTone) (contract.Document, error) {
	return s.apply(ctx, doc, tone)
}

func mockEngine(t *testing.T) *transpose.Engine {
	t.Helper()
	cfg := config.Merge(config.Defaults(), config.DefaultTemplateConfig())
	comp, set, err := config.Assemble(cfg)
	require.NoError(t, err)
	eng, err := transpose.New(comp, set, diag.NewNop())
	require.NoError(t, err)
	return eng
}

func newStore(t *testing.T) (*filesystem.FS, string) {
	t.Helper()
	root := t.TempDir()
	s, err := filesystem.New(&filesystem.Options{RootDir: root})
	require.NoError(t, err)
	return s, root
}

func newHandler(t *testing.T, eng Transposer, store contract.Storage) http.Handler {
	t.Helper()
	s, err := New(eng, store, diag.NewNop(), nil)
	require.NoError(t, err)
	return s.Handler()
}

type part struct{ field, name, body string }

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/transform/tone", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	return e
}

// UT-SRV-01: 成功路径（mock LLM + 纯文本）
func TestTransformSuccess(t *testing.T) {
	store, root := newStore(t)
	h := newHandler(t, mockEngine(t), store)

	rr := serve(h, multipartRequest(t,
		part{FieldToneFile, "tone.txt", "Dear Sir,\nKind regards.\n"},
		part{FieldContentFile, "my content.txt", "hello world\n\nbye\n"},
	))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp TransformResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, TransformResponse{
		Message: "Files successfully uploaded, processing completed",
		Tone:    "FORMAL",
		File:    "my_content-ADJUSTED_TONE.txt",
	}, resp)

	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"my_content-ADJUSTED_TONE.txt",
		"my_content-ORIGINAL_TONE.txt",
		"tone-TONE_SOURCE.txt",
	}, names)

	got, err := os.ReadFile(filepath.Join(root, "my_content-ADJUSTED_TONE.txt"))
	require.NoError(t, err)
	assert.Equal(t, "MOCK: hello world\n\nMOCK: bye\n", string(got), "空段落原样保留")
	orig, err := os.ReadFile(filepath.Join(root, "my_content-ORIGINAL_TONE.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n\nbye\n", string(orig), "原件按字节存储")
}

// UT-SRV-02: 缺失/空文件与非 multipart 请求 → 400
func TestTransformBadRequest(t *testing.T) {
	store, _ := newStore(t)
	h := newHandler(t, mockEngine(t), store)

	rr := serve(h, multipartRequest(t, part{FieldToneFile, "tone.txt", "x"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "Failed to transform toneFile 'tone.txt' and contentFile ''", e.Message)
	assert.Contains(t, e.Error, FieldContentFile)

	rr = serve(h, multipartRequest(t,
		part{FieldToneFile, "tone.txt", ""},
		part{FieldContentFile, "c.txt", "text"},
	))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Error, "empty")

	req := httptest.NewRequest(http.MethodPost, "/api/transform/tone", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)

	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names, "校验失败时不落盘")
}

// UT-SRV-03: 不支持的扩展名 → 415
func TestTransformUnsupportedFormat(t *testing.T) {
	store, _ := newStore(t)
	h := newHandler(t, mockEngine(t), store)
	rr := serve(h, multipartRequest(t,
		part{FieldToneFile, "tone.pdf", "x"},
		part{FieldContentFile, "c.txt", "text"},
	))
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	assert.Equal(t, "Failed to transform toneFile 'tone.pdf' and contentFile 'c.txt'", decodeError(t, rr).Message)
}

// UT-SRV-04: 引擎错误映射（语气非法/改写失败 → 502，其余 → 500）
func TestTransformEngineErrors(t *testing.T) {
	okApply := func(_ context.Context, doc contract.Document, _ contract.StylisticTone) (contract.Document, error) {
		return doc, nil
	}
	cases := []struct {
		name   string
		eng    stubEngine
		status int
		errMsg string
	}{
		{
			name: "invalid tone",
			eng: stubEngine{
				extract: func(context.Context, contract.Document) (contract.StylisticTone, error) {
					return "", &contract.InvalidToneError{Raw: "cheerful"}
				},
				apply: okApply,
			},
			status: http.StatusBadGateway,
			errMsg: "cheerful",
		},
		{
			name: "rewrite failure",
			eng: stubEngine{
				extract: func(context.Context, contract.Document) (contract.StylisticTone, error) {
					return contract.ToneFormal, nil
				},
				apply: func(context.Context, contract.Document, contract.StylisticTone) (contract.Document, error) {
					return nil, &contract.RewriteError{Index: 1, Err: contract.ErrResponseInvalid}
				},
			},
			status: http.StatusBadGateway,
		},
		{
			name: "gateway failure",
			eng: stubEngine{
				extract: func(context.Context, contract.Document) (contract.StylisticTone, error) {
					return "", errors.New("classify: connection refused")
				},
				apply: okApply,
			},
			status: http.StatusInternalServerError,
			errMsg: "connection refused",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newStore(t)
			h := newHandler(t, tc.eng, store)
			rr := serve(h, multipartRequest(t,
				part{FieldToneFile, "a.txt", "tone"},
				part{FieldContentFile, "b.txt", "content"},
			))
			assert.Equal(t, tc.status, rr.Code)
			e := decodeError(t, rr)
			assert.Equal(t, "Failed to transform toneFile 'a.txt' and contentFile 'b.txt'", e.Message)
			assert.Contains(t, e.Error, tc.errMsg)

			ok, err := store.Exists("b.txt", contract.CategoryAdjustedTone)
			require.NoError(t, err)
			assert.False(t, ok, "失败时不产出结果文件")
		})
	}
}

// UT-SRV-05: 引擎收到 DocID 上下文
func TestTransformDocID(t *testing.T) {
	store, _ := newStore(t)
	var ids []contract.DocID
	eng := stubEngine{
		extract: func(ctx context.Context, _ contract.Document) (contract.StylisticTone, error) {
			ids = append(ids, transpose.DocIDFrom(ctx))
			return contract.ToneCasual, nil
		},
		apply: func(ctx context.Context, doc contract.Document, _ contract.StylisticTone) (contract.Document, error) {
			ids = append(ids, transpose.DocIDFrom(ctx))
			return doc, nil
		},
	}
	rr := serve(newHandler(t, eng, store), multipartRequest(t,
		part{FieldToneFile, "a.md", "tone"},
		part{FieldContentFile, "b.md", "content"},
	))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []contract.DocID{"a.md", "b.md"}, ids)
	assert.Contains(t, rr.Body.String(), `"tone":"CASUAL"`)
}

// UT-SRV-06: 文件列表与下载
func TestFilesListAndDownload(t *testing.T) {
	store, _ := newStore(t)
	h := newHandler(t, mockEngine(t), store)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"files":[]}`, rr.Body.String())

	stored, err := store.Write(context.Background(), "notes.txt", contract.CategoryAdjustedTone, strings.NewReader("line\n"))
	require.NoError(t, err)

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	assert.JSONEq(t, `{"files":["notes-ADJUSTED_TONE.txt"]}`, rr.Body.String())

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/api/files/"+stored, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "line\n", rr.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), stored)

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/api/files/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/api/files/.tmp-1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// UT-SRV-07: healthz、metrics 与请求标识
func TestHealthMetricsRequestID(t *testing.T) {
	store, _ := newStore(t)
	h := newHandler(t, mockEngine(t), store)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Len(t, rr.Header().Get(HeaderRequestID), 36, "缺省时生成 uuid")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	assert.Equal(t, "abc-123", serve(h, req).Header().Get(HeaderRequestID))

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "toneshift_op_total")
}

func TestNewRequiresDeps(t *testing.T) {
	store, _ := newStore(t)
	_, err := New(nil, store, nil, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(mockEngine(t), nil, nil, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	s, err := New(mockEngine(t), store, nil, &Options{MaxUploadBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.max)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(contract.ErrPathInvalid))
	assert.Equal(t, http.StatusNotFound, statusOf(os.ErrNotExist))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusOf(&http.MaxBytesError{Limit: 1}))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}
