package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toneshift/pkg/contract"
)

func newTestClient(t *testing.T, h http.HandlerFunc, extra string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	raw := `{"base_url":"` + srv.URL + `/v1","api_key":"sk-test","model":"m1"` + extra + `}`
	c, err := New(json.RawMessage(raw))
	require.NoError(t, err)
	return c
}

func TestGenerateSuccess(t *testing.T) {
	type request struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	reqs := make(chan request, 1)
	var auth, extra atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/chat/completions"), r.URL.Path)
		auth.Store(r.Header.Get("Authorization"))
		extra.Store(r.Header.Get("X-Title"))
		var got request
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		reqs <- got
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" FORMAL "},"finish_reason":"stop"}]}`)
	}, `,"extra_headers":{"X-Title":"toneshift"}`)

	raw, err := c.Generate(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, " FORMAL ", raw.Text, "原样返回，不做清洗")
	got := <-reqs
	assert.Equal(t, "m1", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "classify this", got.Messages[0].Content)
	assert.Equal(t, "Bearer sk-test", auth.Load())
	assert.Equal(t, "toneshift", extra.Load())
}

func TestGenerateNoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}, "")
	_, err := c.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestGenerateUpstreamErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		rate      bool
		temporary bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, true, true},
		{"server error", http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`, false, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, false, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, "")
			_, err := c.Generate(context.Background(), "x")
			require.Error(t, err)
			var ue contract.UpstreamError
			require.True(t, errors.As(err, &ue), "应实现 UpstreamError: %v", err)
			assert.Equal(t, tt.status, ue.UpstreamStatus())
			assert.Equal(t, tt.temporary, ue.Temporary())
			assert.NotEmpty(t, ue.UpstreamMessage())
			assert.Equal(t, tt.rate, errors.Is(err, contract.ErrRateLimited))
		})
	}
}

func TestGenerateCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMissingKey(t *testing.T) {
	t.Setenv("TONESHIFT_TEST_EMPTY_KEY", "")
	_, err := New(json.RawMessage(`{"api_key_env":"TONESHIFT_TEST_EMPTY_KEY"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	t.Setenv("TONESHIFT_TEST_KEY", "sk-env")
	c, err := New(json.RawMessage(`{"api_key_env":"TONESHIFT_TEST_KEY"}`))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", c.model)

	_, err = New(json.RawMessage(`{bad`))
	assert.Error(t, err)
}
