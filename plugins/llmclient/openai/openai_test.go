package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/pkg/contract"
)

const okBody = `{"id":"c1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"{\"corrected_sentence\":\"x\"}"},"finish_reason":"stop"}]}`

func newTestClient(t *testing.T, srv *httptest.Server, extra string) contract.LLMClient {
	t.Helper()
	raw := `{"base_url":"` + srv.URL + `/v1","api_key":"k","model":"m"` + extra + `}`
	c, err := New(json.RawMessage(raw))
	require.NoError(t, err)
	return c
}

// TestInvokeChat 伪角色不上送；schema 转为 response_format；自定义请求头生效
func TestInvokeChat(t *testing.T) {
	var got map[string]any
	var auth, extra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		extra = r.Header.Get("X-Test")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()
	c := newTestClient(t, srv, `,"extra_headers":{"X-Test":"yes"}`)

	p := contract.ChatPrompt{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "usr"},
		{Role: contract.RoleSchema, Content: `{"type":"object"}`},
		{Role: contract.RoleTask, Content: contract.TaskPropose},
		{Role: contract.RolePayload, Content: `{"text":"a"}`},
	}
	raw, err := c.Invoke(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, `{"corrected_sentence":"x"}`, raw.Text)
	assert.Equal(t, "Bearer k", auth)
	assert.Equal(t, "yes", extra)

	msgs, _ := got["messages"].([]any)
	require.Len(t, msgs, 2)
	rf, _ := got["response_format"].(map[string]any)
	require.NotNil(t, rf)
	assert.Equal(t, "json_schema", rf["type"])
	js, _ := rf["json_schema"].(map[string]any)
	assert.Equal(t, "propose", js["name"])
}

// TestInvokeNoAuthJSONObject 本地服务：不注入鉴权头，使用 json_object
func TestInvokeNoAuthJSONObject(t *testing.T) {
	var auth string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()
	c, err := New(json.RawMessage(`{"base_url":"` + srv.URL + `","api_key_env":"TEXGC_TEST_NO_SUCH_KEY","disable_default_auth":true,"disable_schema":true}`))
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), contract.ChatPrompt{{Role: "user", Content: "u"}, {Role: contract.RoleSchema, Content: `{}`}})
	require.NoError(t, err)
	assert.Empty(t, auth)
	rf, _ := got["response_format"].(map[string]any)
	assert.Equal(t, "json_object", rf["type"])
}

// TestInvokeErrors 上游错误分类
func TestInvokeErrors(t *testing.T) {
	cases := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusTooManyRequests, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrRateLimited) }},
		{http.StatusBadRequest, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrInvalidInput) }},
		{http.StatusBadGateway, func(t *testing.T, err error) {
			var ne net.Error
			require.True(t, errors.As(err, &ne))
			var ue contract.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, http.StatusBadGateway, ue.UpstreamStatus())
		}},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
		}))
		c := newTestClient(t, srv, "")
		_, err := c.Invoke(context.Background(), contract.TextPrompt("hi"))
		require.Error(t, err)
		tc.check(t, err)
		srv.Close()
	}
}

// TestInvokeEmptyChoices 空响应视为无效
func TestInvokeEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"c1","choices":[]}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv, "")
	_, err := c.Invoke(context.Background(), contract.TextPrompt("hi"))
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

// TestInvokeCanceled 取消时返回上下文错误
func TestInvokeCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := newTestClient(t, srv, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, contract.TextPrompt("hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNewAndInvalidPrompt 构造与输入校验
func TestNewAndInvalidPrompt(t *testing.T) {
	_, err := New(json.RawMessage(`{"api_key_env":"TEXGC_TEST_NO_SUCH_KEY"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(json.RawMessage(`{bad`))
	assert.Error(t, err)

	c, err := New(json.RawMessage(`{"api_key":"k"}`))
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), 42)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = c.Invoke(context.Background(), contract.ChatPrompt{{Role: contract.RoleTask, Content: "x"}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
