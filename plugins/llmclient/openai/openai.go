package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"texgc/pkg/contract"
)

// Options: OpenAI 兼容 Chat Completions 的最小配置（OpenAI、Ollama /v1、OpenRouter 等）。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1 或 http://localhost:11434/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // 可选 client 级超时（秒）
	Temperature    *float64 `json:"temperature,omitempty"`
	// 第三方兼容（最小）：
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 不注入 Authorization 头（本地 Ollama 等）
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头
	// DisableSchema: 上游不支持 json_schema 响应格式时改用 json_object。
	DisableSchema bool `json:"disable_schema"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	api           *goopenai.Client
	model         string
	temp          *float64
	disableSchema bool
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	if opts.DisableDefaultAuth {
		key = ""
	}
	cfg := goopenai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	cfg.HTTPClient = &http.Client{
		Timeout:   time.Duration(opts.TimeoutSeconds) * time.Second,
		Transport: &headerTransport{base: http.DefaultTransport, headers: opts.ExtraHeaders, noAuth: opts.DisableDefaultAuth},
	}
	return &Client{
		api:           goopenai.NewClientWithConfig(cfg),
		model:         opts.Model,
		temp:          opts.Temperature,
		disableSchema: opts.DisableSchema,
	}, nil
}

// headerTransport 追加自定义请求头；noAuth 时移除 Authorization。
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
	noAuth  bool
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 && !t.noAuth {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	if t.noAuth {
		r.Header.Del("Authorization")
	}
	for k, v := range t.headers {
		if k != "" {
			r.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(r)
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// request: 将 Prompt 编码为 Chat Completions 请求。伪角色不上送；json_schema 转为 response_format。
func (c *Client) request(p contract.Prompt) (goopenai.ChatCompletionRequest, error) {
	req := goopenai.ChatCompletionRequest{Model: c.model}
	if c.temp != nil {
		req.Temperature = float32(*c.temp)
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Messages = []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleUser, Content: string(v)}}
	case contract.ChatPrompt:
		for _, m := range v.Wire() {
			req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
		if s, ok := v.Pseudo(contract.RoleSchema); ok && json.Valid([]byte(s)) {
			if c.disableSchema {
				req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
			} else {
				name := "reply"
				if task, ok := v.Pseudo(contract.RoleTask); ok && task != "" {
					name = task
				}
				req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
					Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
					JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
						Name:   name,
						Schema: json.RawMessage(s),
						Strict: true,
					},
				}
			}
		}
	default:
		return req, contract.ErrInvalidInput
	}
	if len(req.Messages) == 0 {
		return req, fmt.Errorf("openai: %w: empty prompt", contract.ErrInvalidInput)
	}
	return req, nil
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	req, err := c.request(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: resp.Choices[0].Message.Content}, nil
}

// classify: 429 → 限流；5xx/408 → 上游网络类；其余 4xx → 输入/配置无效；无状态码按原错误返回。
func classify(err error) error {
	status, msg := 0, err.Error()
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == 0:
		return err
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %s: %w", msg, contract.ErrRateLimited)
	case status == http.StatusRequestTimeout || status/100 == 5:
		return upstreamError{status: status, msg: strings.TrimSpace(msg)}
	case status/100 == 4:
		return fmt.Errorf("openai upstream %d: %w", status, contract.ErrInvalidInput)
	default:
		return err
	}
}

var _ contract.LLMClient = (*Client)(nil)
