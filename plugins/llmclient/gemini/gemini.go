package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"texgc/pkg/contract"
)

// Options: Google Generative Language API (Gemini) 最小必需。
type Options struct {
	BaseURL   string `json:"base_url"`    // https://generativelanguage.googleapis.com
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	// 第三方兼容（最小）
	EndpointPath  string            `json:"endpoint_path"`    // 可覆盖默认 /v1beta/models/{model}:generateContent；支持 {model} 占位
	APIKeyInQuery *bool             `json:"api_key_in_query"` // 默认 true；为 false 时使用 x-goog-api-key 头
	ExtraHeaders  map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/v1beta/models/{model}:generateContent"
	}
	if o.APIKeyInQuery == nil {
		t := true
		o.APIKeyInQuery = &t
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url     string
	apiKey  string
	inQuery bool
	temp    *float64
	extraH  map[string]string
	do      func(*http.Request) (*http.Response, error)
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	path := strings.ReplaceAll(opts.EndpointPath, "{model}", url.PathEscape(opts.Model))
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		path = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		url:     path,
		apiKey:  key,
		inQuery: *opts.APIKeyInQuery,
		temp:    opts.Temperature,
		extraH:  opts.ExtraHeaders,
		do:      hc.Do,
	}, nil
}

// 请求/响应（最小字段）。
type gmPart struct {
	Text string `json:"text"`
}
type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}
type gmGenerationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}
type gmReq struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}
type gmResp struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encodePrompt: system 消息并入 systemInstruction；伪角色不上送；json_schema 启用 JSON 输出。
func (c *Client) encodePrompt(p contract.Prompt) ([]byte, error) {
	var req gmReq
	gc := &gmGenerationConfig{Temperature: c.temp}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Contents = []gmContent{{Role: "user", Parts: []gmPart{{Text: string(v)}}}}
	case contract.ChatPrompt:
		for _, m := range v.Wire() {
			if strings.EqualFold(strings.TrimSpace(m.Role), "system") {
				if req.SystemInstruction == nil {
					req.SystemInstruction = &gmContent{}
				}
				req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, gmPart{Text: m.Content})
				continue
			}
			req.Contents = append(req.Contents, gmContent{Role: normalizeGeminiRole(m.Role), Parts: []gmPart{{Text: m.Content}}})
		}
		if s, ok := v.Pseudo(contract.RoleSchema); ok && json.Valid([]byte(s)) {
			gc.ResponseMIMEType = "application/json"
			gc.ResponseSchema = json.RawMessage(stripUnsupported(s))
		}
	default:
		return nil, contract.ErrInvalidInput
	}
	if len(req.Contents) == 0 {
		return nil, fmt.Errorf("gemini: %w: empty prompt", contract.ErrInvalidInput)
	}
	if gc.Temperature != nil || gc.ResponseMIMEType != "" {
		req.GenerationConfig = gc
	}
	return json.Marshal(&req)
}

// stripUnsupported: Gemini responseSchema 不接受 additionalProperties，递归移除。
func stripUnsupported(schema string) string {
	var v any
	if err := json.Unmarshal([]byte(schema), &v); err != nil {
		return schema
	}
	var walk func(any)
	walk = func(n any) {
		switch t := n.(type) {
		case map[string]any:
			delete(t, "additionalProperties")
			for _, c := range t {
				walk(c)
			}
		case []any:
			for _, c := range t {
				walk(c)
			}
		}
	}
	walk(v)
	b, err := json.Marshal(v)
	if err != nil {
		return schema
	}
	return string(b)
}

// normalizeGeminiRole 将通用 Chat 角色映射为 Gemini 支持的集合：user|model。
func normalizeGeminiRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "model", "assistant":
		return "model"
	default:
		return "user"
	}
}

func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encodePrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return contract.Raw{}, fmt.Errorf("invalid url: %v: %w", err, contract.ErrInvalidInput)
	}
	if c.inQuery {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if !c.inQuery {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("gemini upstream %d: %w", resp.StatusCode, contract.ErrInvalidInput)
	}
	var gr gmResp
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: sb.String()}, nil
}

var _ contract.LLMClient = (*Client)(nil)
