package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"texgc/internal/texscan"
	"texgc/pkg/contract"
)

// Options: 离线调试配置（可选）。
type Options struct {
	// APIKey: 仅用于限流分组（调试用），默认使用内置常量，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// Rules: 整词替换表（区分大小写）；为空时使用内置的少量常见错误。
	Rules map[string]string `json:"rules,omitempty"`
	// Confidence: 提议回复中的置信度；<=0 时为 0.9。
	Confidence float64 `json:"confidence,omitempty"`
	// Reject: 复核回复一律 is_valid=false（用于演练回退路径）。
	Reject bool `json:"reject,omitempty"`
	// Fenced: 回复包裹在 ```json 代码块中，模拟聊天型模型的输出。
	Fenced bool `json:"fenced,omitempty"`
}

// 内置替换表。
var defaultRules = map[string]string{
	"sit":     "sits",
	"teh":     "the",
	"recieve": "receive",
	"occured": "occurred",
}

type Client struct {
	rules  map[string]string
	conf   float64
	reject bool
	fenced bool
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if len(o.Rules) == 0 {
		o.Rules = defaultRules
	}
	if o.Confidence <= 0 {
		o.Confidence = 0.9
	}
	return &Client{rules: o.Rules, conf: o.Confidence, reject: o.Reject, fenced: o.Fenced}, nil
}

// Invoke: 依据伪角色 task/payload 产出确定性 JSON 回复；不解析自然语言提示。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	cp, ok := p.(contract.ChatPrompt)
	if !ok {
		return contract.Raw{}, fmt.Errorf("mock: %w: chat prompt required", contract.ErrInvalidInput)
	}
	task, _ := cp.Pseudo(contract.RoleTask)
	payload, _ := cp.Pseudo(contract.RolePayload)
	var in struct {
		Text     string `json:"text"`
		Original string `json:"original"`
		Proposed string `json:"proposed"`
	}
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return contract.Raw{}, fmt.Errorf("mock: %w: payload", contract.ErrInvalidInput)
	}

	var out any
	switch task {
	case contract.TaskPropose:
		fixed, n := c.Correct(in.Text)
		out = map[string]any{
			"corrected_sentence": fixed,
			"confidence":         c.conf,
			"explanation":        fmt.Sprintf("%d replacement(s)", n),
		}
	case contract.TaskValidate:
		concerns := []string{}
		if c.reject {
			concerns = append(concerns, "rejected by mock")
		}
		out = map[string]any{
			"is_valid":           !c.reject,
			"maintains_meaning":  true,
			"technical_accuracy": true,
			"concerns":           concerns,
		}
	default:
		return contract.Raw{}, fmt.Errorf("mock: %w: unknown task %q", contract.ErrInvalidInput, task)
	}
	b, _ := json.Marshal(out)
	if c.fenced {
		return contract.Raw{Text: "```json\n" + string(b) + "\n```"}, nil
	}
	return contract.Raw{Text: string(b)}, nil
}

// Correct 对字母构成的整词应用替换表；控制序列名（\ 之后）不替换。返回结果与替换次数。
func (c *Client) Correct(s string) (string, int) {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	n := 0
	for i := 0; i < len(s); {
		if !texscan.IsLetter(s[i]) {
			if s[i] == '\\' {
				// 控制序列整体原样输出
				name, end := texscan.ControlWord(s, i)
				if name != "" {
					sb.WriteString(s[i:end])
					i = end
					continue
				}
			}
			sb.WriteByte(s[i])
			i++
			continue
		}
		j := i
		for j < len(s) && texscan.IsLetter(s[j]) {
			j++
		}
		w := s[i:j]
		if r, ok := c.rules[w]; ok {
			sb.WriteString(r)
			n++
		} else {
			sb.WriteString(w)
		}
		i = j
	}
	return sb.String(), n
}

var _ contract.LLMClient = (*Client)(nil)
