package mock

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/pkg/contract"
)

func prompt(task, payload string) contract.ChatPrompt {
	return contract.ChatPrompt{
		{Role: "user", Content: "ignored"},
		{Role: contract.RoleTask, Content: task},
		{Role: contract.RolePayload, Content: payload},
	}
}

// TestPropose 默认替换表：整词替换，不触碰控制序列
func TestPropose(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), prompt(contract.TaskPropose, `{"text":"The cat sit on \\sit{x} situation."}`))
	require.NoError(t, err)
	var out struct {
		Text       string  `json:"corrected_sentence"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw.Text), &out))
	assert.Equal(t, `The cat sits on \sit{x} situation.`, out.Text)
	assert.Equal(t, 0.9, out.Confidence)
}

// TestProposeCustomRulesFenced 自定义替换表与代码块包裹
func TestProposeCustomRulesFenced(t *testing.T) {
	c, err := New(json.RawMessage(`{"rules":{"is":"are"},"confidence":0.4,"fenced":true}`))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), prompt(contract.TaskPropose, `{"text":"they is here"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.Text, "```json\n"))
	assert.Contains(t, raw.Text, `"corrected_sentence":"they are here"`)
	assert.Contains(t, raw.Text, `"confidence":0.4`)
}

// TestValidate 复核结论：默认通过，reject 时拒绝
func TestValidate(t *testing.T) {
	c, _ := New(nil)
	raw, err := c.Invoke(context.Background(), prompt(contract.TaskValidate, `{"original":"a","proposed":"b"}`))
	require.NoError(t, err)
	assert.Contains(t, raw.Text, `"is_valid":true`)

	r, _ := New(json.RawMessage(`{"reject":true}`))
	raw, err = r.Invoke(context.Background(), prompt(contract.TaskValidate, `{"original":"a","proposed":"b"}`))
	require.NoError(t, err)
	assert.Contains(t, raw.Text, `"is_valid":false`)
	assert.Contains(t, raw.Text, "rejected by mock")
}

// TestInvalid 非会话 Prompt、未知任务与坏载荷
func TestInvalid(t *testing.T) {
	c, _ := New(nil)
	ctx := context.Background()
	_, err := c.Invoke(ctx, contract.TextPrompt("x"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = c.Invoke(ctx, prompt("translate", `{}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = c.Invoke(ctx, prompt(contract.TaskPropose, `not json`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Invoke(cctx, prompt(contract.TaskPropose, `{"text":"a"}`))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = New(json.RawMessage(`{"rules":1}`))
	assert.Error(t, err)
}

// TestCorrectCount 替换计数与尾部孤立反斜杠
func TestCorrectCount(t *testing.T) {
	c, _ := New(nil)
	out, n := c.(*Client).Correct(`teh cat sit\`)
	assert.Equal(t, `the cat sits\`, out)
	assert.Equal(t, 2, n)
}
