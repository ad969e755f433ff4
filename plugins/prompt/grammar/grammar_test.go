package grammar

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/pkg/contract"
)

func chunk(i int, raw string) contract.ChunkRecord {
	return contract.ChunkRecord{Index: i, Raw: raw}
}

// TestBuildProposeDefault 默认模板：语境、目标与伪角色
func TestBuildProposeDefault(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	w := contract.Window{
		Target: chunk(1, "The cat sit on the mat."),
		Left:   []contract.ChunkRecord{chunk(0, "Before. ")},
		Right:  []contract.ChunkRecord{chunk(2, " After.")},
	}
	p, err := b.BuildPropose(context.Background(), w)
	require.NoError(t, err)
	cp, ok := p.(contract.ChatPrompt)
	require.True(t, ok)
	require.Len(t, cp, 5)

	assert.Equal(t, "system", cp[0].Role)
	assert.Contains(t, cp[0].Content, "present tense")
	assert.Contains(t, cp[1].Content, "<context>\nBefore. \n<target/>\n After.\n</context>")
	assert.Contains(t, cp[1].Content, "<target>\nThe cat sit on the mat.\n</target>")

	task, ok := cp.Pseudo(contract.RoleTask)
	require.True(t, ok)
	assert.Equal(t, contract.TaskPropose, task)
	payload, _ := cp.Pseudo(contract.RolePayload)
	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &m))
	assert.Equal(t, "The cat sit on the mat.", m["text"])

	wire := cp.Wire()
	assert.Len(t, wire, 2)
}

// TestBuildProposeNoContext 无语境时不输出 <context>
func TestBuildProposeNoContext(t *testing.T) {
	b, _ := New(nil)
	p, err := b.BuildPropose(context.Background(), contract.Window{Target: chunk(0, "x")})
	require.NoError(t, err)
	cp := p.(contract.ChatPrompt)
	assert.NotContains(t, cp[1].Content, "<context>")
}

// TestBuildProposeEmptyTarget 空白目标
func TestBuildProposeEmptyTarget(t *testing.T) {
	b, _ := New(nil)
	_, err := b.BuildPropose(context.Background(), contract.Window{Target: chunk(0, "  \n")})
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}

// TestBuildProposeCanceled 上下文取消
func TestBuildProposeCanceled(t *testing.T) {
	b, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.BuildPropose(ctx, contract.Window{Target: chunk(0, "x")})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestBuildValidate 复核提示词
func TestBuildValidate(t *testing.T) {
	b, _ := New(&Options{Tense: "past"})
	p, err := b.BuildValidate(context.Background(), "a sit", "a sits")
	require.NoError(t, err)
	cp := p.(contract.ChatPrompt)
	assert.Contains(t, cp[0].Content, "past tense")
	assert.Contains(t, cp[1].Content, "<original>\na sit\n</original>")
	assert.Contains(t, cp[1].Content, "<corrected>\na sits\n</corrected>")
	schema, _ := cp.Pseudo(contract.RoleSchema)
	assert.Contains(t, schema, "technical_accuracy")
	task, _ := cp.Pseudo(contract.RoleTask)
	assert.Equal(t, contract.TaskValidate, task)
	payload, _ := cp.Pseudo(contract.RolePayload)
	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &m))
	assert.Equal(t, "a sits", m["proposed"])

	_, err = b.BuildValidate(context.Background(), "", "x")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// TestGlossaryAppended 术语表追加到两个 system 提示
func TestGlossaryAppended(t *testing.T) {
	b, err := New(&Options{InlineGlossary: "qubit: qubit"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(b.sys, "<glossary>\nqubit: qubit\n</glossary>"))
	assert.Contains(t, b.validate, "<glossary>")
}

// TestTemplatePaths 从文件加载模板与术语表
func TestTemplatePaths(t *testing.T) {
	dir := t.TempDir()
	sys := filepath.Join(dir, "sys.txt")
	val := filepath.Join(dir, "val.txt")
	glos := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(sys, []byte("S {{.Tense}}"), 0o644))
	require.NoError(t, os.WriteFile(val, []byte("V"), 0o644))
	require.NoError(t, os.WriteFile(glos, []byte("g\n"), 0o644))
	b, err := New(&Options{SystemTemplatePath: sys, ValidateTemplatePath: val, GlossaryPath: glos})
	require.NoError(t, err)
	assert.Equal(t, "S present\n\n<glossary>\ng\n</glossary>", b.sys)
	assert.Equal(t, "V\n\n<glossary>\ng\n</glossary>", b.validate)
}

// TestTemplateErrors 模板读取、解析与渲染错误
func TestTemplateErrors(t *testing.T) {
	_, err := New(&Options{SystemTemplatePath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	_, err = New(&Options{InlineSystemTemplate: "{{"})
	assert.Error(t, err)
	_, err = New(&Options{InlineValidateTemplate: "{{.Nope}}"})
	assert.Error(t, err)
	_, err = New(&Options{GlossaryPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

// TestEstimateOverhead 固定开销估算
func TestEstimateOverhead(t *testing.T) {
	b, _ := New(nil)
	assert.Zero(t, b.EstimateOverheadTokens(nil))
	n := b.EstimateOverheadTokens(func(s string) int { return len(s) })
	assert.Greater(t, n, len(b.sys))

	g, _ := New(&Options{InlineGlossary: strings.Repeat("g", 100)})
	assert.Greater(t, g.EstimateOverheadTokens(func(s string) int { return len(s) }), n)
}
