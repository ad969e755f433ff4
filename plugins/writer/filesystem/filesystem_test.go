package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/pkg/contract"
)

func noTemp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "tmp file left: %s", e.Name())
	}
}

// TestWriteAtomicReplace 原子写入并替换已有内容
func TestWriteAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "paper.tex", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(ctx, "paper.tex", bytes.NewBufferString("\\section{A} v2")))
	b, err := os.ReadFile(filepath.Join(dir, "paper.tex"))
	require.NoError(t, err)
	assert.Equal(t, "\\section{A} v2", string(b))
	noTemp(t, dir)
}

// TestWriteFlatDropsDirs 扁平模式仅保留文件名（含绝对路径 FileID）
func TestWriteFlatDropsDirs(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "/src/thesis/ch1.tex.jsonl", strings.NewReader("{}")))
	_, err = os.Stat(filepath.Join(dir, "ch1.tex.jsonl"))
	require.NoError(t, err)
}

// TestWriteNested 非扁平模式保留层级
func TestWriteNested(t *testing.T) {
	dir := t.TempDir()
	flat, atomic := false, false
	w, err := New(&Options{OutputDir: dir, Flat: &flat, Atomic: &atomic})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "ch/intro.tex", bytes.NewBufferString("v")))
	b, err := os.ReadFile(filepath.Join(dir, "ch", "intro.tex"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))
}

// TestWritePathInvalid 路径越界
func TestWritePathInvalid(t *testing.T) {
	flat := false
	w, err := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	require.NoError(t, err)
	err = w.Write(context.Background(), "../bad.tex", bytes.NewBufferString("x"))
	require.ErrorIs(t, err, contract.ErrPathInvalid)
}

// TestWriteSuffix 后缀插入首个扩展名之前，旁路产物同样适用
func TestWriteSuffix(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir, Suffix: "_fixed"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "paper.tex", strings.NewReader("a")))
	require.NoError(t, w.Write(ctx, "paper.tex.diff", strings.NewReader("d")))
	for _, name := range []string{"paper_fixed.tex", "paper_fixed.tex.diff"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestWithSuffix(t *testing.T) {
	cases := map[string]string{
		"a.tex":       "a_x.tex",
		"a.tex.jsonl": "a_x.tex.jsonl",
		"stdin":       "stdin_x",
		".hidden.tex": ".hidden_x.tex",
		filepath.Join("d", "b.tex"): filepath.Join("d", "b_x.tex"),
	}
	for in, want := range cases {
		assert.Equal(t, want, withSuffix(in, "_x"), in)
	}
	assert.Equal(t, "a.tex", withSuffix("a.tex", ""))
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, err := New(&Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Write(ctx, "a.tex", strings.NewReader("data")), context.Canceled)
}

// TestNewInvalid 参数缺失或非法
func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(&Options{})
	require.Error(t, err)
	_, err = New(&Options{OutputDir: "out", Suffix: "a/b"})
	require.ErrorIs(t, err, contract.ErrPathInvalid)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 拷贝失败时不留临时文件也不产生目标
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.Error(t, w.Write(context.Background(), "a.tex", errReader{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	_, err := r.Read(make([]byte, 1))
	require.ErrorIs(t, err, context.Canceled)
}
