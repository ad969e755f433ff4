package sliding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texgc/pkg/contract"
)

func chunks(texts ...string) []contract.ChunkRecord {
	out := make([]contract.ChunkRecord, len(texts))
	off := 0
	for i, s := range texts {
		out[i] = contract.ChunkRecord{Index: i, Start: off, End: off + len(s), Raw: s}
		off += len(s)
	}
	return out
}

// UT-WIN-01: 预算充足时带满半径上下文
func TestMakeFullRadius(t *testing.T) {
	w := New(&Options{ContextRadius: 1, BytesPerToken: 1})
	wins, err := w.Make(context.Background(), "f", chunks("a", "b", "c"), contract.WindowLimit{MaxTokens: 10})
	require.NoError(t, err)
	require.Len(t, wins, 3)
	assert.Empty(t, wins[0].Left)
	require.Len(t, wins[0].Right, 1)
	assert.Equal(t, "b", wins[0].Right[0].Raw)
	assert.Equal(t, "a", wins[1].Left[0].Raw)
	assert.Equal(t, "c", wins[1].Right[0].Raw)
	assert.Equal(t, contract.FileID("f"), wins[2].FileID)
	for i, win := range wins {
		assert.Equal(t, i, win.Target.Index, "顺序不变")
	}
}

// UT-WIN-02: 预算不足时收缩直至无上下文，不报错
func TestMakeShrinks(t *testing.T) {
	w := New(&Options{ContextRadius: 2, BytesPerToken: 1})
	wins, err := w.Make(context.Background(), "f", chunks("aa", "bb", "cc", "dd", "ee"), contract.WindowLimit{MaxTokens: 6})
	require.NoError(t, err)
	// 半径 2 需 10 token，半径 1 需 6 token
	assert.Len(t, wins[2].Left, 1)
	assert.Len(t, wins[2].Right, 1)

	wins, err = w.Make(context.Background(), "f", chunks("aaaa", "bbbbbbbbbb", "cc"), contract.WindowLimit{MaxTokens: 4})
	require.NoError(t, err)
	assert.Empty(t, wins[1].Left, "目标超出预算时不带上下文")
	assert.Empty(t, wins[1].Right)
	assert.Equal(t, "bbbbbbbbbb", wins[1].Target.Raw)
}

func TestMakeSkipContextOnly(t *testing.T) {
	cs := chunks("intro. ", "\\section{A} ", "body.")
	cs[1].Skip = true
	w := New(&Options{ContextRadius: 1, SkipContextOnly: true})
	wins, err := w.Make(context.Background(), "f", cs, contract.WindowLimit{MaxTokens: 100})
	require.NoError(t, err)
	assert.Empty(t, wins[2].Left, "跳过片段不作为上下文")
	assert.Empty(t, wins[0].Right)
}

func TestMakeErrors(t *testing.T) {
	w := New(nil)
	_, err := w.Make(context.Background(), "f", chunks("a"), contract.WindowLimit{})
	assert.Error(t, err)

	bad := chunks("a", "b")
	bad[1].Index = 5
	_, err = w.Make(context.Background(), "f", bad, contract.WindowLimit{MaxTokens: 10})
	assert.Error(t, err)

	wins, err := w.Make(context.Background(), "f", nil, contract.WindowLimit{MaxTokens: 10})
	assert.NoError(t, err)
	assert.Nil(t, wins)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Make(ctx, "f", chunks("a"), contract.WindowLimit{MaxTokens: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMakeZeroRadius(t *testing.T) {
	wins, err := New(&Options{ContextRadius: -3}).Make(context.Background(), "f", chunks("a", "b"), contract.WindowLimit{MaxTokens: 10})
	require.NoError(t, err)
	for _, w := range wins {
		assert.Nil(t, w.Left)
		assert.Nil(t, w.Right)
	}
}
