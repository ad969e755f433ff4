package sliding

import (
	"context"
	"errors"
	"fmt"

	"texgc/pkg/contract"
)

// Options 为滑动上下文窗口的可选配置。
type Options struct {
	// ContextRadius: 左右各附带的邻居片段数上限。< 0 视为 0。
	ContextRadius int `json:"context_radius"`
	// BytesPerToken: 估算系数，tokens ≈ ceil(utf8_bytes / BytesPerToken)。<=0 时采用默认 4。
	BytesPerToken int `json:"bytes_per_token"`
	// ExtraBytesPerChunk: 每个片段在 Prompt 中的包装开销估算（标签、换行）。
	ExtraBytesPerChunk int `json:"extra_bytes_per_chunk"`
	// SkipContextOnly: 跳过片段（纯结构/公式）不计入上下文。
	SkipContextOnly bool `json:"skip_context_only"`
}

// Windower 为每个片段构建 [Left][Target][Right] 上下文窗口。
type Windower struct {
	radius        int
	bytesPerToken int
	extra         int
	dropSkipped   bool
}

// New 创建滑动窗口。
func New(opts *Options) *Windower {
	w := &Windower{bytesPerToken: 4}
	if opts != nil {
		if opts.ContextRadius > 0 {
			w.radius = opts.ContextRadius
		}
		if opts.BytesPerToken > 0 {
			w.bytesPerToken = opts.BytesPerToken
		}
		if opts.ExtraBytesPerChunk > 0 {
			w.extra = opts.ExtraBytesPerChunk
		}
		w.dropSkipped = opts.SkipContextOnly
	}
	return w
}

// Make 为每个片段生成窗口：
// - 输出与输入一一对应、顺序不变；
// - 半径从 ContextRadius 起逐步收缩，直至 [L][T][R] 的估算 token 不超过预算；
// - 目标自身超出预算时窗口不带上下文（不报错，交由上游 MaxTokensPerReq 判定）。
// 使用前缀和，单个窗口的预算判定为 O(1)。
func (w *Windower) Make(ctx context.Context, fileID contract.FileID, chunks []contract.ChunkRecord, limit contract.WindowLimit) ([]contract.Window, error) {
	if limit.MaxTokens <= 0 {
		return nil, errors.New("window: max tokens must be > 0")
	}
	n := len(chunks)
	if n == 0 {
		return nil, nil
	}
	for i := range chunks {
		if chunks[i].Index != i {
			return nil, fmt.Errorf("window: chunk index must be contiguous from 0, got %d at %d", chunks[i].Index, i)
		}
	}
	pref := make([]int, n+1)
	for i := 0; i < n; i++ {
		t := w.estimateTokens(chunks[i].Raw)
		if w.dropSkipped && chunks[i].Skip {
			t = 0
		}
		pref[i+1] = pref[i] + t
	}

	out := make([]contract.Window, n)
	for i := 0; i < n; i++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		win := contract.Window{FileID: fileID, Target: chunks[i]}
		for r := w.radius; r > 0; r-- {
			lo, hi := i-r, i+r
			if lo < 0 {
				lo = 0
			}
			if hi > n-1 {
				hi = n - 1
			}
			if pref[hi+1]-pref[lo] <= limit.MaxTokens {
				win.Left = w.context(chunks[lo:i])
				win.Right = w.context(chunks[i+1 : hi+1])
				break
			}
		}
		out[i] = win
	}
	return out, nil
}

func (w *Windower) context(cs []contract.ChunkRecord) []contract.ChunkRecord {
	if len(cs) == 0 {
		return nil
	}
	if !w.dropSkipped {
		return cs
	}
	out := make([]contract.ChunkRecord, 0, len(cs))
	for _, c := range cs {
		if !c.Skip {
			out = append(out, c)
		}
	}
	return out
}

// estimateTokens 近似估算 tokens ≈ ceil((utf8_bytes + extra) / bytesPerToken)。
func (w *Windower) estimateTokens(s string) int {
	b := len(s) + w.extra
	if b == 0 {
		return 0
	}
	return (b + w.bytesPerToken - 1) / w.bytesPerToken
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Windower = (*Windower)(nil)
