package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// ChunkRecord: 分段阶段产出的原子片段（单文件内）。
// 约束：
//   - Raw 恰为源文本 [Start, End) 的字节切片；
//   - Index 自 0 严格递增；Start[0]==0，Start[i]==End[i-1]；
//   - End > Start（空片段不合法）；
//   - 偏移以字节计。
type ChunkRecord struct {
	Index int
	Start int
	End   int
	Raw   string
	// Normalized: 结构标记被占位符替换后的简化形态，仅用于判定与提示，不参与装配。
	Normalized string
	// Mismatch: 一致性校验失败时的处理结果（"" 表示通过；"strict" 表示严格规则重派生后通过；
	// "passthrough" 表示原样透传）。
	Mismatch string
	// Skip: 不含正文（纯结构/公式/注释）或被透传的片段，不提交给 oracle。
	Skip bool
}

// Len 返回片段的原始字节长度。
func (c ChunkRecord) Len() int { return c.End - c.Start }

// Window: 纠错上下文窗口。仅 Target 需要产出结果；Left/Right 为只读语境。
type Window struct {
	FileID FileID
	Target ChunkRecord
	Left   []ChunkRecord
	Right  []ChunkRecord
}

// State: 单个片段在纠错阶段的状态。
// 迁移：Proposed → Validating → {Accepted, Rejected}；两个终态走同一装配路径。
type State int

const (
	StateProposed State = iota
	StateValidating
	StateAccepted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateValidating:
		return "validating"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal 报告是否为终态。
func (s State) Terminal() bool { return s == StateAccepted || s == StateRejected }

// 终态原因（Reason）取值。
const (
	ReasonAccepted  = "accepted"
	ReasonSkipped   = "skipped"
	ReasonBlank     = "blank"
	ReasonUnchanged = "unchanged"
	ReasonRejected  = "rejected"
	ReasonExhausted = "rounds_exhausted"
	ReasonCanceled  = "canceled"
	// oracle 失败时 Reason 为 "oracle_" + OracleKind。
)

// CorrectionRecord: 纠错阶段的终态记录。
// 约束：Accepted=false 时装配必须使用 Chunk.Raw 原文。
type CorrectionRecord struct {
	Chunk       ChunkRecord
	Proposed    string
	Accepted    bool
	State       State
	Reason      string
	Rounds      int
	Confidence  float64
	Explanation string
	Concerns    []string
}

// Output 返回装配时应使用的文本。
func (r CorrectionRecord) Output() string {
	if r.Accepted && r.State == StateAccepted {
		return r.Proposed
	}
	return r.Chunk.Raw
}
