package contract

import "fmt"

// Cursor: 源文档与已消费偏移的不可变视图。
// 约束：偏移单调不减；Advance 返回新值，不修改接收者。
type Cursor struct {
	doc string
	off int
}

// NewCursor 以偏移 0 包装整篇文档。
func NewCursor(doc string) Cursor { return Cursor{doc: doc} }

// Offset 返回已消费字节数。
func (c Cursor) Offset() int { return c.off }

// Remainder 返回尚未消费的后缀。
func (c Cursor) Remainder() string { return c.doc[c.off:] }

// Done 报告剩余是否为空。
func (c Cursor) Done() bool { return c.off >= len(c.doc) }

// Source 返回完整源文本。
func (c Cursor) Source() string { return c.doc }

// Advance 前移 n 字节。n<=0 或越过末尾均视为无进展（ErrExtractionStall）。
func (c Cursor) Advance(n int) (Cursor, error) {
	rest := len(c.doc) - c.off
	if n <= 0 || n > rest {
		return c, fmt.Errorf("%w: advance %d at offset %d (remaining %d)", ErrExtractionStall, n, c.off, rest)
	}
	return Cursor{doc: c.doc, off: c.off + n}, nil
}

// RawLength: 游标前移量的唯一来源（原文长度，字节）。
// 不得以 Normalized 的长度推进。
func RawLength(raw string) int { return len(raw) }
