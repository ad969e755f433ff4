// Package texscan 提供 LaTeX 源的最小词法工具：控制序列、分组、环境与注释的定位。
// 所有位置均为字节偏移；函数纯计算，不分配多余内存。
package texscan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// IsLetter 报告 ASCII 字母（控制词由字母组成）。
func IsLetter(c byte) bool { return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') }

// IsSpace 报告 ASCII 空白。
func IsSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' }

// ControlWord 解析 s[i]=='\\' 处的控制序列。
// 返回名称（控制词为字母串，控制符为单个字符）与其后位置；末尾孤立的 '\' 返回空名。
func ControlWord(s string, i int) (string, int) {
	if i+1 >= len(s) {
		return "", len(s)
	}
	if !IsLetter(s[i+1]) {
		return s[i+1 : i+2], i + 2
	}
	j := i + 1
	for j < len(s) && IsLetter(s[j]) {
		j++
	}
	return s[i+1 : j], j
}

// CommentEnd 返回 s[i]=='%' 起注释的结束位置（换行符所在位置，不含换行；无换行时为 len(s)）。
func CommentEnd(s string, i int) int {
	k := strings.IndexByte(s[i:], '\n')
	if k < 0 {
		return len(s)
	}
	return i + k
}

// SkipBlank 跳过空格与制表符。
func SkipBlank(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// SkipSpace 跳过任意空白。
func SkipSpace(s string, i int) int {
	for i < len(s) && IsSpace(s[i]) {
		i++
	}
	return i
}

// Group 匹配 s[i] 处以 '{' 或 '[' 开启的分组，返回闭合符之后的位置。
// 转义字符与注释内容不参与计数；方括号分组内的花括号嵌套被整体跳过。
// 未闭合时返回 (len(s), false)。
func Group(s string, i int, open, close byte) (int, bool) {
	depth, brace := 0, 0
	for j := i; j < len(s); j++ {
		c := s[j]
		if c == '\\' {
			j++
			continue
		}
		if c == '%' {
			j = CommentEnd(s, j) - 1
			continue
		}
		if open != '{' {
			if c == '{' {
				brace++
				continue
			}
			if c == '}' {
				if brace > 0 {
					brace--
				}
				continue
			}
			if brace > 0 {
				continue
			}
		}
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return j + 1, true
			}
		}
	}
	return len(s), false
}

// CommandArgs 解析控制词之后的参数序列：可选 '*'，随后若干相邻的 [..] 与 {..}。
// 仅首个参数前允许空格/制表符。返回参数末尾位置、是否全部闭合、必选参数个数。
func CommandArgs(s string, i int) (end int, closed bool, mandatory int) {
	j := i
	if j < len(s) && s[j] == '*' {
		j++
	}
	first := true
	for {
		k := j
		if first {
			k = SkipBlank(s, j)
		}
		if k >= len(s) {
			break
		}
		var ok bool
		switch s[k] {
		case '[':
			j, ok = Group(s, k, '[', ']')
		case '{':
			j, ok = Group(s, k, '{', '}')
			mandatory++
		default:
			return j, true, mandatory
		}
		if !ok {
			return len(s), false, mandatory
		}
		first = false
	}
	return j, true, mandatory
}

// EnvName 解析 \begin 或 \end 之后的 {name}；i 指向控制词之后。
// 未找到名称时返回 ("", i)。
func EnvName(s string, i int) (string, int) {
	k := SkipBlank(s, i)
	if k >= len(s) || s[k] != '{' {
		return "", i
	}
	c := strings.IndexByte(s[k:], '}')
	if c < 0 {
		return "", i
	}
	return strings.TrimSpace(s[k+1 : k+c]), k + c + 1
}

// EnvEnd 自 i 起寻找与 name 配对的 \end{name}，返回其后位置。
// 同名环境嵌套计数；逐字环境不计嵌套。未闭合时返回 (len(s), false)。
func EnvEnd(s string, i int, name string) (int, bool) {
	begin, end := `\begin{`+name+`}`, `\end{`+name+`}`
	depth := 1
	j := i
	for {
		e := strings.Index(s[j:], end)
		if e < 0 {
			return len(s), false
		}
		if !Verbatim[name] {
			for {
				b := strings.Index(s[j:], begin)
				if b < 0 || b > e {
					break
				}
				depth++
				j += b + len(begin)
				e -= b + len(begin)
			}
		}
		depth--
		j += e + len(end)
		if depth == 0 {
			return j, true
		}
	}
}

// MathEnd 自 i 起寻找数学定界符 delim 的闭合（跳过转义），返回其后位置。
func MathEnd(s string, i int, delim string) (int, bool) {
	for j := i; j < len(s); j++ {
		if s[j] == '\\' {
			if strings.HasPrefix(s[j:], delim) {
				return j + len(delim), true
			}
			j++
			continue
		}
		if strings.HasPrefix(s[j:], delim) {
			return j + len(delim), true
		}
	}
	return len(s), false
}

// HasProse 报告文本是否含正文字母：控制词、环境名、占位符与行内数学不计。
func HasProse(s string) bool {
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case strings.HasPrefix(s[i:], "⟦"):
			k := strings.Index(s[i:], "⟧")
			if k < 0 {
				return true
			}
			i += k + len("⟧")
		case c == '\\':
			name, end := ControlWord(s, i)
			if name == "begin" || name == "end" {
				_, end = EnvName(s, end)
			}
			switch name {
			case "(":
				end, _ = MathEnd(s, end, `\)`)
			case "[":
				end, _ = MathEnd(s, end, `\]`)
			}
			i = end
		case strings.HasPrefix(s[i:], "$$"):
			i, _ = MathEnd(s, i+2, "$$")
		case c == '$':
			i, _ = MathEnd(s, i+1, "$")
		case c == '%':
			i = CommentEnd(s, i)
		case c < utf8.RuneSelf:
			if IsLetter(c) {
				return true
			}
			i++
		default:
			r, n := utf8.DecodeRuneInString(s[i:])
			if unicode.IsLetter(r) {
				return true
			}
			i += n
		}
	}
	return false
}
