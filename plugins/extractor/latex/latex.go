package latex

import (
	"strings"

	"texgc/internal/texscan"
)

// Options 为 LaTeX 片段提取器的可选配置。
type Options struct {
	// ProtectedEnvs: 整体视为原子的环境名（内部不切分）。nil 采用默认集合；显式空切片表示不保护任何环境。
	ProtectedEnvs []string `json:"protected_envs"`
	// Abbreviations: 句点不构成句末的缩写，如 "e.g."、"et al."。nil 采用默认集合。
	// 首字母大写的条目（"No."、"Dr."）按原样匹配；小写条目不区分大小写。
	Abbreviations []string `json:"abbreviations"`
	// MaxChunkBytes: 软上限；超过后在下一个安全空白处切分。0 表示不限制。
	MaxChunkBytes int `json:"max_chunk_bytes"`
}

// DefaultProtectedEnvs: 默认受保护环境（不含星号形式，构造时自动补齐）。
var DefaultProtectedEnvs = []string{
	"equation", "align", "gather", "multline", "eqnarray", "flalign", "math", "displaymath",
	"figure", "wrapfigure", "table", "tabular", "longtable",
	"verbatim", "Verbatim", "lstlisting", "minted", "comment",
	"tikzpicture", "algorithm", "algorithmic",
}

// DefaultAbbreviations: 默认缩写表。
var DefaultAbbreviations = []string{
	"e.g.", "i.e.", "et al.", "etc.", "cf.", "vs.", "viz.", "resp.", "approx.",
	"Fig.", "Figs.", "Eq.", "Eqs.", "Sec.", "Ref.", "Refs.", "Tab.", "Thm.", "Def.", "Ch.", "No.",
	"Dr.", "Mr.", "Mrs.", "Ms.", "Prof.",
}

// Extractor 实现 contract.Extractor。
type Extractor struct {
	protected map[string]bool
	abbrev    map[string]bool // 小写条目，比较前转小写
	titled    map[string]bool // 大写开头条目，精确比较
	limit     int
}

// New 创建提取器。
func New(opts *Options) *Extractor {
	envs := DefaultProtectedEnvs
	abbr := DefaultAbbreviations
	limit := 0
	if opts != nil {
		if opts.ProtectedEnvs != nil {
			envs = opts.ProtectedEnvs
		}
		if opts.Abbreviations != nil {
			abbr = opts.Abbreviations
		}
		if opts.MaxChunkBytes > 0 {
			limit = opts.MaxChunkBytes
		}
	}
	e := &Extractor{protected: make(map[string]bool, len(envs)*2), abbrev: map[string]bool{}, titled: map[string]bool{}, limit: limit}
	for _, name := range envs {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		e.protected[name] = true
		e.protected[strings.TrimSuffix(name, "*")+"*"] = true
	}
	for _, a := range abbr {
		f := strings.Fields(a)
		if len(f) == 0 {
			continue
		}
		// 多词缩写以末词判定（"et al." → "al."）
		last := f[len(f)-1]
		if last[0] >= 'A' && last[0] <= 'Z' {
			e.titled[last] = true
		} else {
			e.abbrev[strings.ToLower(last)] = true
		}
	}
	return e
}

type mathMode int

const (
	mathNone mathMode = iota
	mathInline
	mathDisplay
	mathParen
	mathBracket
)

// Next 返回下一个片段的字节长度。
// 合法切点仅出现在花括号深度 0、无数学模式、受保护环境栈为空处；切点后紧随的空白并入当前片段。
func (e *Extractor) Next(rem string) int {
	n := len(rem)
	if n == 0 {
		return 0
	}
	var (
		depth   int
		mode    mathMode
		envs    []string
		content bool // 当前片段已含非空白
	)
	safe := func() bool { return depth == 0 && mode == mathNone && len(envs) == 0 }

	for i := 0; i < n; {
		// 逐字环境内仅寻找对应的 \end{...}
		if len(envs) > 0 && texscan.Verbatim[envs[len(envs)-1]] {
			top := envs[len(envs)-1]
			end := `\end{` + top + `}`
			k := strings.Index(rem[i:], end)
			if k < 0 {
				return n
			}
			envs = envs[:len(envs)-1]
			i += k + len(end)
			continue
		}
		c := rem[i]
		switch {
		case c == '%':
			i = texscan.CommentEnd(rem, i)
			content = true
		case c == '\\':
			name, end := texscan.ControlWord(rem, i)
			switch {
			case name == "(" || name == "[":
				if mode == mathNone {
					if name == "(" {
						mode = mathParen
					} else {
						mode = mathBracket
					}
				}
				i, content = end, true
			case name == ")" || name == "]":
				if (name == ")" && mode == mathParen) || (name == "]" && mode == mathBracket) {
					mode = mathNone
				}
				i, content = end, true
			case name == "begin" || name == "end":
				env, after := texscan.EnvName(rem, end)
				if e.protected[env] {
					if name == "begin" {
						envs = append(envs, env)
					} else if len(envs) > 0 && envs[len(envs)-1] == env {
						envs = envs[:len(envs)-1]
					}
					i, content = after, true
					continue
				}
				if env != "" && safe() {
					if content {
						return i
					}
					return texscan.SkipSpace(rem, after)
				}
				i, content = after, true
			case texscan.Sectioning[name] && safe():
				if content {
					return i
				}
				argEnd, _, _ := texscan.CommandArgs(rem, end)
				return texscan.SkipSpace(rem, argEnd)
			case name == "item" && safe() && content:
				return i
			default:
				i, content = end, true
			}
		case c == '$':
			if i+1 < n && rem[i+1] == '$' {
				switch mode {
				case mathNone:
					mode = mathDisplay
				case mathDisplay:
					mode = mathNone
				}
				i += 2
			} else {
				switch mode {
				case mathNone:
					mode = mathInline
				case mathInline:
					mode = mathNone
				}
				i++
			}
			content = true
		case c == '{':
			depth++
			i++
			content = true
		case c == '}':
			if depth > 0 {
				depth--
			}
			i++
		case c == '.' || c == '!' || c == '?':
			i++
			content = true
			if !safe() {
				continue
			}
			j := i
			for j < n && strings.IndexByte(`)]'"`, rem[j]) >= 0 {
				j++
			}
			if j == n {
				return n
			}
			if texscan.IsSpace(rem[j]) && !(c == '.' && e.abbreviated(rem, i-1)) {
				return texscan.SkipSpace(rem, j)
			}
		case texscan.IsSpace(c):
			j := texscan.SkipSpace(rem, i)
			if safe() && content {
				if strings.Count(rem[i:j], "\n") >= 2 {
					return j
				}
				if e.limit > 0 && i >= e.limit {
					return j
				}
			}
			i = j
		default:
			i++
			content = true
		}
	}
	return n
}

// abbreviated 报告 rem[dot] 处的句点是否属于缩写或单字母首字母缩写。
func (e *Extractor) abbreviated(rem string, dot int) bool {
	start := dot
	for start > 0 {
		c := rem[start-1]
		if texscan.IsSpace(c) || strings.IndexByte("~({[", c) >= 0 {
			break
		}
		start--
	}
	word := rem[start : dot+1]
	if len(word) == 2 && word[0] >= 'A' && word[0] <= 'Z' {
		return true
	}
	return e.titled[word] || e.abbrev[strings.ToLower(word)]
}
