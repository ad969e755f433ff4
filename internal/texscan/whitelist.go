package texscan

import "strings"

// Sectioning: 分节命令；分段时自成片段。
var Sectioning = set("part", "chapter", "section", "subsection", "subsubsection", "paragraph", "subparagraph")

// Verbatim: 逐字环境；内部字符不具 LaTeX 语义。
var Verbatim = set("verbatim", "verbatim*", "Verbatim", "lstlisting", "minted", "comment")

// commandPlaceholders: 白名单命令（连同参数）→ 占位符名。
var commandPlaceholders = func() map[string]string {
	m := map[string]string{}
	put := func(name string, cmds ...string) {
		for _, c := range cmds {
			m[c] = name
		}
	}
	put("SECTION", "part", "chapter", "section", "subsection", "subsubsection", "paragraph", "subparagraph")
	put("REF", "label", "ref", "eqref", "autoref", "cref", "Cref", "pageref", "nameref")
	put("CITE", "cite", "citep", "citet", "citealp", "citeauthor", "citeyear", "nocite", "parencite", "textcite", "autocite")
	put("GRAPHIC", "includegraphics")
	put("URL", "url")
	put("CMD", "documentclass", "usepackage", "RequirePackage", "newcommand", "renewcommand", "providecommand",
		"newenvironment", "renewenvironment", "DeclareMathOperator", "newtheorem", "bibliographystyle",
		"bibliography", "addbibresource", "input", "include", "graphicspath", "hypersetup", "setlength", "setcounter")
	return m
}()

// envPlaceholders: 白名单环境（整体）→ 占位符名。
var envPlaceholders = func() map[string]string {
	m := map[string]string{}
	put := func(name string, envs ...string) {
		for _, e := range envs {
			m[e] = name
			if !strings.HasSuffix(e, "*") {
				m[e+"*"] = name
			}
		}
	}
	put("FIGURE", "figure", "wrapfigure", "subfigure", "tikzpicture")
	put("TABLE", "table", "tabular", "longtable")
	put("MATH", "equation", "align", "gather", "multline", "eqnarray", "flalign", "displaymath", "math")
	put("CODE", "verbatim", "Verbatim", "lstlisting", "minted")
	put("ALGORITHM", "algorithm", "algorithmic")
	return m
}()

// CommandPlaceholder 返回白名单命令的占位符名。
func CommandPlaceholder(cmd string) (string, bool) {
	n, ok := commandPlaceholders[cmd]
	return n, ok
}

// EnvPlaceholder 返回白名单环境的占位符名。
func EnvPlaceholder(env string) (string, bool) {
	n, ok := envPlaceholders[env]
	return n, ok
}

// Span: 白名单结构在文本中的位置。Name 为空表示注释（删除而非占位）。
type Span struct {
	Start, End int
	Name       string
	Closed     bool
}

// Spans 按出现顺序列出白名单结构。
// lenient=true 时未闭合结构吞并至文本末尾（Closed=false）；否则未闭合结构不计入。
func Spans(s string, lenient bool) []Span {
	var out []Span
	// open 处理未闭合：宽松模式吞并剩余并终止扫描。
	open := func(start int, name string) bool {
		if lenient {
			out = append(out, Span{Start: start, End: len(s), Name: name})
			return true
		}
		return false
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '%':
			e := CommentEnd(s, i)
			out = append(out, Span{Start: i, End: e, Closed: true})
			i = e
		case c == '\\':
			name, end := ControlWord(s, i)
			switch {
			case name == "[":
				e, ok := MathEnd(s, end, `\]`)
				if !ok {
					if open(i, "MATH") {
						return out
					}
					i = end
					continue
				}
				out = append(out, Span{Start: i, End: e, Name: "MATH", Closed: true})
				i = e
			case name == "(":
				e, ok := MathEnd(s, end, `\)`)
				if !ok {
					e = end
				}
				i = e
			case name == "begin":
				env, after := EnvName(s, end)
				ph, ok := EnvPlaceholder(env)
				if !ok {
					i = after
					continue
				}
				e, closed := EnvEnd(s, after, env)
				if !closed {
					if open(i, ph) {
						return out
					}
					i = after
					continue
				}
				out = append(out, Span{Start: i, End: e, Name: ph, Closed: true})
				i = e
			default:
				ph, ok := CommandPlaceholder(name)
				if !ok {
					i = end
					continue
				}
				e, closed, mand := CommandArgs(s, end)
				if !closed {
					if open(i, ph) {
						return out
					}
					i = end
					continue
				}
				if mand == 0 {
					i = end
					continue
				}
				out = append(out, Span{Start: i, End: e, Name: ph, Closed: true})
				i = e
			}
		case strings.HasPrefix(s[i:], "$$"):
			e, ok := MathEnd(s, i+2, "$$")
			if !ok {
				if open(i, "MATH") {
					return out
				}
				i += 2
				continue
			}
			out = append(out, Span{Start: i, End: e, Name: "MATH", Closed: true})
			i = e
		case c == '$':
			e, ok := MathEnd(s, i+1, "$")
			if !ok {
				e = i + 1
			}
			i = e
		default:
			i++
		}
	}
	return out
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
		m[it+"*"] = true
	}
	return m
}
