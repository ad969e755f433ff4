package ordered

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"texgc/pkg/contract"
	nlatex "texgc/plugins/normalizer/latex"
)

func TestVerify(t *testing.T) {
	v := New()
	cases := []struct {
		name      string
		raw, norm string
		ok        bool
		missing   string
	}{
		{"恒等", "The cat sat.", "The cat sat.", true, ""},
		{"占位替换", "As in \\cite{k}, see.", "As in ⟦CITE⟧, see.", true, ""},
		{"紧贴标点", "in \\cite{x}.", "in ⟦CITE⟧.", true, ""},
		{"注释删除", "a % note\nb", "a \nb", true, ""},
		{"丢失正文", "The cat sat quietly.", "The cat quietly.", false, "sat"},
		{"顺序颠倒", "alpha beta", "beta alpha", false, "beta"},
		{"未闭合结构不在白名单", "See \\cite{open and more", "See ⟦CITE⟧", false, "\\cite{open"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rep := v.Verify(tt.raw, tt.norm)
			assert.Equal(t, tt.ok, rep.OK)
			if !tt.ok {
				assert.Equal(t, tt.missing, rep.Missing)
				assert.GreaterOrEqual(t, rep.At, 0)
			} else {
				assert.Equal(t, -1, rep.At)
			}
		})
	}
}

// 严格规则派生的简化形态恒通过校验；宽松规则仅在未闭合结构处失败。
func TestVerifyAgainstNormalizer(t *testing.T) {
	n := nlatex.New(nil)
	v := New()
	docs := []string{
		"Intro \\section{A} text \\label{s} more.",
		"Math $$x$$ and $y$ and \\[z\\]. % c\nok",
		"Fig \\begin{figure}x\\end{figure} done \\cite{q}.",
		"Broken \\ref{open tail words",
	}
	for _, d := range docs {
		assert.True(t, v.Verify(d, n.Normalize(d, contract.RulesStrict)).OK, d)
	}
	assert.False(t, v.Verify(docs[3], n.Normalize(docs[3], contract.RulesDefault)).OK)
	assert.True(t, v.Verify(docs[0], n.Normalize(docs[0], contract.RulesDefault)).OK)
}
