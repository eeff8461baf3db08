package preserve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spanText(text string, span ProtectedSpan) string {
	return text[span.Start:span.End]
}

func kindsOf(spans []ProtectedSpan) []SpanKind {
	kinds := make([]SpanKind, 0, len(spans))
	for _, span := range spans {
		kinds = append(kinds, span.Kind)
	}
	return kinds
}

func TestFindProtectedSpansOrderingAndDisjointness(t *testing.T) {
	text := "start `code` mid $x+y$ end [l](https://a.example) <b>bold</b>\n" +
		"```\nfenced\n```\n"
	spans := FindProtectedSpans(text)
	require.NotEmpty(t, spans)

	for i := 1; i < len(spans); i++ {
		assert.LessOrEqual(t, spans[i-1].End, spans[i].Start, "spans must be sorted and disjoint")
	}
}

func TestFencedCodeSpans(t *testing.T) {
	t.Run("Backtick Fence", func(t *testing.T) {
		text := "before\n```go\ncode\n```\nafter\n"
		spans := findFencedCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "```go\ncode\n```\n", spanText(text, spans[0]))
	})

	t.Run("Tilde Fence", func(t *testing.T) {
		text := "~~~~\nbody\n~~~~\n"
		spans := findFencedCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, text, spanText(text, spans[0]))
	})

	t.Run("Close Needs Same Char And Length", func(t *testing.T) {
		// ``` 不能关 ````，~~~ 不能关 ```
		text := "````\nbody\n```\nstill body\n````\n"
		spans := findFencedCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, text, spanText(text, spans[0]))
	})

	t.Run("Unterminated Extends To End", func(t *testing.T) {
		text := "```\nnever closed"
		spans := findFencedCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, text, spanText(text, spans[0]))
	})

	t.Run("Heading Inside Fence Is Covered", func(t *testing.T) {
		text := "```\n# not a heading\n```\n"
		spans := findFencedCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, text, spanText(text, spans[0]))
	})
}

func TestDisplayMathSpans(t *testing.T) {
	t.Run("Double Dollar", func(t *testing.T) {
		text := "x $$a+b$$ y"
		spans := findDisplayDollarMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "$$a+b$$", spanText(text, spans[0]))
	})

	t.Run("Unpaired Double Dollar Extends", func(t *testing.T) {
		text := "x $$a+b"
		spans := findDisplayDollarMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "$$a+b", spanText(text, spans[0]))
	})

	t.Run("Escaped Double Dollar Ignored", func(t *testing.T) {
		text := `x \$$a` // 第一个 $ 被转义，剩下单个 $ 不成对
		spans := findDisplayDollarMathSpans(text)
		assert.Empty(t, spans)
	})

	t.Run("Bracket Display Multi-Line", func(t *testing.T) {
		text := "a \\[x\n+y\\] b"
		spans := findBracketDisplayMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "\\[x\n+y\\]", spanText(text, spans[0]))
	})

	t.Run("Begin End Environment", func(t *testing.T) {
		text := "p \\begin{align}x &= y\\end{align} q"
		spans := findBeginEndMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "\\begin{align}x &= y\\end{align}", spanText(text, spans[0]))
	})

	t.Run("Begin Without Matching End Ignored", func(t *testing.T) {
		text := "p \\begin{align}x = y q"
		spans := findBeginEndMathSpans(text)
		assert.Empty(t, spans)
	})
}

func TestInlineMathSpans(t *testing.T) {
	t.Run("Bracket Inline Same Line", func(t *testing.T) {
		text := "a \\(x+y\\) b"
		spans := findInlineBracketMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "\\(x+y\\)", spanText(text, spans[0]))
	})

	t.Run("Bracket Inline Broken By Newline", func(t *testing.T) {
		text := "a \\(x\nb \\(y+z\\) c"
		spans := findInlineBracketMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "\\(y+z\\)", spanText(text, spans[0]))
	})

	t.Run("Single Dollar Math", func(t *testing.T) {
		text := "value $x^2$ here"
		spans := findInlineDollarMathSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "$x^2$", spanText(text, spans[0]))
	})

	t.Run("Currency Rejected", func(t *testing.T) {
		cases := []string{
			"It costs $5 and $10 total",
			"pay $ 5 now",   // 开栏后是空白
			"$5$6",          // 闭栏后跟数字
			"empty $   $ ok", // 内容去空白后为空
		}
		for _, text := range cases {
			assert.Empty(t, findInlineDollarMathSpans(text), "input: %s", text)
		}
	})

	t.Run("Escaped Dollar Ignored", func(t *testing.T) {
		text := `price \$x\$ here`
		spans := findInlineDollarMathSpans(text)
		assert.Empty(t, spans)
	})
}

func TestInlineCodeSpans(t *testing.T) {
	t.Run("Single Backtick", func(t *testing.T) {
		text := "use `go test` to run"
		spans := findInlineCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "`go test`", spanText(text, spans[0]))
	})

	t.Run("Double Backtick With Inner Tick", func(t *testing.T) {
		text := "a ``has ` inside`` b"
		spans := findInlineCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "``has ` inside``", spanText(text, spans[0]))
	})

	t.Run("Unclosed Backtick Extends To End", func(t *testing.T) {
		text := "broken `never closed"
		spans := findInlineCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "`never closed", spanText(text, spans[0]))
	})

	t.Run("Backs Off When Span Would Swallow Placeholder", func(t *testing.T) {
		// 回退逐候选生效：首个候选因吞占位符被放弃后，扫描从开启反引号
		// 之后继续，剩下的闭合反引号自己成为未闭合区间延伸到文末
		text := "x `a __CODE_BLOCK_001__ b` y"
		spans := findInlineCodeSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, ProtectedSpan{Start: 25, End: 28, Kind: KindInlineCode}, spans[0])
		assert.Equal(t, "` y", spanText(text, spans[0]))
	})
}

func TestURLSpans(t *testing.T) {
	t.Run("Inline Link", func(t *testing.T) {
		text := "see [docs](https://example.com/a) now"
		spans := findURLSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "https://example.com/a", spanText(text, spans[0]))
	})

	t.Run("Image Link", func(t *testing.T) {
		text := "![alt](https://example.com/img.png)"
		spans := findURLSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "https://example.com/img.png", spanText(text, spans[0]))
	})

	t.Run("Title Excluded From Destination", func(t *testing.T) {
		text := `[x](https://example.com "the title")`
		spans := findURLSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "https://example.com", spanText(text, spans[0]))
	})

	t.Run("Angle Bracket Destination", func(t *testing.T) {
		text := "[x](<https://example.com/has space>)"
		spans := findURLSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "https://example.com/has space", spanText(text, spans[0]))
	})

	t.Run("Balanced Parens In Destination", func(t *testing.T) {
		text := "[x](https://example.com/a_(b))"
		spans := findURLSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "https://example.com/a_(b)", spanText(text, spans[0]))
	})

	t.Run("Reference Definition", func(t *testing.T) {
		text := "[ref]: https://example.com/ref \"title\"\n"
		spans := findURLSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, "https://example.com/ref", spanText(text, spans[0]))
	})

	t.Run("Escaped Bracket Not A Link", func(t *testing.T) {
		text := `\[not](https://example.com)`
		spans := findInlineLinkURLSpans(text)
		assert.Empty(t, spans)
	})
}

func TestHTMLTagSpans(t *testing.T) {
	text := "a <!-- comment --> b <div class=\"x\">c</div> d <br/> e <!DOCTYPE html> f"
	spans := findHTMLTagSpans(text)
	texts := make([]string, 0, len(spans))
	for _, span := range spans {
		texts = append(texts, spanText(text, span))
	}
	assert.Equal(t, []string{
		"<!-- comment -->",
		`<div class="x">`,
		"</div>",
		"<br/>",
		"<!DOCTYPE html>",
	}, texts)
}

func TestOverlapPriority(t *testing.T) {
	t.Run("Code Fence Beats Math", func(t *testing.T) {
		text := "```\n$$not math$$\n```\n"
		spans := FindProtectedSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, []SpanKind{KindCodeBlock}, kindsOf(spans))
	})

	t.Run("Math Beats Inline Code", func(t *testing.T) {
		text := "$$a `b` c$$"
		spans := FindProtectedSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, KindMathBlock, spans[0].Kind)
	})

	t.Run("Inline Code Beats URL", func(t *testing.T) {
		text := "`[x](https://example.com)`"
		spans := FindProtectedSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, KindInlineCode, spans[0].Kind)
	})

	t.Run("Loser Dropped Whole Not Truncated", func(t *testing.T) {
		// 行内代码横跨数学区间边界时整体落选
		text := "$$a ` b$$ c `"
		spans := FindProtectedSpans(text)
		require.Len(t, spans, 1)
		assert.Equal(t, KindMathBlock, spans[0].Kind)
		assert.Equal(t, "$$a ` b$$", spanText(text, spans[0]))
	})
}
