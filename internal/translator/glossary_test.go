package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGlossaryText(t *testing.T) {
	assert.Equal(t, "large language model", normalizeGlossaryText("Large-Language   Model"))
	assert.Equal(t, "abc", normalizeGlossaryText("  ABC  "))
	assert.Equal(t, "", normalizeGlossaryText("   "))
}

func TestTokenizeGlossaryText(t *testing.T) {
	assert.Equal(t, []string{"self", "attention"}, tokenizeGlossaryText("Self-Attention"))
	assert.Equal(t, []string{"gpt", "4"}, tokenizeGlossaryText("GPT-4"))
	assert.Nil(t, tokenizeGlossaryText(""))
}

func TestFilterGlossaryForChunk(t *testing.T) {
	glossary := []GlossaryEntry{
		{TermEN: "attention mechanism", TermZH: "注意力机制", NoteZH: "n1"},
		{TermEN: "token", TermZH: "词元", NoteZH: "n2"},
		{TermEN: "embedding", TermZH: "嵌入", NoteZH: "n3"},
		{TermEN: "residual stream pathway", TermZH: "残差流通路", NoteZH: "n4"},
	}

	t.Run("Exact Phrase Wins", func(t *testing.T) {
		chunkText := "The attention mechanism maps a token to weights."
		filtered := filterGlossaryForChunk(glossary, chunkText, 30, 2000)
		require.NotEmpty(t, filtered)
		// 多词整短语命中优先于单词命中
		assert.Equal(t, "attention mechanism", filtered[0].TermEN)
	})

	t.Run("Word Boundary For Single Token", func(t *testing.T) {
		filtered := filterGlossaryForChunk(glossary, "each token counts", 30, 2000)
		require.Len(t, filtered, 1)
		assert.Equal(t, "token", filtered[0].TermEN)
	})

	t.Run("Substring Does Not Match Single Token", func(t *testing.T) {
		// tokens 含 token 作子串但不成词边界；tokens 本身不在术语表里
		filtered := filterGlossaryForChunk(glossary[2:3], "embeddings everywhere", 30, 2000)
		assert.Empty(t, filtered)
	})

	t.Run("Token Overlap For Multi-Word Terms", func(t *testing.T) {
		// 四词中两词命中，重叠率 >= 0.5
		chunkText := "the residual pathway grows"
		filtered := filterGlossaryForChunk(glossary, chunkText, 30, 2000)
		require.Len(t, filtered, 1)
		assert.Equal(t, "residual stream pathway", filtered[0].TermEN)
	})

	t.Run("No Match No Entries", func(t *testing.T) {
		filtered := filterGlossaryForChunk(glossary, "completely unrelated prose", 30, 2000)
		assert.Empty(t, filtered)
	})

	t.Run("Term Budget Caps Count", func(t *testing.T) {
		chunkText := "attention mechanism token embedding"
		filtered := filterGlossaryForChunk(glossary, chunkText, 1, 2000)
		assert.Len(t, filtered, 1)
	})

	t.Run("Char Budget Skips Oversized Entries", func(t *testing.T) {
		big := []GlossaryEntry{
			{TermEN: "token", TermZH: "词元", NoteZH: strings.Repeat("x", 5000)},
			{TermEN: "token ring", TermZH: "令牌环", NoteZH: "short"},
		}
		filtered := filterGlossaryForChunk(big, "token ring networks use a token", 30, 100)
		require.Len(t, filtered, 1)
		assert.Equal(t, "token ring", filtered[0].TermEN)
	})

	t.Run("Zero Budgets Return Nothing", func(t *testing.T) {
		assert.Empty(t, filterGlossaryForChunk(glossary, "token", 0, 2000))
		assert.Empty(t, filterGlossaryForChunk(glossary, "token", 30, 0))
	})

	t.Run("Case And Hyphen Insensitive", func(t *testing.T) {
		entries := []GlossaryEntry{{TermEN: "Self-Attention", TermZH: "自注意力", NoteZH: ""}}
		filtered := filterGlossaryForChunk(entries, "SELF ATTENTION layers", 30, 2000)
		assert.Len(t, filtered, 1)
	})
}

func TestCollectGlossaryWarnings(t *testing.T) {
	glossary := []GlossaryEntry{
		{TermEN: "token", TermZH: "词元"},
		{TermEN: "embedding", TermZH: "嵌入"},
	}

	t.Run("Missing Target Form Warns", func(t *testing.T) {
		warnings := collectGlossaryWarnings("the token stays English", glossary)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "token")
		assert.Contains(t, warnings[0], "词元")
	})

	t.Run("Both Forms Present No Warning", func(t *testing.T) {
		warnings := collectGlossaryWarnings("词元（token）出现了", glossary)
		assert.Empty(t, warnings)
	})

	t.Run("Term Absent No Warning", func(t *testing.T) {
		warnings := collectGlossaryWarnings("nothing relevant here", glossary)
		assert.Empty(t, warnings)
	})
}
