package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizguard/internal/types"
)

func TestExtractStructured(t *testing.T) {
	e := New()

	t.Run("fenced json after prose", func(t *testing.T) {
		raw := "Sure! Here are the charts.\n```json\n{\"proposals\": []}\n```\n"
		c, verr := e.ExtractStructured(raw, 1)
		require.Nil(t, verr)
		assert.Equal(t, types.CandidateStructured, c.Kind)
		assert.Equal(t, []any{}, c.Object["proposals"])
		assert.Equal(t, strings.Index(raw, "{"), c.Offset)
		assert.Equal(t, 1, c.Attempt)
		assert.False(t, c.Repaired)
	})

	t.Run("prefers the last complete candidate", func(t *testing.T) {
		c, verr := e.ExtractStructured(`Draft: {"v": 1}`+"\n"+`Final: {"v": 2}`, 2)
		require.Nil(t, verr)
		assert.Equal(t, 2.0, c.Object["v"])
		assert.Equal(t, 2, c.Attempt)
	})

	t.Run("skips a trailing block that does not parse", func(t *testing.T) {
		c, verr := e.ExtractStructured(`{"v": 1} and then {not json}`, 1)
		require.Nil(t, verr)
		assert.Equal(t, 1.0, c.Object["v"])
	})

	t.Run("bare array is wrapped as proposals", func(t *testing.T) {
		c, verr := e.ExtractStructured(`[{"chart_type": "bar"}, {"chart_type": "line"}]`, 1)
		require.Nil(t, verr)
		list, ok := c.Object["proposals"].([]any)
		require.True(t, ok)
		assert.Len(t, list, 2)
	})

	t.Run("repairs trailing commas", func(t *testing.T) {
		c, verr := e.ExtractStructured(`result: {"x": "region", "y": "sales",}`, 1)
		require.Nil(t, verr)
		assert.True(t, c.Repaired)
		assert.Equal(t, "sales", c.Object["y"])
	})

	t.Run("repairs single quotes", func(t *testing.T) {
		c, verr := e.ExtractStructured(`{'chart_type': 'bar', 'x': 'region'}`, 1)
		require.Nil(t, verr)
		assert.True(t, c.Repaired)
		assert.Equal(t, "region", c.Object["x"])
	})

	t.Run("repairs truncated output", func(t *testing.T) {
		raw := `Here you go: {"proposals": [{"x": "region", "y": "sal`
		c, verr := e.ExtractStructured(raw, 1)
		require.Nil(t, verr)
		assert.True(t, c.Repaired)
		assert.Equal(t, strings.Index(raw, "{"), c.Offset)
		list := c.Object["proposals"].([]any)
		require.Len(t, list, 1)
		assert.Equal(t, "sal", list[0].(map[string]any)["y"])
	})

	t.Run("repairs a fenced payload missing its closing brace", func(t *testing.T) {
		raw := "```json\n{\"proposals\": [{\"chart_type\": \"bar\", \"x\": \"region\", \"y\": \"sales\", \"aggregation\": \"sum\"}]\n```\nLet me know!"
		c, verr := e.ExtractStructured(raw, 1)
		require.Nil(t, verr, "%v", verr)
		assert.True(t, c.Repaired)
		list := c.Object["proposals"].([]any)
		require.Len(t, list, 1)
		assert.Equal(t, "sum", list[0].(map[string]any)["aggregation"])
	})

	t.Run("unterminated string inside a fence keeps the field", func(t *testing.T) {
		raw := "```json\n{\"chart_type\": \"bar\", \"x\": \"region\", \"y\": \"sales\", \"reasoning\": \"because\n```"
		c, verr := e.ExtractStructured(raw, 1)
		require.Nil(t, verr, "%v", verr)
		assert.True(t, c.Repaired)
		assert.Equal(t, "because", c.Object["reasoning"])
		assert.Equal(t, "sales", c.Object["y"])
	})

	t.Run("unfenced truncated payload stops at a stray fence", func(t *testing.T) {
		raw := "{\"chart_type\": \"bar\", \"x\": \"region\", \"y\": \"sales\"\n```"
		c, verr := e.ExtractStructured(raw, 1)
		require.Nil(t, verr, "%v", verr)
		assert.True(t, c.Repaired)
		assert.Equal(t, "region", c.Object["x"])
	})

	t.Run("truncated mid key falls back to last complete element", func(t *testing.T) {
		c, verr := e.ExtractStructured(`{"proposals": [{"x": "a"}, {"x`, 1)
		require.Nil(t, verr)
		assert.Len(t, c.Object["proposals"], 1)
	})

	t.Run("no payload is unparseable", func(t *testing.T) {
		for _, raw := range []string{"", "I cannot help with that.", "[1, 2, 3]"} {
			c, verr := e.ExtractStructured(raw, 1)
			assert.Nil(t, c, raw)
			require.NotNil(t, verr, raw)
			assert.Equal(t, types.KindUnparseable, verr.Kind)
		}
	})

	t.Run("unrepairable payload is unparseable", func(t *testing.T) {
		c, verr := e.ExtractStructured(`{"a" "b" "c"}`, 1)
		assert.Nil(t, c)
		require.NotNil(t, verr)
		assert.Equal(t, types.KindUnparseable, verr.Kind)
		assert.Contains(t, verr.Detail, "could not be repaired")
	})
}

func TestExtractCode(t *testing.T) {
	e := New()

	t.Run("go fence", func(t *testing.T) {
		raw := "Here:\n```go\npackage main\n\nfunc Render() {}\n```\nDone"
		c, verr := e.ExtractCode(raw, 1)
		require.Nil(t, verr)
		assert.Equal(t, types.CandidateCode, c.Kind)
		assert.Equal(t, "package main\n\nfunc Render() {}\n", c.Source)
		assert.Equal(t, strings.Index(raw, "package"), c.Offset)
	})

	t.Run("last go fence wins", func(t *testing.T) {
		raw := "```go\npackage main\n// v1\n```\nbetter:\n```go\npackage main\n// v2\n```"
		c, verr := e.ExtractCode(raw, 1)
		require.Nil(t, verr)
		assert.Contains(t, c.Source, "// v2")
	})

	t.Run("go fence preferred over untagged", func(t *testing.T) {
		raw := "```go\npackage main\n// tagged\n```\n```\nplain text\n```"
		c, verr := e.ExtractCode(raw, 1)
		require.Nil(t, verr)
		assert.Contains(t, c.Source, "// tagged")
	})

	t.Run("missing package clause is repaired", func(t *testing.T) {
		c, verr := e.ExtractCode("```go\nfunc Render() {}\n```", 1)
		require.Nil(t, verr)
		assert.True(t, c.Repaired)
		assert.True(t, strings.HasPrefix(c.Source, "package main\n"))
	})

	t.Run("unfenced package clause", func(t *testing.T) {
		c, verr := e.ExtractCode("Sure. package main\n\nfunc Render() {}", 1)
		require.Nil(t, verr)
		assert.True(t, strings.HasPrefix(c.Source, "package main"))
	})

	t.Run("syntax error is unparseable", func(t *testing.T) {
		c, verr := e.ExtractCode("```go\npackage main\nfunc {\n```", 1)
		assert.Nil(t, c)
		require.NotNil(t, verr)
		assert.Equal(t, types.KindUnparseable, verr.Kind)
		assert.Contains(t, verr.Detail, "does not parse")
	})

	t.Run("no code", func(t *testing.T) {
		c, verr := e.ExtractCode("just prose", 1)
		assert.Nil(t, c)
		require.NotNil(t, verr)
		assert.Contains(t, verr.Detail, "no Go code block")
	})
}

func TestExtractDispatch(t *testing.T) {
	e := New()

	c, verr := e.Extract(`{"a": 1}`, types.CandidateStructured, 3)
	require.Nil(t, verr)
	assert.Equal(t, types.CandidateStructured, c.Kind)

	c, verr = e.Extract("```go\npackage main\n```", types.CandidateCode, 3)
	require.Nil(t, verr)
	assert.Equal(t, types.CandidateCode, c.Kind)
}
