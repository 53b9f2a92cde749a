package llm

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{errors.Wrap(context.DeadlineExceeded, "generate"), KindTimeout},
		{errors.New("Error 429, Message: Resource has been exhausted"), KindRateLimited},
		{errors.New("RESOURCE_EXHAUSTED"), KindRateLimited},
		{errors.New("dial tcp: connection refused"), KindTransportFailure},
		{errors.New("i/o timeout"), KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, AsModelError(tt.err).Kind)
		})
	}
}

func TestAsModelError_KeepsExisting(t *testing.T) {
	orig := &ModelError{Kind: KindRateLimited, Err: errors.New("quota")}
	got := AsModelError(errors.Wrap(orig, "attempt 2"))
	assert.Same(t, orig, got)
	assert.Nil(t, AsModelError(nil))
	assert.Equal(t, "model rate_limited: quota", orig.Error())
}

func TestReplay_ServesInOrder(t *testing.T) {
	r := NewReplay(
		Response{Text: "first"},
		Response{Err: &ModelError{Kind: KindTimeout}},
		Response{Text: "third"},
	)
	ctx := context.Background()

	out, err := r.Generate(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	_, err = r.Generate(ctx, "p2")
	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, KindTimeout, me.Kind)

	out, err = r.Generate(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, "third", out)

	_, err = r.Generate(ctx, "p4")
	require.True(t, errors.As(err, &me))
	assert.Equal(t, KindTransportFailure, me.Kind)

	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, r.Prompts())
}

func TestReplay_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := ReplayTexts("x")
	_, err := r.Generate(ctx, "p")
	require.Error(t, err)
	assert.Empty(t, r.Prompts())
}

func TestParseReplay(t *testing.T) {
	src := strings.Join([]string{
		"Here is the spec:",
		"```json",
		`{"proposals": []}`,
		"```",
		"---",
		"!error rate_limited",
		"---",
		"last one",
	}, "\n")
	r, err := ParseReplay(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, r.responses, 3)
	assert.Equal(t, "Here is the spec:\n```json\n{\"proposals\": []}\n```", r.responses[0].Text)
	assert.Equal(t, KindRateLimited, AsModelError(r.responses[1].Err).Kind)
	assert.Equal(t, "last one", r.responses[2].Text)

	_, err = ParseReplay(strings.NewReader(""))
	assert.Error(t, err)
}

type countingGenerator struct{ calls int }

func (c *countingGenerator) Generate(context.Context, string) (string, error) {
	c.calls++
	return fmt.Sprintf("call %d", c.calls), nil
}

func TestLimited(t *testing.T) {
	next := &countingGenerator{}
	assert.Same(t, Generator(next), NewLimited(next, 0))

	// One request per minute: the first call uses the burst, the second
	// cannot get a token before the deadline.
	g := NewLimited(next, 1)
	out, err := g.Generate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "call 1", out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, "b")
	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, KindRateLimited, me.Kind)
	assert.Equal(t, 1, next.calls)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiConfig{})
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "GEMINI_API_KEY")
}
