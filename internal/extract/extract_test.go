package extract

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// stubClient returns a fixed completion and counts calls.
type stubClient struct {
	text  string
	calls int
}

func (s *stubClient) Generate(ctx context.Context, messages []llm.Message, model string, maxTokens int, temperature float64) (*llm.Result, error) {
	s.calls++
	return &llm.Result{Text: s.text}, nil
}

func TestCodeBlocks_SingleBlock(t *testing.T) {
	t.Parallel()

	text := "Here is the function:\n```go\nfunc main() {}\n```\nDone."
	require.Equal(t, "func main() {}", CodeBlocks(text))
}

func TestCodeBlocks_MultipleBlocksJoinedByBlankLine(t *testing.T) {
	t.Parallel()

	text := "```python\nprint(1)\n```\nand then\n```\nprint(2)\n```"
	require.Equal(t, "print(1)\n\nprint(2)", CodeBlocks(text))
}

func TestCodeBlocks_NoBlocksReturnsEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", CodeBlocks("no fences here"))
}

// Re-wrapping extracted content in a fence and extracting again must give
// the same content back.
func TestCodeBlocks_RoundTrip(t *testing.T) {
	t.Parallel()

	text := "intro\n```js\nconst x = 1;\nconst y = 2;\n```\noutro"
	inner := CodeBlocks(text)
	rewrapped := "```\n" + inner + "\n```"
	require.Equal(t, inner, CodeBlocks(rewrapped))
}

func TestFirstJSON_Object(t *testing.T) {
	t.Parallel()

	got := FirstJSON(`The result is {"a": 1, "b": [2, 3]} as requested.`)
	require.Equal(t, `{"a": 1, "b": [2, 3]}`, got)
	require.True(t, json.Valid([]byte(got)))
}

func TestFirstJSON_ObjectPreferredOverArray(t *testing.T) {
	t.Parallel()

	got := FirstJSON(`[1, 2] and also {"a": 1}`)
	require.Equal(t, `{"a": 1}`, got)
}

func TestFirstJSON_ArrayWhenNoObject(t *testing.T) {
	t.Parallel()

	got := FirstJSON(`values: [1, 2, 3] end`)
	require.Equal(t, `[1, 2, 3]`, got)
}

func TestFirstJSON_SkipsInvalidBalancedSpan(t *testing.T) {
	t.Parallel()

	// The first balanced {...} is not valid JSON; a later one is.
	got := FirstJSON(`{not json} but {"ok": true} follows`)
	require.Equal(t, `{"ok": true}`, got)
}

func TestFirstJSON_NoValidSpanReturnsEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", FirstJSON("nothing structured here"))
	require.Equal(t, "", FirstJSON("{broken"))
	require.Equal(t, "", FirstJSON("{not json at all}"))
}

func TestExtract_FullIsIdentity(t *testing.T) {
	t.Parallel()

	x := New(nil)
	got, err := x.Extract(context.Background(), "  raw output  ", api.ContextFull, "kimi-k2p5")
	require.NoError(t, err)
	require.Equal(t, "  raw output  ", got)
}

func TestExtract_SummaryShortInputSkipsRemoteCall(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: "a summary"}
	x := New(stub)

	input := "short output"
	got, err := x.Extract(context.Background(), input, api.ContextSummary, "kimi-k2p5")
	require.NoError(t, err)
	require.Equal(t, input, got)
	require.Zero(t, stub.calls, "input under the length threshold must not trigger a remote call")
}

func TestExtract_SummaryThresholdCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: "a summary"}
	x := New(stub)

	// 400 two-byte characters: 800 bytes but well under the 500-character
	// threshold.
	input := strings.Repeat("ä", 400)
	got, err := x.Extract(context.Background(), input, api.ContextSummary, "kimi-k2p5")
	require.NoError(t, err)
	require.Equal(t, input, got)
	require.Zero(t, stub.calls)
}

func TestExtract_SummaryLongInputCallsModelOnce(t *testing.T) {
	t.Parallel()

	stub := &stubClient{text: "  the summary  "}
	x := New(stub)

	input := strings.Repeat("long output. ", 100)
	got, err := x.Extract(context.Background(), input, api.ContextSummary, "kimi-k2p5")
	require.NoError(t, err)
	require.Equal(t, "the summary", got, "summary result must be trimmed")
	require.Equal(t, 1, stub.calls)
}
