// Package extract derives the context a completed step forwards to its
// successor: the full output, only its fenced code blocks, the first valid
// JSON span, or a model-generated summary.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/haikala/weft/pkg/api"
	"github.com/haikala/weft/pkg/llm"
)

// summaryMinLen is the output length in characters below which
// summarization is not worth a remote call; shorter outputs are forwarded
// unchanged.
const summaryMinLen = 500

// summaryMaxTokens bounds the summary completion.
const summaryMaxTokens = 256

var fencedBlockRe = regexp.MustCompile("(?s)```(?:\\w+)?\\n?(.*?)```")

// CodeBlocks returns the contents of all fenced code blocks in text,
// trimmed and joined by a blank line. It returns the empty string when no
// block is found.
func CodeBlocks(text string) string {
	matches := fencedBlockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return strings.Join(blocks, "\n\n")
}

// FirstJSON returns the first balanced {...} or [...] span in text that
// parses as valid JSON, objects tried before arrays. It returns the empty
// string when no valid span exists.
//
// Balance is tracked by bracket depth alone, so brackets inside JSON
// strings can defeat the scan; candidates are verified with the parser
// before being returned.
func FirstJSON(text string) string {
	for _, pair := range []struct{ open, close byte }{{'{', '}'}, {'[', ']'}} {
		for start := 0; start < len(text); start++ {
			if text[start] != pair.open {
				continue
			}
			depth := 0
			for i := start; i < len(text); i++ {
				switch text[i] {
				case pair.open:
					depth++
				case pair.close:
					depth--
					if depth == 0 {
						candidate := text[start : i+1]
						if json.Valid([]byte(candidate)) {
							return candidate
						}
						i = len(text) // abandon this start offset
					}
				}
			}
		}
	}
	return ""
}

// Extractor reduces step output to the context passed to the next step.
// Only summary mode touches the network.
type Extractor struct {
	client llm.Client
}

// New creates an Extractor. client may be nil if summary mode is never used.
func New(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract applies the given mode to text. model is only consulted in
// summary mode, for the summarization call.
//
// Callers own the empty-result policy: if the selected mode yields an
// empty string, the step executor falls back to the full trimmed output.
func (x *Extractor) Extract(ctx context.Context, text string, mode api.ContextMode, model string) (string, error) {
	switch mode {
	case api.ContextCodeOnly:
		return CodeBlocks(text), nil
	case api.ContextJSONOnly:
		return FirstJSON(text), nil
	case api.ContextSummary:
		return x.summarize(ctx, text, model)
	default:
		// full, and any unrecognized mode, forward the output unchanged.
		return text, nil
	}
}

func (x *Extractor) summarize(ctx context.Context, text, model string) (string, error) {
	if utf8.RuneCountInString(text) < summaryMinLen {
		return text, nil
	}
	if x.client == nil {
		return "", fmt.Errorf("summary extraction requires a model client")
	}

	messages := []llm.Message{{
		Role:    "user",
		Content: "Summarize the following in 2-4 sentences, preserving key facts and outputs:\n\n" + text,
	}}

	res, err := x.client.Generate(ctx, messages, model, summaryMaxTokens, 0.7)
	if err != nil {
		return "", fmt.Errorf("summarize context: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
