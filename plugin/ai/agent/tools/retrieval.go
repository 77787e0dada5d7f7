package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/plugin/ai/timeout"
	"github.com/hrygo/brandpulse/plugin/ai/vector"
)

// RetrievalToolName is the wire name of the proper-noun lookup tool.
const RetrievalToolName = "search_proper_nouns"

const defaultLookupK = 3

// RetrievalInput is an approximate spelling to resolve.
type RetrievalInput struct {
	Query string `json:"query" required:"true" description:"Approximate spelling of the proper noun"`
	K     int    `json:"k,omitempty" description:"Number of candidates to return, default 3"`
}

// RetrievalTool resolves misspelled proper nouns to canonical values.
// RetrievalTool 将拼写不准确的专有名词解析为规范值。
type RetrievalTool struct {
	index vector.Index
}

func NewRetrievalTool(index vector.Index) *RetrievalTool {
	if index == nil {
		index = vector.EmptyIndex{}
	}
	return &RetrievalTool{index: index}
}

func (t *RetrievalTool) Name() string { return RetrievalToolName }

func (t *RetrievalTool) Description() string {
	return "Use to look up values to filter on. Input is an approximate spelling of the proper noun, " +
		"output is a JSON array of valid proper nouns. Use the noun most similar to the search."
}

func (t *RetrievalTool) Parameters() string { return mustParameters(RetrievalInput{}) }

func (t *RetrievalTool) Run(ctx context.Context, input string) (string, error) {
	in, err := ParseRetrievalInput(input)
	if err != nil {
		return "", err
	}
	return FormatCandidates(t.Lookup(ctx, in.Query, in.K)), nil
}

// ParseRetrievalInput decodes and normalizes tool arguments.
func ParseRetrievalInput(input string) (*RetrievalInput, error) {
	var in RetrievalInput
	if err := decodeInput(input, &in, &in.Query); err != nil {
		return nil, err
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return nil, errors.Wrap(ErrInvalidInput, "query cannot be empty")
	}
	if in.K <= 0 {
		in.K = defaultLookupK
	}
	return &in, nil
}

// Lookup returns up to k canonical strings nearest to term. Index failures
// are logged and reported as no match.
func (t *RetrievalTool) Lookup(ctx context.Context, term string, k int) []string {
	ctx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()

	matches, err := t.index.Search(ctx, term, k)
	if err != nil {
		slog.Warn("proper noun lookup failed", "term", term, "error", err)
		return []string{}
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Text)
	}
	return out
}

// FormatCandidates renders lookup results for the model.
func FormatCandidates(candidates []string) string {
	raw, _ := json.Marshal(candidates)
	return string(raw)
}
