package agent

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/plugin/ai/agent/tools"
)

// grounding tracks the proper-noun lookups of one turn and vetoes queries that
// filter on a looked-up term instead of one of its canonical candidates.
// grounding 记录一次回合内的专有名词查找，并拦截使用原始拼写而非规范值的查询。
type grounding struct {
	// lookups maps a normalized raw term to the candidates returned for it.
	lookups map[string][]string
}

func newGrounding() *grounding {
	return &grounding{lookups: make(map[string][]string)}
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "%", "")))
}

// record stores the candidates returned for term. Later lookups of the same
// term replace earlier ones.
func (g *grounding) record(term string, candidates []string) {
	key := normalizeTerm(term)
	if key == "" {
		return
	}
	g.lookups[key] = candidates
}

// check is a tools.Guard. A string literal that matches a looked-up term with
// candidates must itself be one of the candidates. Plain literals must match a
// candidate exactly; LIKE patterns may differ in case.
func (g *grounding) check(query string) error {
	if len(g.lookups) == 0 {
		return nil
	}
	for _, lit := range tools.StringLiterals(query) {
		candidates := g.lookups[normalizeTerm(lit)]
		if len(candidates) == 0 {
			continue
		}
		if isCandidate(lit, candidates) {
			continue
		}
		return errors.Wrapf(tools.ErrUnresolvedNoun,
			"'%s' is not a known value; use one of the values returned by %s: %s",
			lit, tools.RetrievalToolName, tools.FormatCandidates(candidates))
	}
	return nil
}

func isCandidate(lit string, candidates []string) bool {
	pattern := strings.Contains(lit, "%")
	value := strings.TrimSpace(strings.ReplaceAll(lit, "%", ""))
	for _, c := range candidates {
		if pattern && strings.EqualFold(value, c) {
			return true
		}
		if !pattern && lit == c {
			return true
		}
	}
	return false
}
