package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	jsonschema "github.com/swaggest/jsonschema-go"

	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/timeout"
)

// DomainVerdict is the outcome of domain classification.
// DomainVerdict 是领域分类的结果。
type DomainVerdict struct {
	InDomain   bool    `json:"in_domain"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"` // "rule", "llm" or "fallback"
}

// domainDecision is the strict output schema of the classifier call.
type domainDecision struct {
	_          struct{} `additionalProperties:"false"`
	InDomain   bool     `json:"in_domain" required:"true" description:"Whether the question is about the brand analytics data"`
	Confidence float64  `json:"confidence" required:"true" description:"Confidence score 0-1"`
}

// domainKeywords are strong signals that a question concerns the analytics data.
// English and Indonesian forms are both listed.
var domainKeywords = []string{
	"brand", "merek", "product", "produk", "category", "kategori", "subcategory",
	"sales", "penjualan", "revenue", "pendapatan", "omzet", "profit", "harga", "price",
	"campaign", "kampanye", "budget", "anggaran", "roi", "conversion", "konversi",
	"sentiment", "sentimen", "review", "ulasan", "rating",
	"social media", "media sosial", "engagement", "instagram", "tiktok", "twitter", "facebook", "youtube",
	"customer", "pelanggan", "demographic", "demografi",
	"quarter", "kuartal", "kuartil", "trend", "tren",
}

// DomainGuard decides whether a question belongs to the analytics domain.
// It uses a hybrid approach: fast keyword matching first, then the LLM for uncertain cases.
// DomainGuard 判断问题是否属于分析领域：先规则匹配，不确定时再调用 LLM。
type DomainGuard struct {
	llm    ai.LLMService
	schema *jsonschema.Schema
}

// NewDomainGuard creates a guard. A nil llm disables the LLM step.
func NewDomainGuard(llm ai.LLMService) *DomainGuard {
	schema, err := ai.ReflectSchema(domainDecision{})
	if err != nil {
		slog.Warn("domain guard schema unavailable, LLM classification disabled", "error", err)
		llm = nil
	}
	return &DomainGuard{llm: llm, schema: schema}
}

// Classify classifies question. previous is the preceding user question of the
// session, if any. Classification never fails: an unavailable classifier
// reports the question as in domain.
func (g *DomainGuard) Classify(ctx context.Context, question, previous string) *DomainVerdict {
	// Step 1: Try rule-based matching (fast path)
	if verdict := g.classifyByRules(question); verdict != nil {
		slog.Debug("domain classified by rules",
			"input", logPreview(question, 30),
			"in_domain", verdict.InDomain)
		return verdict
	}

	// Step 2: Use LLM for uncertain cases
	verdict, err := g.classifyByLLM(ctx, question, previous)
	if err != nil {
		slog.Warn("LLM domain classification failed, assuming in domain",
			"error", err,
			"input", logPreview(question, 30))
		return &DomainVerdict{
			InDomain:   true,
			Confidence: 0.5,
			Method:     "fallback",
		}
	}

	slog.Debug("domain classified by LLM",
		"input", logPreview(question, 30),
		"in_domain", verdict.InDomain,
		"confidence", verdict.Confidence)
	return verdict
}

// classifyByRules returns nil if no confident match is found.
func (g *DomainGuard) classifyByRules(question string) *DomainVerdict {
	lower := strings.ToLower(question)
	for _, kw := range domainKeywords {
		if containsWord(lower, kw) {
			return &DomainVerdict{
				InDomain:   true,
				Confidence: 0.85,
				Method:     "rule",
			}
		}
	}
	return nil
}

func (g *DomainGuard) classifyByLLM(ctx context.Context, question, previous string) (*DomainVerdict, error) {
	if g.llm == nil {
		return nil, errors.New("no classifier configured")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout.DomainGuardTimeout)
	defer cancel()

	messages := []ai.Message{
		ai.SystemPrompt(domainGuardSystemPrompt),
		ai.UserMessage(buildDomainGuardInput(question, previous)),
	}

	start := time.Now()
	content, err := g.llm.Chat(ctx, messages,
		ai.WithTemperature(0),
		ai.WithMaxTokens(30),
		ai.WithJSONSchema("domain_guard", g.schema),
	)
	if err != nil {
		return nil, errors.Wrap(err, "LLM request failed")
	}

	var raw domainDecision
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, errors.Wrap(err, "JSON unmarshal failed")
	}

	slog.Debug("domain guard LLM completed", "latency_ms", time.Since(start).Milliseconds())
	return &DomainVerdict{
		InDomain:   raw.InDomain,
		Confidence: raw.Confidence,
		Method:     "llm",
	}, nil
}

// containsWord reports whether kw occurs in s at the start of a word, so
// plural and suffixed forms still match.
func containsWord(s, kw string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		if start == 0 || !isWordByte(s[start-1]) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
