package tools

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

// mutatingKeywords may not appear anywhere outside string literals.
var mutatingKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true, "alter": true,
	"truncate": true, "create": true, "grant": true, "revoke": true, "merge": true,
	"copy": true, "attach": true, "detach": true, "pragma": true, "vacuum": true,
	"reindex": true, "call": true, "into": true,
}

// dangerousFunctions have side effects or stall the connection.
var dangerousFunctions = map[string]bool{
	"pg_sleep": true, "pg_terminate_backend": true, "lo_import": true,
	"lo_export": true, "dblink": true, "set_config": true,
}

var wordPattern = regexp.MustCompile(`[a-z_][a-z0-9_$]*`)

// Verdict is the outcome of checking a statement.
type Verdict struct {
	Valid bool `json:"valid"`
	// Query is the statement to execute, with its LIMIT clamped or appended.
	Query      string   `json:"query"`
	Issues     []string `json:"issues,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Explainer validates a statement against the live schema without running it.
type Explainer interface {
	Explain(ctx context.Context, stmt string) error
}

// Checker validates statements before execution.
type Checker struct {
	explainer Explainer
	maxRows   int
}

// NewChecker creates a checker enforcing a row cap of maxRows.
// explainer may be nil, in which case only static checks run.
func NewChecker(explainer Explainer, maxRows int) *Checker {
	if maxRows <= 0 {
		maxRows = 50
	}
	return &Checker{explainer: explainer, maxRows: maxRows}
}

// MaxRows returns the enforced row cap.
func (c *Checker) MaxRows() int {
	return c.maxRows
}

// Check runs the static checks and then asks the planner to validate the
// corrected statement. The error is non-nil only for infrastructure failures.
func (c *Checker) Check(ctx context.Context, query string) (*Verdict, error) {
	v := c.CheckStatic(query)
	if !v.Valid || c.explainer == nil {
		return v, nil
	}
	if err := c.explainer.Explain(ctx, v.Query); err != nil {
		if store.IsInfrastructureError(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return &Verdict{
			Valid:      false,
			Query:      v.Query,
			Issues:     []string{err.Error()},
			Suggestion: "Fix the statement using the exact table and column names returned by sql_db_schema.",
		}, nil
	}
	return v, nil
}

// CheckStatic applies the lexical rules only.
func (c *Checker) CheckStatic(query string) *Verdict {
	trimmed := strings.TrimSpace(query)
	lx := lex(trimmed)
	issues := slices.Clone(lx.issues)

	if len(lx.tokens) == 0 {
		return invalid(trimmed, "empty query")
	}

	// A single trailing semicolon is tolerated and dropped.
	end := len(trimmed)
	tokens := lx.tokens
	for i, t := range tokens {
		if t.kind != tokPunct || t.text != ";" {
			continue
		}
		if slices.ContainsFunc(tokens[i+1:], func(t token) bool { return t.kind != tokPunct || t.text != ";" }) {
			issues = append(issues, "multiple statements are not allowed")
		} else {
			end = t.start
			tokens = tokens[:i]
		}
		break
	}

	first := 0
	for first < len(tokens) && tokens[first].kind == tokPunct && tokens[first].text == "(" {
		first++
	}
	if first >= len(tokens) || tokens[first].kind != tokWord ||
		(tokens[first].text != "select" && tokens[first].text != "with") {
		issues = append(issues, "statement must start with SELECT or WITH")
	}

	seen := make(map[string]bool)
	flag := func(word string) {
		if seen[word] {
			return
		}
		if mutatingKeywords[word] {
			seen[word] = true
			issues = append(issues, fmt.Sprintf("data-modifying keyword %s is not allowed", strings.ToUpper(word)))
		} else if dangerousFunctions[word] {
			seen[word] = true
			issues = append(issues, fmt.Sprintf("function %s is not allowed", word))
		}
	}
	for _, t := range tokens {
		if t.kind == tokWord {
			flag(t.text)
		}
	}
	for _, w := range wordPattern.FindAllString(lx.squashed, -1) {
		flag(w)
	}

	if len(issues) > 0 {
		return invalid(trimmed, issues...)
	}

	corrected, issue := c.enforceLimit(trimmed[:end], tokens)
	if issue != "" {
		return invalid(trimmed, issue)
	}
	return &Verdict{Valid: true, Query: corrected}
}

// enforceLimit clamps the top-level LIMIT to the row cap, or appends one.
func (c *Checker) enforceLimit(stmt string, tokens []token) (string, string) {
	depth := 0
	limitAt := -1
	for i, t := range tokens {
		if t.kind != tokPunct && t.kind != tokWord {
			continue
		}
		switch t.text {
		case "(":
			depth++
		case ")":
			depth--
		case "limit":
			if depth == 0 {
				limitAt = i
			}
		}
	}

	capText := strconv.Itoa(c.maxRows)
	if limitAt < 0 {
		return strings.TrimRight(stmt, " \t\r\n") + "\nLIMIT " + capText, ""
	}

	if limitAt+1 >= len(tokens) {
		return "", "LIMIT requires a row count"
	}
	count := tokens[limitAt+1]
	// SQLite accepts LIMIT offset, count.
	if limitAt+3 < len(tokens) && tokens[limitAt+2].text == "," && tokens[limitAt+3].kind == tokNumber {
		count = tokens[limitAt+3]
	}

	switch {
	case count.kind == tokWord && count.text == "all":
	case count.kind == tokNumber:
		n, err := strconv.Atoi(count.text)
		if err != nil {
			return "", fmt.Sprintf("LIMIT must be an integer no greater than %d", c.maxRows)
		}
		if n <= c.maxRows {
			return stmt, ""
		}
	default:
		return "", fmt.Sprintf("LIMIT must be an integer no greater than %d", c.maxRows)
	}
	return stmt[:count.start] + capText + stmt[count.end:], ""
}

func invalid(query string, issues ...string) *Verdict {
	return &Verdict{
		Valid:      false,
		Query:      query,
		Issues:     issues,
		Suggestion: "Rewrite it as a single read-only SELECT (or WITH ... SELECT) statement and check it again.",
	}
}
