package tools

import (
	"regexp"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokString
	tokQuotedIdent
	tokParam
	tokPunct
)

// token is one lexical unit of a SQL statement. Words are lowercased and
// literals carry their unquoted content.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

type lexResult struct {
	tokens []token
	// squashed is the statement with comments removed without a separator and
	// literals blanked out. It exposes keywords split by inline comments.
	squashed string
	issues   []string
}

var dollarTag = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)?\$`)

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordChar(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9') || c == '$'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// lex tokenizes a statement in the common subset of the PostgreSQL and SQLite dialects.
func lex(q string) lexResult {
	var res lexResult
	var squashed strings.Builder
	n := len(q)

	// quoted reads a literal closed by quote, where a doubled quote escapes it.
	quoted := func(i int, quote byte) (string, int, bool) {
		var sb strings.Builder
		for j := i + 1; j < n; j++ {
			if q[j] != quote {
				sb.WriteByte(q[j])
				continue
			}
			if j+1 < n && q[j+1] == quote {
				sb.WriteByte(quote)
				j++
				continue
			}
			return sb.String(), j + 1, true
		}
		return sb.String(), n, false
	}

	// escaped reads a PostgreSQL E'...' literal, where a backslash also escapes the next byte.
	escaped := func(i int) (string, int, bool) {
		var sb strings.Builder
		for j := i + 1; j < n; j++ {
			switch {
			case q[j] == '\\':
				if j+1 < n {
					sb.WriteByte(q[j+1])
					j++
				}
			case q[j] != '\'':
				sb.WriteByte(q[j])
			case j+1 < n && q[j+1] == '\'':
				sb.WriteByte('\'')
				j++
			default:
				return sb.String(), j + 1, true
			}
		}
		return sb.String(), n, false
	}

	for i := 0; i < n; {
		c := q[i]
		switch {
		case c == '-' && i+1 < n && q[i+1] == '-':
			if j := strings.IndexByte(q[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = n
			}

		case c == '/' && i+1 < n && q[i+1] == '*':
			j := strings.Index(q[i+2:], "*/")
			if j < 0 {
				res.issues = append(res.issues, "unterminated block comment")
				i = n
				break
			}
			i += 2 + j + 2

		case (c == 'e' || c == 'E') && i+1 < n && q[i+1] == '\'':
			text, end, ok := escaped(i + 1)
			if !ok {
				res.issues = append(res.issues, "unterminated string literal")
			}
			res.tokens = append(res.tokens, token{kind: tokString, text: text, start: i, end: end})
			squashed.WriteString(" '' ")
			i = end

		case c == '\'':
			text, end, ok := quoted(i, '\'')
			if !ok {
				res.issues = append(res.issues, "unterminated string literal")
			}
			res.tokens = append(res.tokens, token{kind: tokString, text: text, start: i, end: end})
			squashed.WriteString(" '' ")
			i = end

		case c == '"' || c == '`':
			text, end, ok := quoted(i, c)
			if !ok {
				res.issues = append(res.issues, "unterminated quoted identifier")
			}
			res.tokens = append(res.tokens, token{kind: tokQuotedIdent, text: text, start: i, end: end})
			squashed.WriteString(` "" `)
			i = end

		case c == '$':
			if m := dollarTag.FindString(q[i:]); m != "" {
				body := i + len(m)
				j := strings.Index(q[body:], m)
				end := n
				text := q[body:]
				if j < 0 {
					res.issues = append(res.issues, "unterminated dollar-quoted string")
				} else {
					text = q[body : body+j]
					end = body + j + len(m)
				}
				res.tokens = append(res.tokens, token{kind: tokString, text: text, start: i, end: end})
				squashed.WriteString(" '' ")
				i = end
				break
			}
			j := i + 1
			for j < n && isDigit(q[j]) {
				j++
			}
			res.tokens = append(res.tokens, token{kind: tokParam, text: q[i:j], start: i, end: j})
			squashed.WriteString(q[i:j])
			i = j

		case isWordStart(c):
			j := i + 1
			for j < n && isWordChar(q[j]) {
				j++
			}
			word := strings.ToLower(q[i:j])
			res.tokens = append(res.tokens, token{kind: tokWord, text: word, start: i, end: j})
			squashed.WriteString(word)
			i = j

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(q[i+1])):
			j := i + 1
			for j < n && (isDigit(q[j]) || q[j] == '.' || q[j] == 'e' || q[j] == 'E') {
				j++
			}
			res.tokens = append(res.tokens, token{kind: tokNumber, text: q[i:j], start: i, end: j})
			squashed.WriteString(q[i:j])
			i = j

		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			squashed.WriteByte(' ')
			i++

		default:
			res.tokens = append(res.tokens, token{kind: tokPunct, text: string(c), start: i, end: i + 1})
			squashed.WriteByte(c)
			i++
		}
	}
	res.squashed = squashed.String()
	return res
}

// StringLiterals returns the contents of every string literal in a statement.
func StringLiterals(query string) []string {
	var out []string
	for _, t := range lex(query).tokens {
		if t.kind == tokString {
			out = append(out, t.text)
		}
	}
	return out
}
