package analyzer

import (
	"fmt"
	"strings"
)

// cteDef is one named WITH clause entry.
type cteDef struct {
	Name      string
	Body      string
	Recursive bool
}

// stripCTEs removes a leading WITH [RECURSIVE] clause from sqlText and
// returns the remaining statement plus the extracted CTE definitions.
// vitess-sqlparser's grammar (vintage ~2020) predates WITH support, so
// CTEs are recognized here by a hand-written brace-depth scan rather than
// by the parser itself: each "name AS ( body )" is located by matching
// parenthesis depth, and the final statement body (after the last CTE and
// any following comma) is handed to the real parser. References to CTE
// names inside the main body are resolved by the collector via
// registerCTEName rather than inlined, since the analyzer only needs the
// dependency edges, not a rewritten query.
func stripCTEs(sqlText string) (string, []cteDef, error) {
	trimmed := strings.TrimSpace(sqlText)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "WITH") {
		return sqlText, nil, nil
	}
	recursive := false
	rest := trimmed[len("WITH"):]
	restUpperTrim := strings.TrimSpace(strings.ToUpper(rest))
	if strings.HasPrefix(restUpperTrim, "RECURSIVE") {
		recursive = true
		idx := strings.Index(strings.ToUpper(rest), "RECURSIVE")
		rest = rest[idx+len("RECURSIVE"):]
	}

	var ctes []cteDef
	for {
		rest = strings.TrimSpace(rest)
		nameEnd := strings.IndexFunc(rest, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\n' || r == '('
		})
		if nameEnd < 1 {
			return "", nil, fmt.Errorf("analyzer: malformed WITH clause near %q", rest)
		}
		name := rest[:nameEnd]
		rest = strings.TrimSpace(rest[nameEnd:])
		asUpper := strings.ToUpper(rest)
		if !strings.HasPrefix(asUpper, "AS") {
			return "", nil, fmt.Errorf("analyzer: expected AS after CTE name %q", name)
		}
		rest = strings.TrimSpace(rest[2:])
		if !strings.HasPrefix(rest, "(") {
			return "", nil, fmt.Errorf("analyzer: expected '(' opening CTE body for %q", name)
		}
		body, remainder, err := extractParenGroup(rest)
		if err != nil {
			return "", nil, err
		}
		ctes = append(ctes, cteDef{Name: name, Body: body, Recursive: recursive})

		remainder = strings.TrimSpace(remainder)
		if strings.HasPrefix(remainder, ",") {
			rest = remainder[1:]
			continue
		}
		return remainder, ctes, nil
	}
}

// extractParenGroup expects s to start with '(' and returns the text
// strictly between the matching closing ')' plus whatever follows it.
func extractParenGroup(s string) (inner, remainder string, err error) {
	depth := 0
	inString := false
	var stringQuote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case inString:
			if ch == stringQuote {
				inString = false
			}
		case ch == '\'' || ch == '"':
			inString = true
			stringQuote = ch
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], nil
			}
		}
	}
	return "", "", fmt.Errorf("analyzer: unbalanced parentheses in CTE body")
}
