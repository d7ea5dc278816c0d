package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"sql-assistant/internal/common/database"
	"sql-assistant/internal/models"
)

// NoStatementError carries the text in which no statement was found.
type NoStatementError struct {
	Raw    string
	Reason string
}

func (e *NoStatementError) Error() string {
	return fmt.Sprintf("%s in %q", e.Reason, clip(e.Raw, 200))
}

var (
	languageLabels = map[string]bool{
		"sql": true, "postgresql": true, "postgres": true, "psql": true, "mysql": true,
		"sqlite": true, "sqlite3": true, "tsql": true, "plsql": true, "pgsql": true,
	}

	leadingLabel = regexp.MustCompile(`(?i)^(sqlquery|sql\s+query|sql|query)\s*:\s*`)

	statementStart      = regexp.MustCompile(`(?i)^(SELECT|WITH|INSERT|UPDATE|DELETE)\b`)
	upperStatementStart = regexp.MustCompile(`^(SELECT|WITH|INSERT|UPDATE|DELETE)\b`)

	// Words that may open a line continuing a statement after a blank line.
	continuation = regexp.MustCompile(`(?i)^([(),]|(SELECT|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|OUTER|FULL|CROSS|NATURAL|ON|USING|AND|OR|NOT|GROUP|ORDER|HAVING|LIMIT|OFFSET|FETCH|UNION|INTERSECT|EXCEPT|WINDOW|SET|VALUES|RETURNING|WITH|AS|CASE|WHEN|THEN|ELSE|END)\b)`)

	// A line opening with a capitalized word and two lower case words, none
	// of them SQL, is the model explaining itself.
	proseStart = regexp.MustCompile(`^([A-Z][a-z]+)\s+([a-z]{2,})\s+([a-z]+)`)

	sqlWords = map[string]bool{
		"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true, "NOT": true,
		"AS": true, "ON": true, "IN": true, "IS": true, "NULL": true, "LIKE": true,
		"BETWEEN": true, "JOIN": true, "LEFT": true, "RIGHT": true, "INNER": true,
		"OUTER": true, "GROUP": true, "ORDER": true, "BY": true, "HAVING": true,
		"LIMIT": true, "OFFSET": true, "UNION": true, "ALL": true, "DISTINCT": true,
		"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true, "ASC": true,
		"DESC": true, "WITH": true, "SET": true, "VALUES": true, "INTO": true,
		"EXISTS": true, "USING": true, "OVER": true, "PARTITION": true,
	}

	// Lines that begin the model's commentary after the statement.
	trailingLabels = []string{"sqlresult:", "answer:", "explanation:", "question:", "note:"}

	plausible = map[models.StatementKind]*regexp.Regexp{
		models.KindWith:   regexp.MustCompile(`(?is)\bAS\s*\(`),
		models.KindInsert: regexp.MustCompile(`(?i)\bINTO\b`),
		models.KindUpdate: regexp.MustCompile(`(?i)\bSET\b`),
		models.KindDelete: regexp.MustCompile(`(?i)\bFROM\b`),
	}
)

// Parse isolates the first SQL statement in raw model output.
//
// A fenced code block wins over surrounding prose. Language tags and
// "SQLQuery:" style labels are dropped, and so are lines before the first
// one that starts with a statement keyword. Upper case keywords are tried
// before mixed case ones so that prose like "Select the table" loses to
// the statement that follows it. The statement ends at the first
// terminator outside quotes and comments, at a line starting with a
// commentary label such as "SQLResult:", at a line of explanation, or at a
// blank line followed by prose. Literals and comments follow the rules of every supported dialect;
// ParseDialect narrows them to one driver.
func Parse(raw string) (*models.ValidatedQuery, error) {
	return ParseDialect(raw, "")
}

// ParseDialect is Parse with the quoting rules of driver (postgres, mysql,
// sqlite).
func ParseDialect(raw, driver string) (*models.ValidatedQuery, error) {
	lex := database.NewLexer(driver)

	text := raw
	if block, ok := firstFence(text); ok {
		text = block
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")

	var rejected models.StatementKind
	for _, start := range []*regexp.Regexp{upperStatementStart, statementStart} {
		for i := range lines {
			line := stripLabels(strings.TrimSpace(lines[i]))
			if !start.MatchString(line) {
				continue
			}

			rest := append([]string{line}, lines[i+1:]...)
			stmt := strings.TrimSpace(firstStatement(strings.Join(rest, "\n"), lex))
			kind := models.StatementKind(strings.ToUpper(statementStart.FindString(stmt)))

			if re, ok := plausible[kind]; ok && !re.MatchString(stmt) {
				if rejected == "" {
					rejected = kind
				}
				continue
			}
			return &models.ValidatedQuery{SQL: stmt, Kind: kind}, nil
		}
	}

	if rejected != "" {
		return nil, &NoStatementError{Raw: raw, Reason: fmt.Sprintf("incomplete %s statement", rejected)}
	}
	return nil, &NoStatementError{Raw: raw, Reason: "no SQL statement found"}
}

// firstFence returns the body of the first ``` block, without its info
// string. An unterminated fence runs to the end of the text.
func firstFence(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	body := text[open+3:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}

	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if info == "" || isLanguageTag(info) {
			body = body[nl+1:]
		}
	} else if isLanguageTag(strings.TrimSpace(body)) {
		body = ""
	}
	return body, true
}

func isLanguageTag(s string) bool {
	return !strings.ContainsAny(s, " \t") && !statementStart.MatchString(s)
}

// stripLabels removes leading language tags and "SQLQuery:" labels in any
// order, e.g. "sql SQLQuery: SELECT 1".
func stripLabels(line string) string {
	for {
		before := line
		line = leadingLabel.ReplaceAllString(line, "")

		if fields := strings.Fields(line); len(fields) > 0 {
			word := strings.TrimSuffix(strings.ToLower(fields[0]), ":")
			if languageLabels[word] && !statementStart.MatchString(line) {
				line = strings.TrimSpace(line[len(fields[0]):])
			}
		}

		if line == before {
			return line
		}
	}
}

// firstStatement scans s and stops at the first top level ';', commentary
// label, prose line or prose paragraph. Literals, quoted identifiers and
// comments are skipped; a line holding only a comment never ends the
// statement, and is dropped when the statement ends right after it.
func firstStatement(s string, lex database.Lexer) string {
	var (
		lineStart    = true
		hasContent   bool
		blank        bool
		afterComment bool
		pending      = -1
	)
	cut := func(i int) string {
		if pending >= 0 {
			return s[:pending]
		}
		return s[:i]
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		if lineStart && c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			rest := s[i:]
			if lineComment(rest, lex) {
				if pending < 0 {
					pending = i
				}
				end, _ := lex.Skip(s, i)
				i = end
				afterComment = true
				continue
			}
			if blank && !continuation.MatchString(rest) {
				return cut(i)
			}
			if !blank && hasContent && looksLikeProse(rest) {
				return cut(i)
			}
			lower := strings.ToLower(rest)
			for _, label := range trailingLabels {
				if strings.HasPrefix(lower, label) {
					return cut(i)
				}
			}
			if strings.HasPrefix(rest, "```") {
				return cut(i)
			}
			lineStart, hasContent, blank, pending = false, true, false, -1
		}

		if c == '\n' {
			if lineStart && hasContent && !afterComment {
				blank = true
			}
			lineStart, afterComment = true, false
			continue
		}
		if c == ';' {
			return s[:i]
		}
		if end, ok := lex.Skip(s, i); ok {
			i = end
		}
	}
	return s
}

// lineComment reports whether line opens with a comment that runs to the end
// of the line.
func lineComment(line string, lex database.Lexer) bool {
	if !strings.HasPrefix(line, "--") && !strings.HasPrefix(line, "#") {
		return false
	}
	_, ok := lex.Skip(line, 0)
	return ok
}

func looksLikeProse(line string) bool {
	m := proseStart.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	for _, w := range m[1:] {
		if sqlWords[strings.ToUpper(w)] {
			return false
		}
	}
	return true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
