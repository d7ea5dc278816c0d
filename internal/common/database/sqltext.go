package database

import "strings"

// Lexer knows where string literals, quoted identifiers and comments start
// and end in one SQL dialect. It does not tokenize anything else.
type Lexer struct {
	// backslash escapes inside '...' and "..." literals (MySQL).
	backslash bool
	// hashComments enables "# ..." line comments (MySQL).
	hashComments bool
	// executableComments treats "/*! ... */" bodies as code (MySQL).
	executableComments bool
	// escapeStrings enables E'...' literals with backslash escapes (PostgreSQL).
	escapeStrings bool
}

// NewLexer returns the lexer for driver. An unknown or empty driver gets the
// union of every dialect's escape rules, so a literal never ends earlier than
// any supported database would end it.
func NewLexer(driver string) Lexer {
	switch driver {
	case "mysql":
		return Lexer{backslash: true, hashComments: true, executableComments: true}
	case "postgres":
		return Lexer{escapeStrings: true}
	case "sqlite":
		return Lexer{}
	}
	return Lexer{backslash: true, escapeStrings: true}
}

// Skip reports whether a literal, quoted identifier or comment starts at
// s[i] and returns the index of its last byte. An unterminated token runs to
// the end of s.
func (l Lexer) Skip(s string, i int) (int, bool) {
	switch c := s[i]; {
	case c == '\'':
		return l.skipQuoted(s, i, c, l.backslash || l.escapeLiteral(s, i)), true
	case c == '"':
		return l.skipQuoted(s, i, c, l.backslash), true
	case c == '`':
		return l.skipQuoted(s, i, c, false), true
	case c == '[' && !l.backslash && !l.escapeStrings:
		// sqlite accepts [bracketed] identifiers
		if end := strings.IndexByte(s[i:], ']'); end >= 0 {
			return i + end, true
		}
		return len(s) - 1, true
	case c == '-' && i+1 < len(s) && s[i+1] == '-', c == '#' && l.hashComments:
		if nl := strings.IndexByte(s[i:], '\n'); nl >= 0 {
			return i + nl - 1, true
		}
		return len(s) - 1, true
	case c == '/' && i+1 < len(s) && s[i+1] == '*':
		if l.executableComments && i+2 < len(s) && s[i+2] == '!' {
			return 0, false
		}
		if end := strings.Index(s[i+2:], "*/"); end >= 0 {
			return i + 2 + end + 1, true
		}
		return len(s) - 1, true
	}
	return 0, false
}

// escapeLiteral reports whether the quote at s[i] opens a PostgreSQL E'...'
// string.
func (l Lexer) escapeLiteral(s string, i int) bool {
	if !l.escapeStrings || i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(s[i-2])
}

func (l Lexer) skipQuoted(s string, i int, q byte, backslash bool) int {
	for j := i + 1; j < len(s); j++ {
		switch {
		case backslash && s[j] == '\\':
			j++
		case s[j] != q:
		case j+1 < len(s) && s[j+1] == q:
			j++
		default:
			return j
		}
	}
	return len(s) - 1
}

// Code returns s with every literal and quoted identifier collapsed to an
// empty pair of its quotes and every comment replaced by a space, plus the
// number of ';' left outside them.
func (l Lexer) Code(s string) (string, int) {
	var (
		sb    strings.Builder
		semis int
	)
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if end, ok := l.Skip(s, i); ok {
			switch c {
			case '\'', '"', '`':
				sb.WriteByte(c)
				sb.WriteByte(c)
			case '[':
				sb.WriteString("[]")
			default:
				sb.WriteByte(' ')
			}
			i = end
			continue
		}
		if c == ';' {
			semis++
		}
		sb.WriteByte(c)
	}
	return sb.String(), semis
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}
