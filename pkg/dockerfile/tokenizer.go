// Package dockerfile implements a minimal, round-trip-faithful Dockerfile
// parser. It understands only the instructions that can reference container
// images (currently FROM) and preserves every other byte of the file, so a
// parsed document can be written back out without disturbing comments,
// whitespace, or line-continuation style.
//
// Parsing happens in two phases: the file is first split into tokens, where
// each token is one instruction, comment, or blank line, and a list of typed
// instructions is then built from the tokens.
package dockerfile

import (
	"strings"
	"unicode"
)

// isCommentOrBlank reports whether the line is a comment or contains only
// whitespace. Blank lines behave like comments with respect to line
// continuation, so both are treated alike.
func isCommentOrBlank(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// stripLine removes surrounding whitespace and a trailing continuation
// backslash from one physical line.
func stripLine(line string) string {
	s := strings.TrimSpace(line)
	if strings.HasSuffix(s, `\`) {
		s = strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace)
	}
	return s
}

// Tokenize splits Dockerfile lines into tokens. Each token is one
// instruction together with its continuation lines (and any comments or
// blank lines an open continuation absorbs), or a single comment or blank
// line. Lines must keep their terminators; concatenating the returned
// tokens reproduces the input exactly.
func Tokenize(lines []string) []string {
	var tokens []string
	token := ""
	// One empty synthetic line marks the end of input and completes
	// whatever token is still open.
	for i := 0; i <= len(lines); i++ {
		line := ""
		if i < len(lines) {
			line = lines[i]
		}
		var complete bool
		switch {
		case line == "":
			complete = true
		case isCommentOrBlank(line):
			// Comments do not break an open continuation.
			complete = token == ""
		default:
			complete = !strings.HasSuffix(strings.TrimRightFunc(line, unicode.IsSpace), `\`)
		}
		token += line
		if complete && token != "" {
			tokens = append(tokens, token)
			token = ""
		}
	}
	return tokens
}

// TokenCmd returns the uppercased instruction keyword of a token. Comment
// and blank tokens have no keyword and yield the empty string.
func TokenCmd(token string) string {
	value := strings.TrimSpace(token)
	if value == "" || value[0] == '#' {
		return ""
	}
	return strings.ToUpper(strings.Fields(value)[0])
}

// TokenCode normalizes a possibly multi-line token into the single logical
// line it would have been written as: comment and blank physical lines are
// dropped, continuation backslashes stripped, and the remainder joined with
// single spaces.
func TokenCode(token string) string {
	var parts []string
	for _, line := range strings.Split(token, "\n") {
		if isCommentOrBlank(line) {
			continue
		}
		parts = append(parts, stripLine(line))
	}
	return strings.Join(parts, " ")
}
