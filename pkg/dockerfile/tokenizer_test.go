package dockerfile

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		expected []string
	}{
		{
			name:     "empty input",
			lines:    nil,
			expected: nil,
		},
		{
			name:     "one line without trailing newline",
			lines:    []string{"# Comment"},
			expected: []string{"# Comment"},
		},
		{
			name:     "one line with trailing newline",
			lines:    []string{"# Comment\n"},
			expected: []string{"# Comment\n"},
		},
		{
			name:     "multiple lines without trailing newline",
			lines:    []string{"# Comment 1\n", "# Comment 2"},
			expected: []string{"# Comment 1\n", "# Comment 2"},
		},
		{
			name:  "plain instructions, comments and blank lines",
			lines: []string{"FROM debian\n", "\n", "# Example comment\n", "CMD echo 'hello world'\n"},
			expected: []string{
				"FROM debian\n",
				"\n",
				"# Example comment\n",
				"CMD echo 'hello world'\n",
			},
		},
		{
			name:     "indented instruction",
			lines:    []string{"  FROM debian\n"},
			expected: []string{"  FROM debian\n"},
		},
		{
			name:     "trailing whitespace",
			lines:    []string{"FROM debian  \n"},
			expected: []string{"FROM debian  \n"},
		},
		{
			name:     "lowercase instruction",
			lines:    []string{"from debian\n"},
			expected: []string{"from debian\n"},
		},
		{
			name:     "comment with trailing backslash does not continue",
			lines:    []string{"# Example comment\\\n", "CMD echo 'hello world'\n"},
			expected: []string{"# Example comment\\\n", "CMD echo 'hello world'\n"},
		},
		{
			name:     "backslash joins continuation lines",
			lines:    []string{"CMD echo \\\n", "  'hello world'\n"},
			expected: []string{"CMD echo \\\n  'hello world'\n"},
		},
		{
			name:     "empty line inside continuation is preserved",
			lines:    []string{"CMD echo \\\n", "\n", "  'hello world'\n"},
			expected: []string{"CMD echo \\\n\n  'hello world'\n"},
		},
		{
			name:     "backslash on the last line is valid",
			lines:    []string{"CMD echo \\\n"},
			expected: []string{"CMD echo \\\n"},
		},
		{
			name:     "comment inside continuation is absorbed",
			lines:    []string{"CMD echo \\\n", "  # Comment\n", "  'hello world'\n"},
			expected: []string{"CMD echo \\\n  # Comment\n  'hello world'\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := Tokenize(tt.lines)
			if !reflect.DeepEqual(tokens, tt.expected) {
				t.Errorf("Tokenize(%q) = %q, want %q", tt.lines, tokens, tt.expected)
			}
		})
	}
}

func TestTokenizeIsLossless(t *testing.T) {
	inputs := [][]string{
		{"FROM debian\n", "\n", "# c\n", "RUN true\n"},
		{"RUN a \\\n", "  # swallowed\n", "\n", "  b\n", "CMD c"},
		{"  \n", "\t\n", "from debian \\\n", "  AS base\n"},
	}
	for _, lines := range inputs {
		joined := strings.Join(lines, "")
		if got := strings.Join(Tokenize(lines), ""); got != joined {
			t.Errorf("tokens do not reproduce input:\n got %q\nwant %q", got, joined)
		}
	}
}

func TestTokenCmd(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", ""},
		{"  ", ""},
		{"\n", ""},
		{"  \n", ""},
		{"# Comment", ""},
		{"# Comment\n", ""},
		{"  # Comment\n", ""},
		{"FROM", "FROM"},
		{"FROM\n", "FROM"},
		{"FROM debian\n", "FROM"},
		{"  FROM debian\n", "FROM"},
		{"from debian\n", "FROM"},
		{"FROM debian \\\n  AS base\n", "FROM"},
		{"FROM debian \\\n  # Comment \n AS base\n", "FROM"},
	}
	for _, tt := range tests {
		if got := TokenCmd(tt.token); got != tt.expected {
			t.Errorf("TokenCmd(%q) = %q, want %q", tt.token, got, tt.expected)
		}
	}
}

func TestTokenCode(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", ""},
		{"  \n", ""},
		{"# Comment\n", ""},
		{"FROM debian\n", "FROM debian"},
		{"FROM debian \\\n  # Comment \n  AS base\n", "FROM debian AS base"},
		{"CMD echo \\\n\n  'hello world'\n", "CMD echo 'hello world'"},
	}
	for _, tt := range tests {
		if got := TokenCode(tt.token); got != tt.expected {
			t.Errorf("TokenCode(%q) = %q, want %q", tt.token, got, tt.expected)
		}
	}
}
