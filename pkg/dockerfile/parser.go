package dockerfile

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Node is one instruction annotated with its position in the source.
type Node struct {
	// Instruction is the parsed instruction.
	Instruction Instruction
	// Line is the 1-based number of the token's first physical line.
	Line int
	// Raw is the token text exactly as it appeared in the source.
	Raw string
}

// Document is an ordered sequence of parsed instructions. It owns its
// nodes; instructions are immutable values with no reference back to the
// document.
type Document struct {
	Nodes []Node
	// Name identifies the source, typically a file path. It is used only
	// in diagnostics, never for parsing.
	Name string
}

// Parse parses Dockerfile lines into a Document. Lines must keep their
// terminators (see SplitLines). A token with a recognized keyword that
// fails validation aborts the whole parse; the returned error names the
// token's first line.
func Parse(lines []string, name string) (*Document, error) {
	doc := &Document{Name: name}
	line := 1
	for _, token := range Tokenize(lines) {
		instruction, err := parseToken(token)
		if err != nil {
			if name != "" {
				return nil, errors.Wrapf(err, "%s: line %d", name, line)
			}
			return nil, errors.Wrapf(err, "line %d", line)
		}
		doc.Nodes = append(doc.Nodes, Node{Instruction: instruction, Line: line, Raw: token})
		line += strings.Count(token, "\n")
	}
	return doc, nil
}

func parseToken(token string) (Instruction, error) {
	if parse, ok := parsers[TokenCmd(token)]; ok {
		return parse(token)
	}
	return GenericInstruction{Value: token}, nil
}

// ParseReader parses a Dockerfile from r. The name is recorded for
// diagnostics only.
func ParseReader(r io.Reader, name string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input")
	}
	return Parse(SplitLines(string(data)), name)
}

// ParseFile reads and parses the Dockerfile at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return Parse(SplitLines(string(data)), path)
}

// SplitLines splits file content into lines, keeping each line's
// terminator so that no byte is lost between parsing and serialization.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// Serialize writes the document back out, one text fragment per
// instruction, in source order.
func (d *Document) Serialize() []string {
	out := make([]string, len(d.Nodes))
	for i, node := range d.Nodes {
		out[i] = node.Instruction.String()
	}
	return out
}

// String returns the serialized document. It is byte-identical to the
// source except for FROM instructions, which re-serialize in canonical
// single-line form.
func (d *Document) String() string {
	return strings.Join(d.Serialize(), "")
}

// WriteFile writes the serialized document to path.
func (d *Document) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(d.String()), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
