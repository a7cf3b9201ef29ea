package dockerfile

import (
	"fmt"
	"strings"
)

// InvalidInstructionError reports a token that carries a keyword this
// package parses but that failed structural validation. Tokens with
// unrecognized keywords never produce this error; they fall through to
// GenericInstruction.
type InvalidInstructionError struct {
	// Token is the offending source token.
	Token string
	// Reason describes what was wrong with it.
	Reason string
}

func (e *InvalidInstructionError) Error() string {
	return "invalid instruction: " + e.Reason
}

func invalidInstruction(token, format string, args ...interface{}) error {
	return &InvalidInstructionError{Token: token, Reason: fmt.Sprintf(format, args...)}
}

// Instruction is one parsed Dockerfile instruction. Comments and blank
// lines are instructions too, so that a serialized document reproduces its
// source.
type Instruction interface {
	// String returns the instruction as written to a Dockerfile,
	// including line terminators.
	String() string
}

// parsers maps an instruction keyword to its constructor. Register a new
// entry to parse another instruction kind semantically; tokens whose
// keyword is absent fall through to GenericInstruction.
var parsers = map[string]func(token string) (Instruction, error){
	"FROM": func(token string) (Instruction, error) {
		from, err := ParseFrom(token)
		if err != nil {
			return nil, err
		}
		return from, nil
	},
}

// FromInstruction is a semantically parsed FROM instruction.
type FromInstruction struct {
	// Base is the image reference the stage builds on. Never empty.
	Base string
	// Name is the build-stage name from an AS clause, empty when absent.
	Name string
	// Platform is the value of a --platform flag, empty when absent.
	Platform string
}

// ParseFrom parses a FROM token. The accepted shape is
//
//	FROM [--platform=<value>] <image> [AS <name>]
//
// with a case-insensitive keyword and AS. Any other flag, a missing image,
// or trailing arguments make the token invalid.
func ParseFrom(token string) (FromInstruction, error) {
	parts := strings.Fields(TokenCode(token))
	if len(parts) == 0 || !strings.EqualFold(parts[0], "FROM") {
		return FromInstruction{}, invalidInstruction(token, "not a FROM instruction")
	}
	parts = parts[1:]

	platform := ""
	for len(parts) > 0 && strings.HasPrefix(parts[0], "--") {
		key, value, _ := strings.Cut(parts[0], "=")
		if key != "--platform" {
			return FromInstruction{}, invalidInstruction(token, "FROM with an unknown flag: %s", parts[0])
		}
		platform = value
		parts = parts[1:]
	}

	if len(parts) == 0 {
		return FromInstruction{}, invalidInstruction(token, "FROM with too few arguments")
	}
	base := parts[0]
	parts = parts[1:]

	name := ""
	if len(parts) >= 2 && strings.EqualFold(parts[0], "AS") {
		name = parts[1]
		parts = parts[2:]
	}
	if len(parts) > 0 {
		return FromInstruction{}, invalidInstruction(token, "FROM with too many arguments")
	}

	return FromInstruction{Base: base, Name: name, Platform: platform}, nil
}

// String renders the canonical single-line form. A FROM instruction that
// was spread over continuation lines in the source is intentionally
// normalized here; every other instruction kind round-trips byte-exact.
func (f FromInstruction) String() string {
	parts := []string{"FROM"}
	if f.Platform != "" {
		parts = append(parts, "--platform="+f.Platform)
	}
	parts = append(parts, f.Base)
	if f.Name != "" {
		parts = append(parts, "AS", f.Name)
	}
	return strings.Join(parts, " ") + "\n"
}

// WithBase returns a copy of the instruction with only the base image
// replaced. Stage name and platform carry over unchanged.
func (f FromInstruction) WithBase(base string) FromInstruction {
	f.Base = base
	return f
}

// GenericInstruction holds any token this package does not parse:
// unrecognized instructions, comments, and blank lines. The source text is
// kept verbatim.
type GenericInstruction struct {
	Value string
}

func (g GenericInstruction) String() string { return g.Value }
