// Package command provides a structured view of the text commands sent to
// the signaling backend. The wire format stays a bare UTF-8 string: a verb
// followed by space separated arguments, e.g. "GET PARTICIPANTS".
package command

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Known verbs.
const (
	VerbGet = "GET"
)

// GetParticipants asks the backend for the participants in the call.
var GetParticipants = Command{Verb: VerbGet, Args: []string{"PARTICIPANTS"}}

// Command represents a message sent to the signaling backend from the
// client.
type Command struct {
	// the name of the operation, e.g. GET
	Verb string

	// arguments (can be empty); none of them may contain whitespace
	Args []string
}

// New returns a Command with the given verb and arguments.
func New(verb string, args ...string) Command {
	return Command{Verb: verb, Args: args}
}

// MarshalText converts the command into its wire form. It fails if the
// verb is empty or any part contains whitespace, since the result could not
// be parsed back into the same command.
func (c Command) MarshalText() ([]byte, error) {
	if c.Verb == "" {
		return nil, errors.New("empty verb")
	}
	if hasSpace(c.Verb) {
		return nil, errors.Errorf("verb %q contains whitespace", c.Verb)
	}

	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Verb)
	for i, a := range c.Args {
		if a == "" || hasSpace(a) {
			return nil, errors.Errorf("argument %d (%q) is empty or contains whitespace", i, a)
		}
		parts = append(parts, a)
	}

	return []byte(strings.Join(parts, " ")), nil
}

// UnmarshalText parses the wire form of a command.
func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// String returns the wire form, or an empty string if the command is not
// encodable.
func (c Command) String() string {
	b, err := c.MarshalText()
	if err != nil {
		return ""
	}
	return string(b)
}

// Is reports whether c has the given verb and arguments. Verbs compare
// case-insensitively.
func (c Command) Is(verb string, args ...string) bool {
	if !strings.EqualFold(c.Verb, verb) || len(c.Args) != len(args) {
		return false
	}
	for i := range args {
		if c.Args[i] != args[i] {
			return false
		}
	}
	return true
}

// Parse splits a raw text message into a Command. Runs of whitespace are
// treated as a single separator.
func Parse(s string) (Command, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}

	cmd := Command{Verb: fields[0]}
	if len(fields) > 1 {
		cmd.Args = fields[1:]
	}
	return cmd, nil
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
