// Package wire encodes and decodes IRC protocol lines.
//
// A line is
//
//	[":" prefix SP] command [SP middle]* [SP ":" trailing] CRLF
//
// See RFC 1459 section 2.3.1.
package wire

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MaxLineLength is the maximum protocol line length including CRLF.
	MaxLineLength = 512

	// MaxBodyLength is MaxLineLength without the CRLF.
	MaxBodyLength = MaxLineLength - 2
)

var (
	// ErrNoTrailingCRLF means a line was not terminated.
	ErrNoTrailingCRLF = errors.New("line has no ending CRLF")

	// ErrLineTooLong means the body was longer than MaxBodyLength.
	ErrLineTooLong = errors.New("line too long")

	// ErrEmptyMessage means there was no command.
	ErrEmptyMessage = errors.New("empty message")

	// ErrInvalidCharacter means CR, LF or NUL appeared inside the line.
	ErrInvalidCharacter = errors.New("invalid character")

	// ErrInvalidParam means a middle parameter was empty, started with ':' or
	// contained a space. Only Encode returns it.
	ErrInvalidParam = errors.New("invalid middle parameter")

	// ErrTruncated is returned by Encode along with the shortened line when
	// the trailing parameter had to be cut to fit.
	ErrTruncated = errors.New("message truncated")
)

// ParseError is a line-level problem. The connection may continue after one.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse %q: %s", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError tells whether err came from parsing a line rather than from
// reading it.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Message holds one protocol message.
type Message struct {
	// Prefix is optional. It is a servername or nick[!user@host].
	Prefix string

	// Command is a word or a three digit numeric. Parse upper cases it.
	Command string

	// Params are the middle parameters.
	Params []string

	// Trailing is the final parameter. It is only present when HasTrailing is
	// set, which allows it to be empty.
	Trailing    string
	HasTrailing bool
}

// NewMessage builds a message without a trailing parameter.
func NewMessage(prefix, command string, params ...string) Message {
	return Message{Prefix: prefix, Command: command, Params: params}
}

// WithTrailing returns a copy of m carrying the given trailing parameter.
func (m Message) WithTrailing(t string) Message {
	m.Trailing = t
	m.HasTrailing = true
	return m
}

// Args returns every parameter, the trailing one last.
func (m Message) Args() []string {
	args := make([]string, 0, len(m.Params)+1)
	args = append(args, m.Params...)
	if m.HasTrailing {
		args = append(args, m.Trailing)
	}
	return args
}

// SourceNick returns the nick part of a nick!user@host prefix. A prefix
// without '!' is returned whole.
func (m Message) SourceNick() string {
	if idx := strings.IndexByte(m.Prefix, '!'); idx != -1 {
		return m.Prefix[:idx]
	}
	return m.Prefix
}

func (m Message) String() string {
	if m.HasTrailing {
		return fmt.Sprintf("Prefix [%s] Command [%s] Params%q Trailing %q",
			m.Prefix, m.Command, m.Params, m.Trailing)
	}
	return fmt.Sprintf("Prefix [%s] Command [%s] Params%q", m.Prefix, m.Command,
		m.Params)
}

// Equal compares two messages. A nil and an empty Params are the same.
func (m Message) Equal(o Message) bool {
	if m.Prefix != o.Prefix || m.Command != o.Command ||
		m.HasTrailing != o.HasTrailing || m.Trailing != o.Trailing ||
		len(m.Params) != len(o.Params) {
		return false
	}
	for i := range m.Params {
		if m.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}
