package wire

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/pkg/errors"
)

// Parse decodes one protocol line. The line must end in CRLF. A bare LF is
// accepted as clients in the wild send it. The command is upper cased.
//
// Errors are *ParseError values wrapping one of ErrNoTrailingCRLF,
// ErrLineTooLong, ErrEmptyMessage or ErrInvalidCharacter.
func Parse(line string) (Message, error) {
	body, err := stripLineEnding(line)
	if err != nil {
		return Message{}, &ParseError{Line: line, Err: err}
	}

	// The length limit counts the CRLF, which is already gone from body.
	im, err := ircmsg.ParseLineStrict(body, true, MaxLineLength)
	if err != nil {
		return Message{}, &ParseError{Line: line, Err: parseErrorKind(err)}
	}

	m := Message{Prefix: im.Source, Command: im.Command, Params: im.Params}
	if hasTrailing(body) && len(m.Params) > 0 {
		last := len(m.Params) - 1
		m.Trailing = m.Params[last]
		m.HasTrailing = true
		m.Params = m.Params[:last]
	}
	if len(m.Params) == 0 {
		m.Params = nil
	}
	return m, nil
}

func parseErrorKind(err error) error {
	switch {
	case errors.Is(err, ircmsg.ErrorLineContainsBadChar),
		errors.Is(err, ircmsg.ErrorInvalidTagContent):
		return ErrInvalidCharacter
	case errors.Is(err, ircmsg.ErrorBodyTooLong),
		errors.Is(err, ircmsg.ErrorTagsTooLong):
		return ErrLineTooLong
	case errors.Is(err, ircmsg.ErrorLineIsEmpty),
		errors.Is(err, ircmsg.ErrorCommandMissing):
		return ErrEmptyMessage
	}
	return err
}

// hasTrailing tells whether a line body carries a trailing parameter. Tags,
// the prefix and middle parameters cannot contain a space, so the first
// " :" after any tags is the trailing marker.
func hasTrailing(body string) bool {
	rest := strings.TrimLeft(body, " ")
	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return false
		}
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}
	return strings.Contains(rest, " :")
}

func stripLineEnding(line string) (string, error) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], nil
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1], nil
	}
	return "", ErrNoTrailingCRLF
}
