package wire

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/pkg/errors"
)

// Encode formats the message as a protocol line ending in CRLF. The colon
// always goes in front of a trailing parameter.
//
// A message whose body would exceed MaxBodyLength has its trailing parameter
// shortened on a UTF-8 boundary. The shortened line is returned together
// with ErrTruncated and is still usable. If there is no trailing parameter to
// shorten, ErrLineTooLong is returned instead.
//
// It does not enforce command specific semantics.
func (m Message) Encode() (string, error) {
	if strings.ContainsAny(m.Prefix, " ") ||
		strings.ContainsAny(m.Command, " :") {
		return "", ErrInvalidCharacter
	}
	for _, p := range m.Params {
		if p == "" || p[0] == ':' || strings.ContainsAny(p, " ") {
			return "", ErrInvalidParam
		}
	}

	// Messages are shared between connections, so m.Params is not appended to.
	params := append([]string(nil), m.Params...)
	im := ircmsg.MakeMessage(nil, m.Prefix, m.Command, params...)
	line, err := im.Line()
	if err != nil {
		return "", encodeErrorKind(err)
	}
	if !m.HasTrailing {
		if len(line)-2 > MaxBodyLength {
			return "", ErrLineTooLong
		}
		return line, nil
	}

	// The head and the " :" marker must fit.
	if len(line) > MaxBodyLength {
		return "", ErrLineTooLong
	}

	im.Params = append(im.Params, m.Trailing)
	im.ForceTrailing()
	b, err := im.LineBytesStrict(false, MaxLineLength)
	if errors.Is(err, ircmsg.ErrorBodyTooLong) {
		return string(b), ErrTruncated
	}
	if err != nil {
		return "", encodeErrorKind(err)
	}
	return string(b), nil
}

func encodeErrorKind(err error) error {
	switch {
	case errors.Is(err, ircmsg.ErrorBadParam):
		return ErrInvalidParam
	case errors.Is(err, ircmsg.ErrorCommandMissing),
		errors.Is(err, ircmsg.ErrorLineContainsBadChar):
		return ErrInvalidCharacter
	}
	return err
}

// Line is Encode for messages the server builds itself. A truncated line is
// returned as is. On any other error it returns an empty string.
func (m Message) Line() string {
	s, err := m.Encode()
	if err != nil && err != ErrTruncated {
		return ""
	}
	return s
}
