package wire

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Reader reads framed messages from a stream.
//
// Errors from ReadMessage come in two classes. A *ParseError (see
// IsParseError) concerns one line and the next call may succeed. Anything
// else is an I/O error and the stream is finished. A stream closed between
// lines gives io.EOF; a stream closed partway through a line gives a wrapped
// io.ErrUnexpectedEOF.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r. The buffer holds exactly one maximum length line.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, MaxLineLength)}
}

// ReadLine returns the next raw line including its line ending.
func (r *Reader) ReadLine() (string, error) {
	buf, err := r.r.ReadSlice('\n')
	if err == nil {
		return string(buf), nil
	}

	if err == bufio.ErrBufferFull {
		line := string(buf)
		// Skip the rest of the line so the next read starts on a boundary.
		for {
			_, err := r.r.ReadSlice('\n')
			if err == nil {
				return "", &ParseError{Line: line, Err: ErrLineTooLong}
			}
			if err == io.EOF {
				return "", errors.Wrap(io.ErrUnexpectedEOF, "reading overlong line")
			}
			if err != bufio.ErrBufferFull {
				return "", errors.Wrap(err, "reading overlong line")
			}
		}
	}

	if err == io.EOF {
		if len(buf) == 0 {
			return "", io.EOF
		}
		return "", errors.Wrap(io.ErrUnexpectedEOF, "stream ended inside a line")
	}

	return "", errors.Wrap(err, "error reading line")
}

// ReadMessage reads and parses the next line.
func (r *Reader) ReadMessage() (Message, error) {
	line, err := r.ReadLine()
	if err != nil {
		return Message{}, err
	}
	return Parse(line)
}
