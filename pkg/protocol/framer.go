package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxLineLength is the default maximum length of a protocol line, excluding
// the trailing delimiter.
const MaxLineLength = 8192

// ErrLineTooLong is returned by ReadLine when a line exceeds the framer's
// maximum length. The connection that produced it cannot be resynchronized
// and should be closed.
var ErrLineTooLong = errors.New("protocol: line exceeds maximum length")

// Framer splits a raw byte stream into newline-delimited text lines and
// writes lines back with the delimiter appended. Partially read bytes stay
// in the internal buffer between calls, so an abandoned ReadLine loses
// nothing.
type Framer struct {
	rw  io.ReadWriter
	br  *bufio.Reader
	max int
}

// NewFramer wraps rw with a line framer. A non-positive maxLength selects
// MaxLineLength.
func NewFramer(rw io.ReadWriter, maxLength int) *Framer {
	if maxLength <= 0 {
		maxLength = MaxLineLength
	}
	return &Framer{rw: rw, br: bufio.NewReader(rw), max: maxLength}
}

// ReadLine reads the next line from the stream, stripping the trailing
// newline and an optional carriage return. It returns ErrLineTooLong when
// the line exceeds the maximum length, and io.ErrUnexpectedEOF when the
// stream ends mid-line.
func (f *Framer) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := f.br.ReadSlice('\n')
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(line) > f.max {
				return "", ErrLineTooLong
			}
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) > f.max {
		return "", ErrLineTooLong
	}
	return string(line), nil
}

// WriteLine writes line followed by the delimiter as a single write.
func (f *Framer) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.rw.Write(buf); err != nil {
		return fmt.Errorf("protocol: write line: %w", err)
	}
	return nil
}
