// Package stream reassembles the dream server's newline-delimited JSON event
// stream. Chunks may split lines anywhere; a partial trailing line is held
// until more data arrives or the stream ends.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

const defaultChunkSize = 4096

var ErrFraming = errors.New("event stream framing error")

// FramingError reports a line that could not be decoded as an event. The
// stream is out of sync after one, so it is fatal.
type FramingError struct {
	Line int
	Text string
	Err  error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, truncate(e.Text, 80))
}

func (e *FramingError) Unwrap() []error {
	return []error{ErrFraming, e.Err}
}

// Reader yields events one at a time from an underlying chunk source. It is
// finite and not restartable.
type Reader struct {
	src     io.Reader
	chunk   []byte
	buf     []byte
	pending [][]byte
	line    int
	eof     bool
	err     error
}

func NewReader(src io.Reader) *Reader {
	return NewReaderSize(src, defaultChunkSize)
}

// NewReaderSize uses reads of at most size bytes.
func NewReaderSize(src io.Reader, size int) *Reader {
	if size <= 0 {
		size = defaultChunkSize
	}
	return &Reader{
		src:   src,
		chunk: make([]byte, size),
	}
}

// Next returns the next event, io.EOF once the source is exhausted, or the
// error that ended the stream. Once an error is returned every later call
// returns it again.
func (r *Reader) Next() (Event, error) {
	for {
		if r.err != nil {
			return nil, r.err
		}

		for len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			r.line++
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			ev, err := DecodeEvent(line)
			if err != nil {
				r.err = &FramingError{Line: r.line, Text: string(line), Err: err}
				return nil, r.err
			}
			return ev, nil
		}

		if r.eof {
			r.err = io.EOF
			return nil, r.err
		}

		r.fill()
	}
}

// fill performs one read. Complete lines move to pending, the remainder stays
// buffered; at end of stream the remainder becomes the final line.
func (r *Reader) fill() {
	n, err := r.src.Read(r.chunk)
	if n > 0 {
		r.buf = append(r.buf, r.chunk[:n]...)
		r.split()
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		r.eof = true
		if len(r.buf) > 0 {
			r.pending = append(r.pending, r.buf)
			r.buf = nil
		}
	default:
		r.err = fmt.Errorf("read event stream: %w", err)
	}
}

func (r *Reader) split() {
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return
		}
		line := make([]byte, i)
		copy(line, r.buf[:i])
		r.pending = append(r.pending, bytes.TrimSuffix(line, []byte{'\r'}))
		r.buf = r.buf[i+1:]
	}
}

// Events adapts the reader to a range-over-func sequence. The sequence stops
// after io.EOF without yielding it, and yields any other error once. ctx is
// checked before every pull.
func (r *Reader) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
