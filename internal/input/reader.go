package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrSyntax is returned for malformed hex captures.
var ErrSyntax = errors.New("input: capture syntax error")

var _ EndReporter = (*ReaderSource)(nil)

// binChunkSize bounds a single Read of a binary capture.
const binChunkSize = 64

// ReaderSource replays a capture from an io.Reader.
//
// A hex capture holds whitespace-separated bytes ("1E", "0x9e"), comments
// introduced by '#', and delay tokens "+<ms>" that advance the capture clock.
// Each line becomes one chunk; a delay in the middle of a line splits it.
// Hex chunks are stamped with the time of the first Read plus the delays seen
// so far. Binary chunks are stamped with the clock at the time of the read.
// Delays after the last byte are kept: End reports the capture time once the
// capture is exhausted.
type ReaderSource struct {
	format Format
	now    func() time.Time
	closer io.Closer

	br      *bufio.Reader
	lines   *bufio.Scanner
	line    int
	start   time.Time
	started bool
	offset  time.Duration
	queue   []Chunk
	done    bool
}

// ReaderOption configures a ReaderSource.
type ReaderOption func(*ReaderSource)

// WithReaderClock sets the clock that anchors capture timestamps.
func WithReaderClock(now func() time.Time) ReaderOption {
	return func(s *ReaderSource) { s.now = now }
}

// WithCloser closes c when the source is closed.
func WithCloser(c io.Closer) ReaderOption {
	return func(s *ReaderSource) { s.closer = c }
}

// NewReaderSource creates a source replaying r in the given format.
func NewReaderSource(r io.Reader, format Format, opts ...ReaderOption) *ReaderSource {
	s := &ReaderSource{
		format: format,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if format == FormatBin {
		s.br = bufio.NewReader(r)
	} else {
		s.lines = bufio.NewScanner(r)
	}
	return s
}

// Read returns the next chunk of the capture.
func (s *ReaderSource) Read(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.format == FormatBin {
		return s.readBin()
	}

	if !s.started {
		s.start = s.now()
		s.started = true
	}
	for len(s.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		if !s.lines.Scan() {
			if err := s.lines.Err(); err != nil {
				return Chunk{}, fmt.Errorf("read capture: %w", err)
			}
			s.done = true
			return Chunk{}, io.EOF
		}
		s.line++
		if err := s.parseLine(s.lines.Text()); err != nil {
			return Chunk{}, err
		}
	}

	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, nil
}

func (s *ReaderSource) readBin() (Chunk, error) {
	buf := make([]byte, binChunkSize)
	n, err := s.br.Read(buf)
	if n > 0 {
		return Chunk{Data: buf[:n], At: s.now()}, nil
	}
	if err == nil {
		err = io.EOF
	}
	if !errors.Is(err, io.EOF) {
		err = fmt.Errorf("read capture: %w", err)
	}
	return Chunk{}, err
}

func (s *ReaderSource) parseLine(line string) error {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	var data []byte
	flush := func() {
		if len(data) > 0 {
			s.queue = append(s.queue, Chunk{Data: data, At: s.start.Add(s.offset)})
			data = nil
		}
	}

	for _, tok := range strings.Fields(line) {
		if ms, ok := strings.CutPrefix(tok, "+"); ok {
			n, err := strconv.ParseUint(ms, 10, 32)
			if err != nil {
				return fmt.Errorf("%w: line %d: invalid delay %q", ErrSyntax, s.line, tok)
			}
			flush()
			s.offset += time.Duration(n) * time.Millisecond
			continue
		}

		hex := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		if len(hex) != 2 {
			return fmt.Errorf("%w: line %d: invalid byte %q", ErrSyntax, s.line, tok)
		}
		b, err := strconv.ParseUint(hex, 16, 8)
		if err != nil {
			return fmt.Errorf("%w: line %d: invalid byte %q", ErrSyntax, s.line, tok)
		}
		data = append(data, byte(b))
	}
	flush()
	return nil
}

// End returns the capture time reached at the end of a hex capture,
// including trailing delays. It reports false until Read has returned io.EOF
// and for binary captures, which carry no timing.
func (s *ReaderSource) End() (time.Time, bool) {
	if s.format == FormatBin || !s.done {
		return time.Time{}, false
	}
	return s.start.Add(s.offset), true
}

// Close closes the underlying reader when one was registered.
func (s *ReaderSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// WriteHex renders chunks as a hex capture that ReaderSource replays with the
// same relative timing, to millisecond precision. A non-zero end later than
// the last chunk is written as a trailing delay so the replay lasts as long
// as the recording.
func WriteHex(w io.Writer, chunks []Chunk, end time.Time) error {
	var written int64
	for _, c := range chunks {
		var sb strings.Builder
		if off := c.At.Sub(chunks[0].At).Milliseconds(); off > written {
			fmt.Fprintf(&sb, "+%d ", off-written)
			written = off
		}
		for j, b := range c.Data {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%02X", b)
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	if len(chunks) == 0 || end.IsZero() {
		return nil
	}
	if off := end.Sub(chunks[0].At).Milliseconds(); off > written {
		if _, err := fmt.Fprintf(w, "+%d\n", off-written); err != nil {
			return err
		}
	}
	return nil
}
