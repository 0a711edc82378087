package input

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var readerT0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return readerT0 }

func readAll(t *testing.T, src Source) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		c, err := src.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

func TestReaderSourceHex(t *testing.T) {
	capture := `# press and release A
1E 9E
+250 0xE0 0x48   # Up
+100 E0 C8 +50 55
`
	src := NewReaderSource(strings.NewReader(capture), FormatHex, WithReaderClock(fixedClock))
	chunks := readAll(t, src)

	require.Len(t, chunks, 4)
	assert.Equal(t, []byte{0x1E, 0x9E}, chunks[0].Data)
	assert.Equal(t, readerT0, chunks[0].At)
	assert.Equal(t, []byte{0xE0, 0x48}, chunks[1].Data)
	assert.Equal(t, readerT0.Add(250*time.Millisecond), chunks[1].At)
	assert.Equal(t, []byte{0xE0, 0xC8}, chunks[2].Data)
	assert.Equal(t, readerT0.Add(350*time.Millisecond), chunks[2].At)
	assert.Equal(t, []byte{0x55}, chunks[3].Data)
	assert.Equal(t, readerT0.Add(400*time.Millisecond), chunks[3].At)
}

func TestReaderSourceHexSyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		capture string
	}{
		{"bad byte", "1E ZZ\n"},
		{"too long", "1E0\n"},
		{"bad delay", "+abc 1E\n"},
		{"negative delay", "+-5 1E\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewReaderSource(strings.NewReader(tt.capture), FormatHex)
			_, err := src.Read(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestReaderSourceHexEmpty(t *testing.T) {
	src := NewReaderSource(strings.NewReader("# nothing here\n\n"), FormatHex)
	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSourceBin(t *testing.T) {
	data := bytes.Repeat([]byte{0x1E, 0x9E}, 40)
	src := NewReaderSource(bytes.NewReader(data), FormatBin, WithReaderClock(fixedClock))
	chunks := readAll(t, src)

	var got []byte
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Data), binChunkSize)
		assert.Equal(t, readerT0, c.At)
		got = append(got, c.Data...)
	}
	assert.Equal(t, data, got)
}

func TestReaderSourceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewReaderSource(strings.NewReader("1E\n"), FormatHex)
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestReaderSourceClose(t *testing.T) {
	rec := &closeRecorder{}
	src := NewReaderSource(strings.NewReader(""), FormatHex, WithCloser(rec))
	require.NoError(t, src.Close())
	assert.True(t, rec.closed)

	assert.NoError(t, NewReaderSource(strings.NewReader(""), FormatHex).Close())
}

func TestWriteHexRoundTrip(t *testing.T) {
	chunks := []Chunk{
		{Data: []byte{0x1E}, At: readerT0},
		{Data: []byte{0x9E}, At: readerT0.Add(102 * time.Millisecond)},
		{Data: []byte{0xE0, 0x48}, At: readerT0.Add(1500 * time.Millisecond)},
		{Data: []byte{0xE0, 0xC8}, At: readerT0.Add(1500 * time.Millisecond)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHex(&buf, chunks, time.Time{}))
	assert.Equal(t, "1E\n+102 9E\n+1398 E0 48\nE0 C8\n", buf.String())

	replayed := readAll(t, NewReaderSource(&buf, FormatHex, WithReaderClock(fixedClock)))
	assert.Equal(t, chunks, replayed)
}

func TestWriteHexTrailingDelay(t *testing.T) {
	chunks := []Chunk{{Data: []byte{0x1E}, At: readerT0}}

	var buf bytes.Buffer
	require.NoError(t, WriteHex(&buf, chunks, readerT0.Add(5*time.Second)))
	assert.Equal(t, "1E\n+5000\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteHex(&buf, chunks, readerT0))
	assert.Equal(t, "1E\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteHex(&buf, nil, readerT0.Add(time.Second)))
	assert.Empty(t, buf.String())
}

func TestReaderSourceEnd(t *testing.T) {
	src := NewReaderSource(strings.NewReader("1E\n+5000\n+250 # idle\n"), FormatHex, WithReaderClock(fixedClock))

	_, ok := src.End()
	assert.False(t, ok)

	chunks := readAll(t, src)
	require.Len(t, chunks, 1)
	end, ok := src.End()
	require.True(t, ok)
	assert.Equal(t, readerT0.Add(5250*time.Millisecond), end)

	bin := NewReaderSource(bytes.NewReader([]byte{0x1E}), FormatBin, WithReaderClock(fixedClock))
	readAll(t, bin)
	_, ok = bin.End()
	assert.False(t, ok)
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"", "hex"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, FormatHex, f)
	}
	for _, name := range []string{"bin", "binary", "raw"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, FormatBin, f)
	}
	_, err := ParseFormat("pcap")
	assert.Error(t, err)
	assert.Equal(t, "bin", FormatBin.String())
	assert.Equal(t, "hex", FormatHex.String())
}
