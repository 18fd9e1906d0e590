package stream_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MegaGrindStone/chatstream/internal/stream"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

type chunkReader struct {
	chunks []string
	reads  int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.reads >= len(c.chunks) {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[c.reads])
	c.reads++
	return n, nil
}

func collect(t *testing.T, r io.Reader) ([]string, error) {
	t.Helper()
	var fragments []string
	for f, err := range stream.Fragments(r) {
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

func wireRecords(t *testing.T, payloads ...string) string {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range payloads {
		msg := &sse.Message{}
		msg.AppendData(p)
		_, err := msg.WriteTo(&buf)
		require.NoError(t, err)
	}
	return buf.String()
}

func TestFragmentsSplitAnywhere(t *testing.T) {
	const input = "data: {\"content\":\"ab\"}\n\ndata: [DONE]\n"

	for i := 0; i <= len(input); i++ {
		r := &chunkReader{chunks: []string{input[:i], input[i:]}}
		var d stream.Decoder

		var got []string
		for _, chunk := range r.chunks {
			fragments, err := d.Feed([]byte(chunk))
			require.NoError(t, err, "split at %d", i)
			got = append(got, fragments...)
		}
		rest, err := d.Close()
		require.NoError(t, err)
		got = append(got, rest...)

		require.Equal(t, []string{"ab"}, got, "split at %d", i)
		require.True(t, d.Done(), "split at %d", i)

		fragments, err := collect(t, &chunkReader{chunks: []string{input[:i], input[i:]}})
		require.NoError(t, err)
		require.Equal(t, []string{"ab"}, fragments, "split at %d", i)
	}
}

func TestFragmentsByteByByte(t *testing.T) {
	input := wireRecords(t, `{"content":"Hé"}`, `{"content":"llo 世界"}`, "[DONE]")

	fragments, err := collect(t, iotest.OneByteReader(strings.NewReader(input)))
	require.NoError(t, err)
	require.Equal(t, []string{"Hé", "llo 世界"}, fragments)
}

func TestFragmentsIgnoresNonDataLines(t *testing.T) {
	input := ": keep-alive\n" +
		"event: message\n" +
		"id: 7\n" +
		"\r\n" +
		"data: {\"content\":\"a\"}\r\n" +
		"data:{\"content\":\"b\"}\n" +
		"data: \n" +
		"data: {\"content\":\"\"}\n" +
		"data: {\"other\":1}\n"

	fragments, err := collect(t, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, fragments)
}

func TestFragmentsTrailingLineWithoutBreak(t *testing.T) {
	fragments, err := collect(t, strings.NewReader("data: {\"content\":\"x\"}\n\ndata: {\"content\":\"y\"}"))
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, fragments)
}

func TestFragmentsStopsAfterSentinelButDrains(t *testing.T) {
	r := &chunkReader{chunks: []string{
		"data: {\"content\":\"a\"}\ndata: [DONE]\ndata: {\"content\":\"late\"}\n",
		"data: {\"content\":\"later\"}\n",
		"data: not json\n",
	}}

	fragments, err := collect(t, r)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, fragments)
	require.Equal(t, len(r.chunks), r.reads, "reader should be drained")
}

func TestFragmentsMalformedRecord(t *testing.T) {
	input := "data: {\"content\":\"a\"}\ndata: {\"content\":\ndata: {\"content\":\"b\"}\n"

	fragments, err := collect(t, strings.NewReader(input))
	require.ErrorIs(t, err, stream.ErrMalformedRecord)
	require.Equal(t, []string{"a"}, fragments)
}

func TestFragmentsRemoteError(t *testing.T) {
	input := wireRecords(t, `{"content":"par"}`, `{"error":"model overloaded"}`)

	fragments, err := collect(t, strings.NewReader(input))
	require.ErrorIs(t, err, stream.ErrRemote)
	require.Contains(t, err.Error(), "model overloaded")
	require.Equal(t, []string{"par"}, fragments)
}

func TestFragmentsTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"content\":\"a\"}\n"), iotest.ErrReader(boom))

	fragments, err := collect(t, r)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a"}, fragments)
}

func TestFragmentsEarlyBreak(t *testing.T) {
	input := wireRecords(t, `{"content":"a"}`, `{"content":"b"}`)

	var got []string
	for f, err := range stream.Fragments(strings.NewReader(input)) {
		require.NoError(t, err)
		got = append(got, f)
		break
	}
	require.Equal(t, []string{"a"}, got)
}

func TestDecoderFeedAfterDone(t *testing.T) {
	var d stream.Decoder
	_, err := d.Feed([]byte("data: [DONE]\n"))
	require.NoError(t, err)

	fragments, err := d.Feed([]byte("data: {\"content\":\"x\"}\n"))
	require.NoError(t, err)
	require.Empty(t, fragments)
}

func TestDecoderLineTooLong(t *testing.T) {
	var d stream.Decoder

	// A line of exactly the maximum length is still carried over.
	line := `data: {"content":"` + strings.Repeat("x", stream.MaxLineLength-21) + `"}`
	require.Len(t, line, stream.MaxLineLength)
	_, err := d.Feed([]byte(line))
	require.NoError(t, err)
	fragments, err := d.Feed([]byte("\n"))
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	chunk := bytes.Repeat([]byte("y"), 64<<10)
	for fed := 0; fed <= stream.MaxLineLength; fed += len(chunk) {
		_, err = d.Feed(chunk)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, stream.ErrMalformedRecord)
}

func TestFragmentsLineTooLong(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader("data: {\"content\":\"a\"}\n"),
		io.LimitReader(neverEndingLine{}, stream.MaxLineLength+readChunk),
	)

	fragments, err := collect(t, r)
	require.ErrorIs(t, err, stream.ErrMalformedRecord)
	require.Equal(t, []string{"a"}, fragments)
}

const readChunk = 4096

type neverEndingLine struct{}

func (neverEndingLine) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'z'
	}
	return len(p), nil
}
