// Package stream turns the line-delimited event stream of the chat service into assistant text fragments.
//
// Every significant line has the form "data: <payload>", where payload is either the end-of-stream
// sentinel "[DONE]" or a JSON record such as {"content":"..."}. Records are one per line: unlike a
// general SSE parser, consecutive data lines are never merged into a single event.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

var (
	// ErrMalformedRecord is returned when a data payload is not a valid record.
	ErrMalformedRecord = errors.New("malformed stream record")
	// ErrRemote is returned when the service reports a failure inside the stream.
	ErrRemote = errors.New("remote stream error")
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	readBufferSize = 4096

	// MaxLineLength bounds a single line of the stream, line break excluded.
	MaxLineLength = 1 << 20
)

type record struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// Decoder splits chunks of a stream into records and extracts their text. Chunk boundaries don't need to
// align with line boundaries: a trailing partial line is carried over to the next chunk. The zero value is
// ready to use. A Decoder serves a single stream.
type Decoder struct {
	carry []byte
	done  bool
}

// Done reports whether the end-of-stream sentinel was seen. Chunks fed after that are discarded.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed decodes every complete line of carry-over plus chunk and returns the fragments found, in order.
// When a line can't be decoded, the fragments preceding it are returned together with the error.
func (d *Decoder) Feed(chunk []byte) ([]string, error) {
	if d.done {
		return nil, nil
	}

	data := chunk
	if len(d.carry) > 0 {
		data = append(d.carry, chunk...)
		d.carry = nil
	}

	var fragments []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]

		fragment, err := d.decodeLine(line)
		if err != nil {
			return fragments, err
		}
		if fragment != "" {
			fragments = append(fragments, fragment)
		}
		if d.done {
			return fragments, nil
		}
	}

	if len(data) > MaxLineLength {
		return fragments, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedRecord, MaxLineLength)
	}
	if len(data) > 0 {
		// data may alias the caller's chunk, which is reused between reads.
		d.carry = append([]byte(nil), data...)
	}
	return fragments, nil
}

// Close decodes the trailing line left without a line break when the stream ended.
func (d *Decoder) Close() ([]string, error) {
	if d.done || len(d.carry) == 0 {
		return nil, nil
	}
	line := d.carry
	d.carry = nil

	fragment, err := d.decodeLine(line)
	if err != nil || fragment == "" {
		return nil, err
	}
	return []string{fragment}, nil
}

func (d *Decoder) decodeLine(line []byte) (string, error) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return "", nil
	}
	// Other SSE fields (event, id, retry) and comments carry nothing for the transcript.
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return "", nil
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return "", nil
	}
	if string(payload) == doneSentinel {
		d.done = true
		return "", nil
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrMalformedRecord, payload, err)
	}
	if rec.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrRemote, rec.Error)
	}
	return rec.Content, nil
}

// Fragments reads r until EOF and yields the text of every record in arrival order. Iteration stops at the
// first decoding or transport error, which is yielded once. After the end-of-stream sentinel no fragment is
// yielded, but r is still read to EOF so the transport can be reused.
func Fragments(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var d Decoder
		buf := make([]byte, readBufferSize)

		for {
			n, err := r.Read(buf)
			if n > 0 {
				fragments, decErr := d.Feed(buf[:n])
				for _, f := range fragments {
					if !yield(f, nil) {
						return
					}
				}
				if decErr != nil {
					yield("", decErr)
					return
				}
			}

			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				yield("", fmt.Errorf("error reading stream: %w", err))
				return
			}

			fragments, decErr := d.Close()
			for _, f := range fragments {
				if !yield(f, nil) {
					return
				}
			}
			if decErr != nil {
				yield("", decErr)
			}
			return
		}
	}
}
