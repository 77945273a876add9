package upstream

import (
	"bufio"
	"bytes"
	"io"
)

// SSEReader pulls `data: ...` payloads off an `alt=sse` response body, one
// JSON value at a time. It is a thin line-oriented scanner rather than a
// general SSE client: the upstream never sends multi-line data fields,
// comments, or custom event names on this surface.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps a streaming response body. The caller still owns
// closing the underlying body.
func NewSSEReader(body io.Reader) *SSEReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &SSEReader{scanner: scanner}
}

const ssePrefix = "data: "

// Next returns the next event's raw JSON payload. It returns io.EOF once the
// stream is exhausted. Blank lines and non-`data:` lines (e.g. SSE comments
// used as keep-alives) are skipped.
func (r *SSEReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte(ssePrefix)) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte(ssePrefix))
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
