package forwarder

import (
	"bytes"
	"encoding/json"
	"strings"
)

// maxFrameBuffer bounds the accumulator between frame boundaries. A stream
// that exceeds it stops contributing usage events but keeps relaying.
const maxFrameBuffer = 8 * 1024 * 1024

// sseAccumulator collects the JSON payloads of an SSE stream while the raw
// bytes pass through to the client. Frames split on a blank line; each
// "data:" line is parsed, "[DONE]" markers are dropped.
type sseAccumulator struct {
	buf      bytes.Buffer
	events   []map[string]interface{}
	overflow bool
}

// Feed appends raw stream bytes and parses any frames they complete.
func (a *sseAccumulator) Feed(p []byte) {
	if a.overflow {
		return
	}
	a.buf.Write(p)

	for {
		raw := a.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, raw[:idx])
		a.buf.Next(idx + 2)
		a.parseFrame(frame)
	}

	if a.buf.Len() > maxFrameBuffer {
		a.buf.Reset()
		a.overflow = true
	}
}

// Finish parses whatever remains after the stream closed without a trailing
// blank line and returns all collected events.
func (a *sseAccumulator) Finish() []map[string]interface{} {
	if !a.overflow && a.buf.Len() > 0 {
		a.parseFrame(a.buf.Bytes())
		a.buf.Reset()
	}
	return a.events
}

func (a *sseAccumulator) parseFrame(frame []byte) {
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		a.events = append(a.events, ev)
	}
}
