package forwarder

import (
	"bytes"
	"testing"
)

func TestAccumulatorSplitsFrames(t *testing.T) {
	var acc sseAccumulator
	acc.Feed([]byte("event: message_start\ndata: {\"type\":\"message_start\"}\n\n"))
	acc.Feed([]byte("data: {\"type\":\"message_delta\",\"n\":1}\n\ndata: [DONE]\n\n"))

	events := acc.Finish()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0]["type"] != "message_start" {
		t.Errorf("first event type = %v", events[0]["type"])
	}
	if events[1]["type"] != "message_delta" {
		t.Errorf("second event type = %v", events[1]["type"])
	}
}

func TestAccumulatorReassemblesSplitChunks(t *testing.T) {
	var acc sseAccumulator
	acc.Feed([]byte("data: {\"a\":"))
	acc.Feed([]byte("1}\n"))
	acc.Feed([]byte("\ndata: {\"b\":2}"))

	// The second frame never got its blank line; Finish picks it up.
	events := acc.Finish()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0]["a"] != float64(1) || events[1]["b"] != float64(2) {
		t.Errorf("events = %v", events)
	}
}

func TestAccumulatorToleratesCRLF(t *testing.T) {
	var acc sseAccumulator
	acc.Feed([]byte("data: {\"x\":1}\r\n\r\ndata: {\"y\":2}\r\n\r\n"))

	events := acc.Finish()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0]["x"] != float64(1) || events[1]["y"] != float64(2) {
		t.Errorf("events = %v", events)
	}
}

func TestAccumulatorSkipsNonJSONData(t *testing.T) {
	var acc sseAccumulator
	acc.Feed([]byte("data: ping\n\ndata: {\"ok\":true}\n\n: comment line\n\n"))

	events := acc.Finish()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0]["ok"] != true {
		t.Errorf("event = %v", events[0])
	}
}

func TestAccumulatorStopsCollectingOnOverflow(t *testing.T) {
	var acc sseAccumulator
	acc.Feed([]byte("data: {\"first\":1}\n\n"))

	// A frame that never terminates blows past the buffer cap.
	blob := bytes.Repeat([]byte("x"), 3*1024*1024)
	acc.Feed(blob)
	acc.Feed(blob)
	acc.Feed(blob)
	acc.Feed([]byte("\n\ndata: {\"late\":1}\n\n"))

	events := acc.Finish()
	if len(events) != 1 {
		t.Fatalf("expected only the pre-overflow event, got %d", len(events))
	}
	if events[0]["first"] != float64(1) {
		t.Errorf("event = %v", events[0])
	}
}

func TestUpstreamErrorText(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"claude shape", `{"type":"error","error":{"type":"invalid_request_error","message":"budget too low"}}`, "budget too low"},
		{"openai shape", `{"error":{"message":"rate limited","type":"rate_limit_error"}}`, "rate limited"},
		{"bare string error", `{"error":"boom"}`, "boom"},
		{"top level message", `{"message":"nope"}`, "nope"},
		{"gemini array wrapper", `[{"error":{"code":400,"message":"bad request"}}]`, "bad request"},
		{"fastapi detail", `{"detail":[{"msg":"x","message":"field required"}]}`, "field required"},
		{"plain text", `upstream exploded`, "upstream exploded"},
		{"empty", ``, ""},
		{"json without message", `{"status":"error"}`, `{"status":"error"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := upstreamErrorText([]byte(tc.body)); got != tc.want {
				t.Errorf("upstreamErrorText(%q) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}
