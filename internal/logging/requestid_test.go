package logging

import (
	"context"
	"testing"
)

func TestGenerateRequestIDShape(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("id length = %d, want 8 hex chars", len(id))
	}
	if id == GenerateRequestID() {
		t.Errorf("two generated ids collided: %s", id)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("bare context carries id %q", got)
	}

	ctx := WithRequestID(context.Background(), "test1234")
	if got := GetRequestID(ctx); got != "test1234" {
		t.Errorf("round trip = %q, want test1234", got)
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatal("generated id is empty")
	}
	if got := GetRequestID(ctx); got != id {
		t.Errorf("context carries %q, returned %q", got, id)
	}

	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id {
		t.Errorf("existing id %q replaced with %q", id, id2)
	}
	if got := GetRequestID(ctx2); got != id {
		t.Errorf("context lost original id, got %q", got)
	}
}
