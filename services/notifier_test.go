package services

import (
	"context"
	"testing"
)

func TestLocalUpdateNotifier(t *testing.T) {
	n := NewLocalUpdateNotifier()
	ctx := context.Background()

	last, err := n.LastChanged(ctx)
	if err != nil || !last.IsZero() {
		t.Fatalf("fresh notifier: %v %v", last, err)
	}
	if err := n.MarkChanged(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if last, _ = n.LastChanged(ctx); last.IsZero() {
		t.Fatalf("marker not set")
	}
}

func TestRedisUpdateNotifierFailsFastWhenUnreachable(t *testing.T) {
	if _, err := NewRedisUpdateNotifier("127.0.0.1:1", ""); err == nil {
		t.Fatalf("expected ping failure")
	}
}
