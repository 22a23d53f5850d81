package blob

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestFSRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	prefix := MediaPrefix("3f2a")
	key := QuestionKey(prefix, 0, "l", ".png")
	if key != "evaluations/3f2a/0_l.png" {
		t.Fatalf("unexpected key %q", key)
	}
	if err := s.Put(ctx, key, []byte("png-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png-bytes" {
		t.Errorf("got %q", data)
	}

	other := QuestionKey(MediaPrefix("3f2b"), 0, "l", ".png")
	if err := s.Put(ctx, other, []byte("other")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.DeletePrefix(ctx, prefix); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, err := s.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.Open(ctx, other); err != nil {
		t.Errorf("sibling prefix removed: %v", err)
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"evaluations/1/0_l.jpg", true},
		{"", false},
		{"/etc/passwd", false},
		{"evaluations/../../secret", false},
		{"evaluations//x", false},
		{`evaluations\x`, false},
	}
	for _, tt := range tests {
		err := ValidKey(tt.key)
		if (err == nil) != tt.ok {
			t.Errorf("ValidKey(%q) = %v, want ok=%v", tt.key, err, tt.ok)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a/b.png"); got != "image/png" {
		t.Errorf("ContentType(png) = %q", got)
	}
	if got := ContentType("a/b.unknownext"); got != "application/octet-stream" {
		t.Errorf("ContentType(unknown) = %q", got)
	}
}
