// Package blob stores the image payloads referenced by questions.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob not found")

// Store is a path-addressed object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// ValidKey rejects keys that could escape the store root.
func ValidKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("invalid blob key %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}

// ContentType guesses the MIME type from the key's extension.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// MediaPrefix is the key prefix under which one import's images live. Each import
// gets a fresh token, so a prefix is never shared between evaluations.
func MediaPrefix(token string) string {
	return "evaluations/" + token + "/"
}

// QuestionKey names one image of one question: side is "l", "r" or "i".
func QuestionKey(prefix string, order int, side, ext string) string {
	return fmt.Sprintf("%s%d_%s%s", prefix, order, side, ext)
}
