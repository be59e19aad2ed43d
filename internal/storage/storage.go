// Package storage uploads staged attachments to durable object storage.
package storage

import (
	"context"
	"errors"
	"strings"
)

// Object describes an uploaded blob.
type Object struct {
	Path string
	URL  string
}

// Store uploads a named object and returns where it can be read from.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (*Object, error)
}

var ErrInvalidKey = errors.New("storage: invalid key")

// validKey rejects empty keys and keys with "." or ".." segments.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
