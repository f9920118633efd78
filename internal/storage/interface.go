package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrObjectNotFound is returned by Download when no object exists under key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the archive store for generated artifacts such as trend
// reports.
type ObjectStorage interface {
	// Upload writes an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens the object under key. Callers close the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// PutJSON encodes v and uploads it under key.
func PutJSON(ctx context.Context, s ObjectStorage, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Upload(ctx, key, bytes.NewReader(b), int64(len(b)), "application/json")
}

// GetJSON downloads the object under key and decodes it into v.
func GetJSON(ctx context.Context, s ObjectStorage, key string, v interface{}) error {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
