package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	objects map[string][]byte
}

func (m *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestPutGetJSON(t *testing.T) {
	s := &memStorage{objects: map[string][]byte{}}
	ctx := context.Background()

	in := map[string]int{"papers": 12}
	require.NoError(t, PutJSON(ctx, s, "trends/2025-06-01.json", in))

	var out map[string]int
	require.NoError(t, GetJSON(ctx, s, "trends/2025-06-01.json", &out))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, GetJSON(ctx, s, "missing", &out), ErrObjectNotFound)
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-east-1.amazonaws.com", StorageTypeS3},
		{"", StorageTypeS3},
		{"http://minio:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, detectStorageType(tt.endpoint))
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/bucket"))
	assert.Equal(t, "", normalizeEndpoint(""))
}
