package storage

import (
	"strings"

	"github.com/timmy/paperpilot/internal/config"
)

// NewStorage creates the archive store described by cfg.
// Parameters:
//   - cfg: storage section of the service configuration.
//
// Returns:
//   - ObjectStorage: initialized S3-compatible client.
//   - error: non-nil if the client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	storeType := StorageType(cfg.Type)
	if storeType == "" {
		storeType = detectStorageType(cfg.Endpoint)
	}
	return NewS3Storage(&S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	})
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
