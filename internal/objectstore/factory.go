package objectstore

import (
	"strings"

	"mindia/internal/apperror"
	"mindia/internal/config"
)

// NewFromConfig builds the Store selected by cfg.StorageBackend.
func NewFromConfig(cfg *config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "s3":
		return NewS3Store(S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKeyID,
			SecretKey:      cfg.S3SecretAccessKey,
			UseSSL:         true,
			PublicEndpoint: cfg.CDNBaseURL,
		})
	case "nfs":
		return NewNFSStore(cfg.NFSStorageRoot, cfg.CDNBaseURL)
	case "local", "":
		return NewLocalStore(cfg.LocalStorageRoot, cfg.CDNBaseURL)
	default:
		return nil, apperror.InvalidInput("unknown storage backend: " + cfg.StorageBackend)
	}
}
