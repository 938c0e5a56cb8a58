package ingest

import (
	"time"

	"mindia/internal/models"
)

const maxFilenameLength = 200

// TypeConfig bounds one media type's accepted uploads.
type TypeConfig struct {
	MaxBytes         int64
	AllowedExtensions []string
	AllowedContentTypes []string
}

// Config controls validation, processing, and post-ingest dispatch. Built
// from internal/config.Config plus the per-type allowlists spec §4.N step 1
// checks against, the way transcode.Config is built from global config plus
// its own defaults.
type Config struct {
	Types                 map[models.MediaType]TypeConfig
	DefaultStorePermanently bool
	DefaultExpiry         time.Duration
	URLUploadTimeout      time.Duration
	AntivirusEnabled      bool
	AntivirusFailClosed   bool
	RemoveEXIF            bool
	SemanticSearchEnabled bool
	PresignedUploadExpiry time.Duration
	UploadPrefix          string
}

func defaultTypeConfigs(maxBytes int64) map[models.MediaType]TypeConfig {
	return map[models.MediaType]TypeConfig{
		models.MediaImage: {
			MaxBytes:            maxBytes,
			AllowedExtensions:    []string{"jpg", "jpeg", "png", "gif", "webp"},
			AllowedContentTypes:  []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		},
		models.MediaVideo: {
			MaxBytes:            maxBytes,
			AllowedExtensions:    []string{"mp4", "mov", "webm", "mkv"},
			AllowedContentTypes:  []string{"video/mp4", "video/quicktime", "video/webm", "video/x-matroska"},
		},
		models.MediaAudio: {
			MaxBytes:            maxBytes,
			AllowedExtensions:    []string{"mp3", "wav", "ogg", "m4a"},
			AllowedContentTypes:  []string{"audio/mpeg", "audio/wav", "audio/ogg", "audio/mp4", "audio/x-m4a"},
		},
		models.MediaDocument: {
			MaxBytes:            maxBytes,
			AllowedExtensions:    []string{"pdf", "doc", "docx", "txt", "csv"},
			AllowedContentTypes: []string{"application/pdf", "application/msword",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"text/plain", "text/csv"},
		},
	}
}

// NewConfig builds a Config with the default type allowlists, overridable
// per-field after construction.
func NewConfig(maxBytes int64, defaultStorePermanently bool, defaultExpiry, urlUploadTimeout time.Duration) Config {
	return Config{
		Types:                 defaultTypeConfigs(maxBytes),
		DefaultStorePermanently: defaultStorePermanently,
		DefaultExpiry:         defaultExpiry,
		URLUploadTimeout:      urlUploadTimeout,
		RemoveEXIF:            true,
		PresignedUploadExpiry: time.Hour,
		UploadPrefix:          "uploads",
	}
}

func (c Config) withDefaults() Config {
	if c.Types == nil {
		c.Types = defaultTypeConfigs(5 << 30)
	}
	if c.DefaultExpiry <= 0 {
		c.DefaultExpiry = 24 * time.Hour
	}
	if c.URLUploadTimeout <= 0 {
		c.URLUploadTimeout = 60 * time.Second
	}
	if c.PresignedUploadExpiry <= 0 {
		c.PresignedUploadExpiry = time.Hour
	}
	if c.UploadPrefix == "" {
		c.UploadPrefix = "uploads"
	}
	return c
}
