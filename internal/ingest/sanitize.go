package ingest

import (
	"path"
	"strings"
	"time"
	"unicode"

	"mindia/internal/apperror"
)

// sanitizeFilename strips any path component, drops control characters, and
// truncates to a sane length, the "strip path components, reject control
// chars, truncate" rule of §4.N step 3.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		cleaned = "upload"
	}
	if len(cleaned) > maxFilenameLength {
		ext := path.Ext(cleaned)
		cleaned = cleaned[:maxFilenameLength-len(ext)] + ext
	}
	return cleaned
}

// extensionOf returns filename's extension, lowercased and without the dot.
func extensionOf(filename string) string {
	ext := path.Ext(filename)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func validateExtension(filename string, allowed []string) (string, error) {
	ext := extensionOf(filename)
	if ext == "" {
		return "", apperror.InvalidInput("filename has no extension")
	}
	for _, a := range allowed {
		if ext == a {
			return ext, nil
		}
	}
	return "", apperror.InvalidInput("file extension not allowed: " + ext)
}

func validateContentType(contentType string, allowed []string) error {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, a := range allowed {
		if ct == a {
			return nil
		}
	}
	return apperror.InvalidInput("content type not allowed: " + contentType)
}

// extensionContentTypeConsistent reports whether an extension belongs to the
// coarse media family of the content-type's own top-level type, so a ".pdf"
// upload can't claim "image/jpeg". Only image, video and audio content types
// are checked; any other top-level type is accepted.
func extensionContentTypeConsistent(ext, contentType string) bool {
	family := strings.SplitN(contentType, "/", 2)[0]
	switch family {
	case "image":
		return isOneOf(ext, "jpg", "jpeg", "png", "gif", "webp")
	case "video":
		return isOneOf(ext, "mp4", "mov", "webm", "mkv")
	case "audio":
		return isOneOf(ext, "mp3", "wav", "ogg", "m4a")
	default:
		return true
	}
}

func isOneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// parseStoreParam interprets the `store` query parameter of §4.N step 6:
// "0" is temporary, "1" is permanent, and "auto", an empty value, or any
// other value defers to the tenant/system default.
func parseStoreParam(store string, defaultPermanent bool, defaultExpiry time.Duration, now time.Time) (permanent bool, expiresAt *time.Time) {
	switch strings.ToLower(strings.TrimSpace(store)) {
	case "0":
		permanent = false
	case "1":
		permanent = true
	case "", "auto":
		permanent = defaultPermanent
	default:
		permanent = defaultPermanent
	}
	if permanent {
		return true, nil
	}
	expiry := now.Add(defaultExpiry)
	return false, &expiry
}
