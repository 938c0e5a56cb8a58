package objectstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mindia/internal/apperror"
)

// localStore backs media with a directory on the local filesystem. NFS
// mounts are configured identically: NewNFSStore is a thin alias since the
// spec treats an NFS mount as a path the process can read and write like
// any other local directory.
type localStore struct {
	root      string
	publicURL string
}

// NewLocalStore builds a Store rooted at root, creating it if necessary.
func NewLocalStore(root, publicBaseURL string) (Store, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperror.Storage(fmt.Errorf("create storage root %s: %w", root, err))
	}
	return &localStore{root: root, publicURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// NewNFSStore builds a Store over an NFS mount point, identical in
// operation to the local backend.
func NewNFSStore(mountRoot, publicBaseURL string) (Store, error) {
	return NewLocalStore(mountRoot, publicBaseURL)
}

func (l *localStore) resolve(key string) (string, error) {
	cleanKey := filepath.Clean("/" + strings.TrimLeft(key, "/"))
	full := filepath.Join(l.root, cleanKey)
	if !strings.HasPrefix(full, l.root) {
		return "", apperror.InvalidInput("object key escapes storage root")
	}
	return full, nil
}

func (l *localStore) Upload(ctx context.Context, key, contentType string, body []byte) (Object, error) {
	return l.UploadStream(ctx, key, contentType, strings.NewReader(string(body)), int64(len(body)))
}

func (l *localStore) UploadStream(_ context.Context, key, contentType string, body io.Reader, size int64) (Object, error) {
	path, err := l.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Object{}, apperror.Storage(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return Object{}, apperror.Storage(err)
	}
	defer f.Close()
	written, err := io.Copy(f, body)
	if err != nil {
		return Object{}, apperror.Storage(err)
	}
	if size > 0 && written != size {
		return Object{}, apperror.InvalidInput(fmt.Sprintf("expected %d bytes, wrote %d", size, written))
	}
	if contentType != "" {
		_ = os.WriteFile(path+".contenttype", []byte(contentType), 0o644)
	}
	return Object{Key: key, URL: l.objectURL(key), ContentType: contentType, Size: written}, nil
}

func (l *localStore) Download(_ context.Context, key string) ([]byte, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound(fmt.Sprintf("object %s not found", key))
		}
		return nil, apperror.Storage(err)
	}
	return data, nil
}

func (l *localStore) DownloadStream(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound(fmt.Sprintf("object %s not found", key))
		}
		return nil, apperror.Storage(err)
	}
	return f, nil
}

func (l *localStore) Delete(_ context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperror.Storage(err)
	}
	_ = os.Remove(path + ".contenttype")
	return nil
}

func (l *localStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if statErr == nil {
		return true, nil
	}
	if errors.Is(statErr, os.ErrNotExist) {
		return false, nil
	}
	return false, apperror.Storage(statErr)
}

func (l *localStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := l.Download(ctx, srcKey)
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(srcKey))
	_, err = l.Upload(ctx, dstKey, contentType, data)
	return err
}

// PresignPut returns a local pseudo-presigned URL carrying a base64 key and
// expiry for the dev/local HTTP handler to validate, since there is no
// separate storage service to delegate the PUT to in this backend.
func (l *localStore) PresignPut(_ context.Context, key, _ string, expiry time.Duration) (string, error) {
	return l.presign(key, expiry), nil
}

func (l *localStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return l.presign(key, expiry), nil
}

func (l *localStore) presign(key string, expiry time.Duration) string {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	expiresAt := time.Now().Add(expiry).Unix()
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	values := url.Values{}
	values.Set("key", encodedKey)
	values.Set("expires", fmt.Sprintf("%d", expiresAt))
	base := l.publicURL
	if base == "" {
		base = "/local-storage"
	}
	return base + "?" + values.Encode()
}

func (l *localStore) objectURL(key string) string {
	if l.publicURL == "" {
		return ""
	}
	return l.publicURL + "/" + strings.TrimLeft(key, "/")
}
