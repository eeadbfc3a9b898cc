package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"DubbingPlatform-server/config"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object ref has no backing object.
var ErrNotFound = errors.New("object not found")

// Store is the artifact storage the pipeline and the ledger read and write.
// A ref is a slash separated object key.
type Store interface {
	Exists(ctx context.Context, ref string) (bool, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Put(ctx context.Context, ref string, r io.Reader, size int64) error
	Copy(ctx context.Context, srcRef, dstRef string) error
	URL(ctx context.Context, ref string) (string, error)
}

// New builds the configured backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "local":
		return NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.BaseURL)
	case "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// UploadKey builds a collision free key for a client upload under prefix.
func UploadKey(prefix, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join(prefix, uuid.NewString()+ext)
}

// DerivedKey names a new object next to ref, e.g. a watermarked copy.
func DerivedKey(ref, tag string) string {
	dir, file := path.Split(ref)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return path.Join(dir, fmt.Sprintf("%s_%s_%s%s", base, tag, uuid.NewString()[:8], ext))
}

func contentTypeFor(ref string) string {
	switch strings.ToLower(path.Ext(ref)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

func cleanRef(ref string) (string, error) {
	ref = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(ref)), "/")
	if ref == "" || ref == "." {
		return "", fmt.Errorf("invalid object ref %q", ref)
	}
	return ref, nil
}
