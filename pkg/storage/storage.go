package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("not found")

// Storage is where session transcripts and other artifacts end up.
type Storage interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open builds a Storage from a target string: "s3://bucket/prefix" selects S3,
// anything else is treated as a local directory.
func Open(ctx context.Context, target, region string) (Storage, error) {
	if rest, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid s3 target %q", target)
		}
		return NewS3Storage(ctx, bucket, prefix, region)
	}
	return NewLocalStorage(target)
}
