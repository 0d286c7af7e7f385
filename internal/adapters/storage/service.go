// Package storage provides S3-compatible object storage for call recordings.
package storage

import (
	"context"
	"io"
)

// RecordingStore persists call audio.
type RecordingStore interface {
	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// PutRecording stores audio under key, replacing any previous object.
	// A negative size streams the reader until EOF.
	PutRecording(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error

	// ValidateContentType checks if the content type is an accepted audio format.
	ValidateContentType(contentType string) error

	// ValidateFileSize checks if the file size is within limits.
	ValidateFileSize(sizeBytes int64) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	IsMinIOEnabled() bool
}
