package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ErrSigningUnavailable is returned when no URL signer is configured.
var ErrSigningUnavailable = errors.New("storage: signed urls not configured")

// LabelSource downloads a label document published by the carrier.
type LabelSource interface {
	DownloadLabel(ctx context.Context, labelURL string) (io.ReadCloser, string, error)
}

// ObjectWriter stores an object body.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, body io.Reader) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject streams body into bucket/object. The object is only committed when Close succeeds.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, body io.Reader) error {
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "private, max-age=0"
	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: commit %s: %w", object, err)
	}
	return nil
}

// LabelArchive copies carrier labels into the labels bucket and hands out short-lived download URLs.
// Carrier label links expire, the archived copy does not.
type LabelArchive struct {
	bucket string
	writer ObjectWriter
	source LabelSource
	urls   *Client
	ttl    time.Duration
}

// NewLabelArchive builds an archive. urls may be nil, in which case DownloadURL is unavailable.
func NewLabelArchive(bucket string, writer ObjectWriter, source LabelSource, urls *Client, ttl time.Duration) (*LabelArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if writer == nil || source == nil {
		return nil, errors.New("storage: label archive requires writer and source")
	}
	return &LabelArchive{bucket: bucket, writer: writer, source: source, urls: urls, ttl: ttl}, nil
}

// Archive downloads labelURL and stores it under the order's label path, returning the object name.
func (a *LabelArchive) Archive(ctx context.Context, orderID, shipmentID, labelURL string) (string, error) {
	if strings.TrimSpace(labelURL) == "" {
		return "", errors.New("storage: label url is required")
	}
	body, contentType, err := a.source.DownloadLabel(ctx, labelURL)
	if err != nil {
		return "", fmt.Errorf("storage: download label: %w", err)
	}
	defer body.Close()

	object, err := LabelObjectPath(orderID, shipmentID, contentType)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.writer.WriteObject(ctx, a.bucket, object, contentType, body); err != nil {
		return "", err
	}
	return object, nil
}

// DownloadURL signs a download link for an archived label. The caller must be an operator.
func (a *LabelArchive) DownloadURL(ctx context.Context, object string) (SignedURLResult, error) {
	if _, err := AuthorizeLabelDownloadFromContext(ctx); err != nil {
		return SignedURLResult{}, err
	}
	if a.urls == nil {
		return SignedURLResult{}, ErrSigningUnavailable
	}
	name := object[strings.LastIndex(object, "/")+1:]
	return a.urls.SignedDownloadURL(ctx, a.bucket, object, DownloadOptions{
		ExpiresIn:   a.ttl,
		Disposition: fmt.Sprintf("inline; filename=%q", name),
	})
}
