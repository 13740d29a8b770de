// Package snapshot exports the vendor catalog as JSON objects to
// S3-compatible storage.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nashiklocalkart/localkart/engine/domain"
)

// LatestKey always holds the most recent export.
const LatestKey = "catalog/latest.json"

// ErrNotConfigured is returned by a nil Exporter.
var ErrNotConfigured = errors.New("snapshot: object storage not configured")

// objectClient is the subset of *minio.Client used by Exporter.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds the MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// Document is the exported JSON body.
type Document struct {
	TakenAt    time.Time       `json:"takenAt"`
	Vendors    []domain.Vendor `json:"vendors"`
	Categories []string        `json:"categories"`
	Areas      []string        `json:"areas"`
}

// ObjectInfo describes a written export.
type ObjectInfo struct {
	Bucket  string    `json:"bucket"`
	Key     string    `json:"key"`
	Latest  string    `json:"latest"`
	Size    int64     `json:"size"`
	ETag    string    `json:"etag"`
	Vendors int       `json:"vendors"`
	TakenAt time.Time `json:"takenAt"`
}

// Exporter writes catalog snapshots to one bucket.
type Exporter struct {
	client objectClient
	bucket string
	region string
	log    *slog.Logger
	now    func() time.Time
}

// New connects to MinIO. Endpoint, keys and bucket are required.
func New(cfg Config, log *slog.Logger) (*Exporter, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, errors.New("snapshot: endpoint, access key, secret key and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: create minio client: %w", err)
	}
	return newExporter(client, cfg.Bucket, cfg.Region, log), nil
}

func newExporter(c objectClient, bucket, region string, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{client: c, bucket: bucket, region: region, log: log, now: time.Now}
}

// Key returns the dated object key for an export taken at t.
func Key(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("catalog/%04d/%02d/%02d/vendors-%d.json", t.Year(), t.Month(), t.Day(), t.Unix())
}

// ensureBucket creates the bucket when missing.
func (e *Exporter) ensureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("snapshot: check bucket %s: %w", e.bucket, err)
	}
	if exists {
		return nil
	}
	if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{Region: e.region}); err != nil {
		return fmt.Errorf("snapshot: create bucket %s: %w", e.bucket, err)
	}
	e.log.Info("snapshot bucket created", "bucket", e.bucket)
	return nil
}

func (e *Exporter) put(ctx context.Context, key string, data []byte) (minio.UploadInfo, error) {
	info, err := e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("snapshot: put %s: %w", key, err)
	}
	return info, nil
}

// Export writes the catalog to its dated key and to LatestKey.
func (e *Exporter) Export(ctx context.Context, c domain.Catalog) (ObjectInfo, error) {
	if e == nil {
		return ObjectInfo{}, ErrNotConfigured
	}
	if err := e.ensureBucket(ctx); err != nil {
		return ObjectInfo{}, err
	}

	doc := Document{
		TakenAt:    e.now().UTC().Truncate(time.Second),
		Vendors:    c.Vendors,
		Categories: c.Categories,
		Areas:      c.Areas,
	}
	if doc.Vendors == nil {
		doc.Vendors = []domain.Vendor{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("snapshot: encode: %w", err)
	}

	key := Key(doc.TakenAt)
	info, err := e.put(ctx, key, data)
	if err != nil {
		return ObjectInfo{}, err
	}
	if _, err := e.put(ctx, LatestKey, data); err != nil {
		return ObjectInfo{}, err
	}

	e.log.Info("catalog snapshot exported", "bucket", e.bucket, "key", key, "vendors", len(doc.Vendors), "bytes", len(data))
	return ObjectInfo{
		Bucket:  e.bucket,
		Key:     key,
		Latest:  LatestKey,
		Size:    int64(len(data)),
		ETag:    info.ETag,
		Vendors: len(doc.Vendors),
		TakenAt: doc.TakenAt,
	}, nil
}
