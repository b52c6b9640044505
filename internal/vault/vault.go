// Package vault is the recordings catalog: closed segments the camera
// uploads land in a MinIO bucket, keyed by video id, with the descriptive
// fields kept as object metadata.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("video not found")

// Metadata keys stored with each object. MinIO exposes them back as
// X-Amz-Meta-* headers.
const (
	metaTitle       = "title"
	metaCameraID    = "camera-id"
	metaDescription = "description"
	metaLocation    = "location"
	metaTimestamp   = "timestamp"
	metaFilename    = "filename"
)

// Video is one catalog entry.
type Video struct {
	VideoID     string    `json:"video_id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	CameraID    string    `json:"camera_id"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// UploadRequest carries the multipart fields.
type UploadRequest struct {
	Title       string
	CameraID    string
	Description string
	Location    string
	Timestamp   string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Config for the MinIO connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Vault wraps the MinIO client for one bucket.
type Vault struct {
	client *minio.Client
	bucket string
}

// New connects and creates the bucket when missing.
func New(ctx context.Context, cfg Config) (*Vault, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connect: %w", err)
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "recordings"
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("bucket create: %w", err)
		}
	}
	return &Vault{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores one recording and returns its catalog entry.
func (v *Vault) Upload(ctx context.Context, req UploadRequest) (*Video, error) {
	if req.ContentType == "" || !strings.HasPrefix(req.ContentType, "video/") {
		return nil, fmt.Errorf("unsupported content type %q", req.ContentType)
	}
	videoID := uuid.New().String()

	meta := map[string]string{
		metaTitle:    req.Title,
		metaCameraID: req.CameraID,
		metaFilename: req.Filename,
	}
	if req.Description != "" {
		meta[metaDescription] = req.Description
	}
	if req.Location != "" {
		meta[metaLocation] = req.Location
	}
	if req.Timestamp != "" {
		meta[metaTimestamp] = req.Timestamp
	}

	info, err := v.client.PutObject(ctx, v.bucket, videoID, req.Body, req.Size, minio.PutObjectOptions{
		ContentType:  req.ContentType,
		UserMetadata: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	return &Video{
		VideoID:     videoID,
		Filename:    req.Filename,
		Title:       req.Title,
		CameraID:    req.CameraID,
		Description: req.Description,
		Location:    req.Location,
		Timestamp:   req.Timestamp,
		SizeBytes:   info.Size,
		ContentType: req.ContentType,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

// List returns the catalog, newest upload first.
func (v *Vault) List(ctx context.Context) ([]Video, error) {
	var out []Video
	for obj := range v.client.ListObjects(ctx, v.bucket, minio.ListObjectsOptions{WithMetadata: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		// Listing metadata can be elided by some gateways; stat fills it in.
		stat, err := v.client.StatObject(ctx, v.bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			continue
		}
		out = append(out, videoFromStat(obj.Key, stat))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// Get returns one entry with a presigned download URL.
func (v *Vault) Get(ctx context.Context, videoID string) (*Video, error) {
	stat, err := v.client.StatObject(ctx, v.bucket, videoID, minio.StatObjectOptions{})
	if err != nil {
		var mErr minio.ErrorResponse
		if errors.As(err, &mErr) && mErr.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}

	video := videoFromStat(videoID, stat)
	signed, err := v.client.PresignedGetObject(ctx, v.bucket, videoID, time.Hour, url.Values{})
	if err == nil {
		video.DownloadURL = signed.String()
	}
	return &video, nil
}

func videoFromStat(key string, stat minio.ObjectInfo) Video {
	get := func(k string) string {
		if s := stat.UserMetadata[http2meta(k)]; s != "" {
			return s
		}
		return stat.UserMetadata[k]
	}
	return Video{
		VideoID:     key,
		Filename:    get(metaFilename),
		Title:       get(metaTitle),
		CameraID:    get(metaCameraID),
		Description: get(metaDescription),
		Location:    get(metaLocation),
		Timestamp:   get(metaTimestamp),
		SizeBytes:   stat.Size,
		ContentType: stat.ContentType,
		UploadedAt:  stat.LastModified,
	}
}

// http2meta maps our lowercase keys to the canonical header form MinIO
// returns ("camera-id" -> "Camera-Id").
func http2meta(k string) string {
	parts := strings.Split(k, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// ParseSize is a helper for handlers reading Content-Length style fields.
func ParseSize(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
