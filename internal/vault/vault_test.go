package vault

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP2Meta(t *testing.T) {
	cases := map[string]string{
		"title":       "Title",
		"camera-id":   "Camera-Id",
		"description": "Description",
		"timestamp":   "Timestamp",
		"a--b":        "A--B",
	}
	for in, want := range cases {
		assert.Equal(t, want, http2meta(in), "http2meta(%q)", in)
	}
}

func TestParseSize(t *testing.T) {
	assert.Equal(t, int64(1024), ParseSize("1024"))
	assert.Equal(t, int64(0), ParseSize("0"))
	assert.Equal(t, int64(-1), ParseSize(""))
	assert.Equal(t, int64(-1), ParseSize("12MB"))
	assert.Equal(t, int64(-1), ParseSize("9223372036854775808"))
}

func TestVideoFromStat_ReadsCanonicalAndRawKeys(t *testing.T) {
	uploaded := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	stat := minio.ObjectInfo{
		Size:         2048,
		ContentType:  "video/mp4",
		LastModified: uploaded,
		UserMetadata: map[string]string{
			"Title":     "front gate",
			"Camera-Id": "cam-1",
			"filename":  "gate.mp4",
		},
	}

	v := videoFromStat("abc-123", stat)
	assert.Equal(t, "abc-123", v.VideoID)
	assert.Equal(t, "front gate", v.Title)
	assert.Equal(t, "cam-1", v.CameraID)
	// Keys that never went through header canonicalization still resolve.
	assert.Equal(t, "gate.mp4", v.Filename)
	assert.Equal(t, int64(2048), v.SizeBytes)
	assert.Equal(t, "video/mp4", v.ContentType)
	assert.Equal(t, uploaded, v.UploadedAt)
	assert.Empty(t, v.Description)
}

func TestUpload_RejectsNonVideoContentType(t *testing.T) {
	v := &Vault{bucket: "recordings"}

	for _, ct := range []string{"", "image/jpeg", "application/octet-stream"} {
		_, err := v.Upload(context.Background(), UploadRequest{
			Title:       "x",
			ContentType: ct,
			Body:        strings.NewReader("data"),
		})
		require.Error(t, err, "content type %q", ct)
		assert.Contains(t, err.Error(), "unsupported content type")
	}
}
