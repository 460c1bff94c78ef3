package blob

import (
	"context"
	"path/filepath"
	"testing"

	"familytree/internal/config"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  config.BlobConfig
		want Driver
	}{
		{"default fs", config.BlobConfig{Root: filepath.Join(t.TempDir(), "a")}, DriverFilesystem},
		{"fs", config.BlobConfig{Driver: "fs", Root: filepath.Join(t.TempDir(), "b")}, DriverFilesystem},
		{"memory", config.BlobConfig{Driver: "memory"}, DriverMemory},
		{"s3", config.BlobConfig{Driver: "s3", S3: config.S3Config{Bucket: "exports", Region: "eu-west-1"}}, DriverS3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, store.Driver())
			}
		})
	}
}

func TestOpenRejects(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.BlobConfig{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
