package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"cades.ai/internal/persistence/r2s3"
)

type r2MirrorRuntime struct {
	enabled bool
	mirror  *r2s3.Mirror
}

func buildR2MirrorRuntime(ctx context.Context, dataDir string, logger *log.Logger) (*r2MirrorRuntime, error) {
	enabled := envBool("CADES_R2_MIRROR", false)
	if !enabled {
		return &r2MirrorRuntime{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("CADES_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("CADES_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("CADES_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("CADES_R2_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("CADES_R2_PREFIX"))

	if bucket == "" {
		return nil, fmt.Errorf("CADES_R2_MIRROR=true but CADES_R2_BUCKET is empty")
	}

	client, err := r2s3.New(ctx, r2s3.Options{
		Endpoint:        endpoint,
		Bucket:          bucket,
		Region:          strings.TrimSpace(os.Getenv("CADES_R2_REGION")),
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	mirror := r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{
		Prefix:  prefix,
		Workers: envInt("CADES_R2_UPLOAD_WORKERS", 2),
		Logger:  logger,
	})
	logger.Printf("r2 mirror enabled bucket=%s prefix=%q", bucket, prefix)
	return &r2MirrorRuntime{enabled: true, mirror: mirror}, nil
}

func (r *r2MirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *r2MirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *r2MirrorRuntime) Stats() r2s3.Stats {
	if r == nil {
		return r2s3.Stats{}
	}
	return r.mirror.Stats()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
