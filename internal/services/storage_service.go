// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/config"
)

const maxArtifactSize = 512 * 1024 * 1024 // 512MB

// ArtifactStore copies provider result files into storage we control.
type ArtifactStore interface {
	Rehost(ctx context.Context, taskID string, urls []string) ([]string, error)
}

// StorageService rehosts artifacts on S3. Without AWS credentials it passes URLs through.
type StorageService struct {
	s3Client   s3iface.S3API
	httpClient *http.Client
	config     config.AWSConfig
}

func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	svc := &StorageService{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		config:     cfg,
	}
	if cfg.AccessKeyID == "" {
		// Local development keeps provider URLs
		return svc, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	svc.s3Client = s3.New(sess)
	return svc, nil
}

// NewStorageServiceWithClient is used when the caller owns the S3 client.
func NewStorageServiceWithClient(cfg config.AWSConfig, client s3iface.S3API, httpClient *http.Client) *StorageService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &StorageService{s3Client: client, httpClient: httpClient, config: cfg}
}

func (s *StorageService) Enabled() bool {
	return s.s3Client != nil
}

// Rehost returns our URLs in the same order as the input. Any failure aborts the
// whole set so callers never mix hosted and provider URLs.
func (s *StorageService) Rehost(ctx context.Context, taskID string, urls []string) ([]string, error) {
	if s.s3Client == nil {
		return urls, nil
	}

	out := make([]string, 0, len(urls))
	for i, src := range urls {
		data, contentType, err := s.download(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to download artifact %d: %w", i, err)
		}

		key := s.artifactKey(taskID, i, src, contentType)
		if err := s.upload(ctx, key, data, contentType); err != nil {
			return nil, err
		}
		out = append(out, s.getS3URL(key))
	}

	logrus.WithFields(logrus.Fields{
		"task_id": taskID,
		"count":   len(out),
	}).Info("Artifacts rehosted")
	return out, nil
}

func (s *StorageService) download(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxArtifactSize {
		return nil, "", fmt.Errorf("artifact exceeds %d bytes", maxArtifactSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (s *StorageService) upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           aws.String("public-read"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *StorageService) artifactKey(taskID string, index int, src, contentType string) string {
	ext := ""
	if u, err := url.Parse(src); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" {
		if exts, err := mime.ExtensionsByType(strings.Split(contentType, ";")[0]); err == nil && len(exts) > 0 {
			ext = exts[len(exts)-1]
		}
	}

	name := fmt.Sprintf("%s/%s_%d%s", time.Now().UTC().Format("20060102"), sanitizeKey(taskID), index, ext)
	if s.config.ArtifactFolder != "" {
		return s.config.ArtifactFolder + "/" + name
	}
	return name
}

func (s *StorageService) getS3URL(key string) string {
	if s.config.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(s.config.CloudFrontURL, "/"), key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.S3Bucket, s.config.Region, key)
}

func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
