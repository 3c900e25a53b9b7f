package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/payper-backend/internal/config"
)

type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.objects[aws.StringValue(in.Key)] = data
	f.types[aws.StringValue(in.Key)] = aws.StringValue(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func artifactServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		case "/clip.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte("mp4-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStorageServicePassThrough(t *testing.T) {
	svc, err := NewStorageService(config.AWSConfig{})
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	urls := []string{"https://provider.example.com/a.png"}
	out, err := svc.Rehost(context.Background(), "task-1", urls)
	require.NoError(t, err)
	assert.Equal(t, urls, out)
}

func TestStorageServiceRehost(t *testing.T) {
	srv := artifactServer(t)
	client := &fakeS3{}
	svc := NewStorageServiceWithClient(config.AWSConfig{
		S3Bucket:       "payper-artifacts",
		Region:         "us-east-1",
		CloudFrontURL:  "https://cdn.payper.example/",
		ArtifactFolder: "generations",
	}, client, srv.Client())
	require.True(t, svc.Enabled())

	out, err := svc.Rehost(context.Background(), "task/42", []string{srv.URL + "/image.png", srv.URL + "/clip.mp4"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.True(t, strings.HasPrefix(out[0], "https://cdn.payper.example/generations/"))
	assert.True(t, strings.HasSuffix(out[0], "/task_42_0.png"))
	assert.True(t, strings.HasSuffix(out[1], "/task_42_1.mp4"))

	require.Len(t, client.objects, 2)
	for key, data := range client.objects {
		if strings.HasSuffix(key, ".mp4") {
			assert.Equal(t, "mp4-bytes", string(data))
			assert.Equal(t, "video/mp4", client.types[key])
		}
	}
}

func TestStorageServiceRehostFailures(t *testing.T) {
	srv := artifactServer(t)

	t.Run("missing artifact", func(t *testing.T) {
		client := &fakeS3{}
		svc := NewStorageServiceWithClient(config.AWSConfig{S3Bucket: "b", Region: "us-east-1"}, client, srv.Client())
		_, err := svc.Rehost(context.Background(), "task-1", []string{srv.URL + "/image.png", srv.URL + "/gone.png"})
		assert.Error(t, err)
	})

	t.Run("upload error", func(t *testing.T) {
		client := &fakeS3{err: errors.New("access denied")}
		svc := NewStorageServiceWithClient(config.AWSConfig{S3Bucket: "b", Region: "us-east-1"}, client, srv.Client())
		_, err := svc.Rehost(context.Background(), "task-1", []string{srv.URL + "/image.png"})
		assert.ErrorContains(t, err, "access denied")
	})
}

func TestStorageServiceURLs(t *testing.T) {
	svc := NewStorageServiceWithClient(config.AWSConfig{S3Bucket: "payper", Region: "eu-west-1"}, &fakeS3{}, nil)

	assert.Equal(t, "https://payper.s3.eu-west-1.amazonaws.com/a/b.png", svc.getS3URL("a/b.png"))
	assert.True(t, strings.HasSuffix(svc.artifactKey("t1", 0, "https://x.example/out.webp?sig=1", "image/webp"), "/t1_0.webp"))
	assert.Equal(t, "abc_def-1", sanitizeKey("abc/def-1"))
}
