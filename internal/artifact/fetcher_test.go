package artifact_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/dementia-api/internal/artifact"
)

type fakeS3 struct {
	objects map[string][]byte
	calls   atomic.Int32
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls.Add(1)
	data, ok := f.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.ToString(params.Key))
	}
	n := int64(len(data))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(n),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", n-1, n)),
	}, nil
}

func TestFetchLocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	f := artifact.NewFetcher(artifact.Config{CacheDir: t.TempDir()})

	got, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	got, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFetchLocalErrors(t *testing.T) {
	f := artifact.NewFetcher(artifact.Config{CacheDir: t.TempDir()})

	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.onnx"))
	assert.ErrorContains(t, err, "artifact not found")

	_, err = f.Fetch(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "is a directory")

	_, err = f.Fetch(context.Background(), "  ")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "ftp://host/model.onnx")
	assert.ErrorContains(t, err, "unsupported artifact scheme")
}

func TestFetchHTTPDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/models/vit.onnx" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("onnx-bytes"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	f := artifact.NewFetcher(artifact.Config{CacheDir: cache})

	path, err := f.Fetch(context.Background(), srv.URL+"/models/vit.onnx")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, cache))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))

	again, err := f.Fetch(context.Background(), srv.URL+"/models/vit.onnx")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchHTTPErrorLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	cache := t.TempDir()
	f := artifact.NewFetcher(artifact.Config{CacheDir: cache})

	_, err := f.Fetch(context.Background(), srv.URL+"/missing.onnx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	var files []string
	filepath.WalkDir(cache, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	assert.Empty(t, files)
}

func TestFetchS3(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{
		"models/dementia/vit.onnx": []byte("s3-weights"),
	}}
	f := artifact.NewFetcher(artifact.Config{CacheDir: t.TempDir()}, artifact.WithS3Client(client))

	path, err := f.Fetch(context.Background(), "s3://models/dementia/vit.onnx")
	require.NoError(t, err)
	assert.Equal(t, "vit.onnx", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3-weights", string(data))

	calls := client.calls.Load()
	_, err = f.Fetch(context.Background(), "s3://models/dementia/vit.onnx")
	require.NoError(t, err)
	assert.Equal(t, calls, client.calls.Load())
}

func TestFetchS3Errors(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	f := artifact.NewFetcher(artifact.Config{CacheDir: t.TempDir()}, artifact.WithS3Client(client))

	_, err := f.Fetch(context.Background(), "s3://models/absent.onnx")
	assert.ErrorContains(t, err, "failed to download file s3://models/absent.onnx")

	_, err = f.Fetch(context.Background(), "s3://models")
	assert.ErrorContains(t, err, "expected s3://bucket/key")
}
