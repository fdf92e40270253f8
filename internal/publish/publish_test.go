package publish

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 accepts PutObject requests and keeps bodies in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	status  int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		return &http.Response{StatusCode: f.status, Body: io.NopCloser(strings.NewReader("<Error><Code>AccessDenied</Code></Error>")), Header: http.Header{}}, nil
	}
	if req.Method != http.MethodPut {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	body, _ := io.ReadAll(req.Body)
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		body = decodeChunked(body)
	}
	key := strings.TrimPrefix(req.URL.Path, "/")
	f.objects[key] = body
	f.types[key] = req.Header.Get("Content-Type")
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {"\"etag\""}}}, nil
}

// decodeChunked reads the first chunk of an aws-chunked payload.
func decodeChunked(b []byte) []byte {
	line := bytes.IndexByte(b, '\n')
	if line < 0 {
		return b
	}
	header := strings.TrimSpace(string(b[:line]))
	header, _, _ = strings.Cut(header, ";")
	size, err := strconv.ParseInt(header, 16, 64)
	if err != nil || int(size) > len(b)-line-1 {
		return b
	}
	return b[line+1 : line+1+int(size)]
}

func newTestPublisher(t *testing.T, rt *fakeS3) *S3Publisher {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return NewWithClient(client, "scenes-bucket", "/scenes/")
}

func TestPublish(t *testing.T) {
	rt := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	p := newTestPublisher(t, rt)

	local := filepath.Join(t.TempDir(), "plant_a_complete.glb")
	require.NoError(t, os.WriteFile(local, []byte("glTF-binary-payload"), 0644))

	uri, err := p.Publish(context.Background(), "plant_a", local)
	require.NoError(t, err)
	assert.Equal(t, "s3://scenes-bucket/scenes/plant_a/plant_a_complete.glb", uri)

	obj, ok := rt.objects["scenes-bucket/scenes/plant_a/plant_a_complete.glb"]
	require.True(t, ok, "object stored under bucket/key")
	assert.Equal(t, "glTF-binary-payload", string(obj))
	assert.Equal(t, sceneContentType, rt.types["scenes-bucket/scenes/plant_a/plant_a_complete.glb"])
}

func TestPublish_Errors(t *testing.T) {
	p := newTestPublisher(t, &fakeS3{objects: map[string][]byte{}, types: map[string]string{}, status: http.StatusForbidden})

	_, err := p.Publish(context.Background(), "plant_a", filepath.Join(t.TempDir(), "missing.glb"))
	assert.Error(t, err)

	local := filepath.Join(t.TempDir(), "scene.glb")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0644))
	_, err = p.Publish(context.Background(), "plant_a", local)
	assert.Error(t, err)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
