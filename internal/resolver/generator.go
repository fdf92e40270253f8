package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Generator turns one reference image into a mesh byte stream.
type Generator interface {
	Generate(ctx context.Context, imagePath string) (io.ReadCloser, error)
}

// HTTPGenerator posts the image as multipart field "file" and expects the
// GLB bytes back on a 2xx response.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

// NewHTTPGenerator creates a generator bounded by timeout per request.
func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewHTTPGeneratorWithClient uses the given client, typically one pointed at
// a test server.
func NewHTTPGeneratorWithClient(url string, client *http.Client) *HTTPGenerator {
	return &HTTPGenerator{url: url, client: client}
}

// Close releases idle connections.
func (g *HTTPGenerator) Close() {
	g.client.CloseIdleConnections()
}

// Generate uploads the image. The request is not tied to ctx cancellation:
// an in-flight generation runs to completion or to the client timeout, and
// callers that give up simply stop waiting.
func (g *HTTPGenerator) Generate(ctx context.Context, imagePath string) (io.ReadCloser, error) {
	body, contentType, err := multipartImage(imagePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, g.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "model/gltf-binary, application/octet-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, &RejectedError{Status: resp.StatusCode, Message: msg}
	default:
		msg := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
	}
}

func multipartImage(imagePath string) (*bytes.Buffer, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ctype := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath)))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(imagePath)))
	h.Set("Content-Type", ctype)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
