// mesh_server.go - Fake mesh generation service for testing
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MeshServer is an httptest server standing in for the generation service.
// Each request pops the next scripted status; once the script runs out the
// last status repeats. A 200 answers with Body.
type MeshServer struct {
	*httptest.Server

	Body []byte

	mu       sync.Mutex
	statuses []int
	calls    atomic.Int32
	files    []string
}

// NewMeshServer starts a server answering with the given statuses in order.
func NewMeshServer(t *testing.T, body []byte, statuses ...int) *MeshServer {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	ms := &MeshServer{Body: body, statuses: statuses}
	ms.Server = httptest.NewServer(http.HandlerFunc(ms.handle))
	t.Cleanup(ms.Close)
	return ms
}

func (ms *MeshServer) handle(w http.ResponseWriter, r *http.Request) {
	ms.calls.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	io.Copy(io.Discard, file)
	file.Close()

	ms.mu.Lock()
	ms.files = append(ms.files, header.Filename)
	status := ms.statuses[0]
	if len(ms.statuses) > 1 {
		ms.statuses = ms.statuses[1:]
	}
	ms.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "model/gltf-binary")
	w.Write(ms.Body)
}

// Calls returns how many requests were received.
func (ms *MeshServer) Calls() int {
	return int(ms.calls.Load())
}

// Filenames returns the uploaded file names in request order.
func (ms *MeshServer) Filenames() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.files...)
}

// UnreachableURL returns an address nothing listens on.
func UnreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url + "/generate"
}
