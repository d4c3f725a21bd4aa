package downloader

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Blob is an acquired media body held in memory for inline preview.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Registry owns in-memory blobs until they are released. Every handle
// returned by Put must eventually be passed to Release.
type Registry struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string]Blob
	bytes   uint64
}

// NewRegistry creates a registry whose local URLs are rooted at baseURL
// (for example "http://127.0.0.1:8787").
func NewRegistry(baseURL string) *Registry {
	return &Registry{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]Blob),
	}
}

// Put stores blob and returns its handle.
func (r *Registry) Put(blob Blob) string {
	handle := uuid.NewString()
	r.mu.Lock()
	r.blobs[handle] = blob
	r.bytes += uint64(len(blob.Data))
	r.mu.Unlock()
	return handle
}

// Get returns the blob for handle.
func (r *Registry) Get(handle string) (Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blob, ok := r.blobs[handle]
	return blob, ok
}

// Release frees the blob. It reports whether the handle was known.
func (r *Registry) Release(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[handle]
	if !ok {
		return false
	}
	delete(r.blobs, handle)
	r.bytes -= uint64(len(blob.Data))
	return true
}

// SetBaseURL changes the root of URLs returned by URL, for example once a
// server bound to port 0 knows its address.
func (r *Registry) SetBaseURL(baseURL string) {
	r.mu.Lock()
	r.baseURL = strings.TrimRight(baseURL, "/")
	r.mu.Unlock()
}

// URL returns the preview URL for handle.
func (r *Registry) URL(handle string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseURL + "/blobs/" + handle
}

// Len returns the number of live blobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Bytes returns the total size of live blobs.
func (r *Registry) Bytes() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bytes
}
