package document

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/logger"
)

var log = logger.ForComponent("document")

var ErrUnknownDocument = errors.New("unknown document")

// Registry holds the latest Buffer per URI.
type Registry struct {
	mu      sync.RWMutex
	buffers map[uri.URI]*Buffer
}

func NewRegistry() *Registry {
	return &Registry{buffers: make(map[uri.URI]*Buffer)}
}

// Open registers buf, replacing any previous snapshot of the same URI. A
// host-opened buffer takes ownership away from a disk-loaded one.
func (r *Registry) Open(buf *Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[buf.URI()] = buf
	log.Debug("document opened", "uri", buf.URI(), "language", buf.LanguageID(), "version", buf.Version())
}

// Update replaces the text of an open document with a full new snapshot.
func (r *Registry) Update(u uri.URI, version int32, text string) (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.buffers[u]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, u)
	}
	next := prev.withVersion(version, text)
	r.buffers[u] = next
	return next, nil
}

func (r *Registry) Close(u uri.URI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, u)
}

func (r *Registry) Get(u uri.URI) (*Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.buffers[u]
	return buf, ok
}

// GetOrLoad returns the open buffer for u, loading file URIs from disk when
// the host has not opened them.
func (r *Registry) GetOrLoad(u uri.URI) (*Buffer, error) {
	if buf, ok := r.Get(u); ok {
		return buf, nil
	}
	if !IsFileURI(u) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, u)
	}

	buf, err := Load(u.Filename())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.buffers[u]; ok {
		return existing, nil
	}
	r.buffers[u] = buf
	return buf, nil
}

// Reload re-reads a disk-loaded buffer. Host-owned buffers are left alone
// and returned unchanged.
func (r *Registry) Reload(u uri.URI) (*Buffer, error) {
	buf, ok := r.Get(u)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, u)
	}
	if !buf.FromDisk() {
		return buf, nil
	}

	fresh, err := Load(buf.Path())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.buffers[u]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, u)
	}
	if !current.FromDisk() {
		return current, nil
	}
	fresh = buf.withVersion(buf.Version()+1, fresh.Content())
	r.buffers[u] = fresh
	return fresh, nil
}

// Paths lists the filesystem paths of every open file-backed document.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var paths []string
	for u, buf := range r.buffers {
		if IsFileURI(u) {
			paths = append(paths, buf.Path())
		}
	}
	sort.Strings(paths)
	return paths
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buffers)
}
