// Package memory provides an in-memory archive for mock mode and tests.
package memory

import (
	"context"
	"sync"
)

// Object is one archived artifact.
type Object struct {
	ContentType string
	Data        []byte
}

// Archive implements scraper.Archive with a mutex-guarded map.
type Archive struct {
	mu      sync.Mutex
	objects map[string]Object
}

// New creates an empty Archive.
func New() *Archive {
	return &Archive{objects: make(map[string]Object)}
}

// Save records the artifact and returns a mem:// URI.
func (a *Archive) Save(_ context.Context, path string, contentType string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = Object{
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return "mem://" + path, nil
}

// Get returns an archived artifact by path.
func (a *Archive) Get(path string) (Object, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[path]
	return obj, ok
}

// Len returns the number of archived artifacts.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}
