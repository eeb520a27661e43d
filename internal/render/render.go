// Package render turns dynamically decoded BSON values into text or
// msgpack for display.
package render

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Format selects a renderer.
type Format string

const (
	JSON    Format = "json"
	Msgpack Format = "msgpack"
)

// Renderer encodes a decoded BSON value.
type Renderer interface {
	// Render encodes v into a new byte slice.
	Render(v any) ([]byte, error)

	// RenderTo writes the encoding of v to w.
	RenderTo(w io.Writer, v any) error

	// ContentType returns the MIME type of the output.
	ContentType() string
}

// Registry maps formats to renderers.
type Registry struct {
	mu        sync.RWMutex
	renderers map[Format]Renderer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[Format]Renderer)}
}

// Register adds a renderer, replacing any previous one for format.
func (r *Registry) Register(format Format, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[format] = renderer
}

// Get returns the renderer registered for format.
func (r *Registry) Get(format Format) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[format]
	return renderer, ok
}

// New returns the renderer for format or an error naming it.
func (r *Registry) New(format Format) (Renderer, error) {
	renderer, ok := r.Get(format)
	if !ok {
		return nil, errors.Errorf("renderer for format %s not found", format)
	}
	return renderer, nil
}

// DefaultRegistry holds the JSON and msgpack renderers.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register(JSON, NewJSONRenderer(false))
	DefaultRegistry.Register(Msgpack, NewMsgpackRenderer())
}
