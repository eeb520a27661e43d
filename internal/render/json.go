package render

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// JSONRenderer renders values as relaxed JSON.
type JSONRenderer struct {
	api    jsoniter.API
	indent bool
}

// NewJSONRenderer renders with jsoniter without HTML escaping. indent pretty
// prints with two spaces.
func NewJSONRenderer(indent bool) Renderer {
	return &JSONRenderer{api: jsonAPI, indent: indent}
}

func (r *JSONRenderer) Render(v any) ([]byte, error) {
	v = Normalize(v)
	if r.indent {
		return r.api.MarshalIndent(v, "", "  ")
	}
	return r.api.Marshal(v)
}

func (r *JSONRenderer) RenderTo(w io.Writer, v any) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	data, err := r.Render(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "writing json")
	}
	return nil
}

func (r *JSONRenderer) ContentType() string {
	return "application/json"
}
