package render

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackRenderer renders values as MessagePack.
type MsgpackRenderer struct{}

// NewMsgpackRenderer returns a MessagePack renderer.
func NewMsgpackRenderer() Renderer {
	return &MsgpackRenderer{}
}

func (r *MsgpackRenderer) Render(v any) ([]byte, error) {
	return msgpack.Marshal(Normalize(v))
}

func (r *MsgpackRenderer) RenderTo(w io.Writer, v any) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	return msgpack.NewEncoder(w).Encode(Normalize(v))
}

func (r *MsgpackRenderer) ContentType() string {
	return "application/msgpack"
}
