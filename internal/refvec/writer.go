package refvec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/fusednorm/pkg/norm"
)

// Writer accumulates tensors and cases in memory and serializes them with
// WriteTo. Reference-vector files are small; nothing is streamed.
type Writer struct {
	idx     index
	payload []byte
	seen    map[string]struct{}
}

func NewWriter() *Writer {
	return &Writer{seen: make(map[string]struct{})}
}

// AddTensor registers b under name. Names must be unique within a file.
func (w *Writer) AddTensor(name string, b *norm.Buffer) error {
	if _, dup := w.seen[name]; dup {
		return fmt.Errorf("refvec: duplicate tensor %q", name)
	}
	w.seen[name] = struct{}{}

	raw := encode(b)
	w.idx.Tensors = append(w.idx.Tensors, TensorDesc{
		Name:   name,
		DType:  b.DType().String(),
		Shape:  b.Shape(),
		Offset: int64(len(w.payload)),
		Length: int64(len(raw)),
	})
	w.payload = append(w.payload, raw...)
	return nil
}

// AddCase appends c. Every tensor it references must already be added.
func (w *Writer) AddCase(c Case) error {
	if c.Op != OpLayerNorm && c.Op != OpRMSNorm {
		return fmt.Errorf("refvec: unknown op %q", c.Op)
	}
	for role, name := range c.Tensors {
		if _, ok := w.seen[name]; !ok {
			return fmt.Errorf("refvec: case %q references missing tensor %q for %s", c.Name, name, role)
		}
	}
	w.idx.Cases = append(w.idx.Cases, c)
	return nil
}

// WriteTo serializes the file.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	idxBytes, err := json.Marshal(w.idx)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 0, headerSize+len(idxBytes)+len(w.payload))
	buf = append(buf, magic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(idxBytes)))
	buf = append(buf, idxBytes...)
	buf = append(buf, w.payload...)

	n, err := out.Write(buf)
	return int64(n), err
}

func encode(b *norm.Buffer) []byte {
	out := make([]byte, 0, b.Len()*b.DType().Size())
	switch b.DType() {
	case norm.F16, norm.BF16:
		for _, v := range b.Bits16() {
			out = binary.LittleEndian.AppendUint16(out, v)
		}
	case norm.F32:
		for _, v := range b.Float32s() {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	default:
		for _, v := range b.Float64s() {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}
	return out
}
