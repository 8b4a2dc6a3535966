package refvec

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	json "github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/fusednorm/pkg/norm"
)

// File is an opened reference-vector file. Close releases the mapping when
// the file was mmapped.
type File struct {
	Cases []Case

	data    []byte // payload area
	tensors map[string]TensorDesc
	raw     []byte // full mapping, nil unless mmapped
}

// Open maps a reference-vector file read-only and validates its structure.
// If mmap is unavailable it falls back to ReadAt-based loading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		rf, parseErr := parse(data, data)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return rf, nil
	}

	// Fallback path that does not require mmap support.
	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parse(data, nil)
}

// OpenReaderAt loads a reference-vector file from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < headerSize || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parse(data, nil)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parse(data, raw []byte) (*File, error) {
	if string(data[:4]) != magic {
		return nil, ErrInvalidMagic
	}
	idxLen := int(binary.LittleEndian.Uint32(data[4:8]))
	if idxLen < 0 || headerSize+idxLen > len(data) {
		return nil, ErrCorruptFile
	}

	var idx index
	if err := json.Unmarshal(data[headerSize:headerSize+idxLen], &idx); err != nil {
		return nil, ErrCorruptFile
	}

	payload := data[headerSize+idxLen:]
	tensors := make(map[string]TensorDesc, len(idx.Tensors))
	for _, td := range idx.Tensors {
		dt, err := norm.ParseDType(td.DType)
		if err != nil {
			return nil, ErrCorruptFile
		}
		want := int64(norm.Shape(td.Shape).Elems() * dt.Size())
		if td.Offset < 0 || td.Length != want || td.Offset+td.Length > int64(len(payload)) {
			return nil, ErrCorruptFile
		}
		tensors[td.Name] = td
	}

	return &File{Cases: idx.Cases, data: payload, tensors: tensors, raw: raw}, nil
}

// Tensor decodes the named tensor into a fresh Buffer.
func (f *File) Tensor(name string) (*norm.Buffer, error) {
	td, ok := f.tensors[name]
	if !ok {
		return nil, ErrCorruptFile
	}
	dt, err := norm.ParseDType(td.DType)
	if err != nil {
		return nil, ErrCorruptFile
	}
	raw := f.data[td.Offset : td.Offset+td.Length]
	shape := norm.Shape(td.Shape)
	n := shape.Elems()

	switch dt {
	case norm.F16, norm.BF16:
		bits := make([]uint16, n)
		for i := range bits {
			bits[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return norm.FromBits(dt, shape, bits), nil
	case norm.F32:
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return norm.FromFloat32(shape, vals), nil
	default:
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return norm.FromFloat64(shape, vals), nil
	}
}

// Close releases the mmap, if any. The File must not be used afterwards.
func (f *File) Close() error {
	if f.raw != nil {
		data := f.raw
		f.raw, f.data = nil, nil
		return unix.Munmap(data)
	}
	return nil
}
