// Package checkpoint stores model parameters in the safetensors layout: an
// 8-byte little-endian header length, a JSON header describing every tensor
// and a string metadata map, then the raw little-endian F32 payload.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

var (
	ErrTensorNotFound = errors.New("checkpoint: tensor not found")
	ErrShapeMismatch  = errors.New("checkpoint: shape mismatch")
	ErrCorruptFile    = errors.New("checkpoint: corrupt file")
	ErrNoCheckpoint   = errors.New("checkpoint: no checkpoint found")
)

const (
	dtypeF32    = "F32"
	metadataKey = "__metadata__"
	// maxHeaderLen bounds the JSON header read from an untrusted file.
	maxHeaderLen = 100 << 20
)

// TensorInfo describes one stored tensor.  Offsets are relative to the
// start of the payload.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// File is an opened checkpoint.  The payload is memory-mapped when the
// platform allows it.
type File struct {
	Path    string
	Tensors map[string]TensorInfo

	data      []byte
	dataStart int64
	meta      map[string]string
	mmapped   bool
}

// Open maps path read-only and parses its header.  If mmap fails the file
// is read into memory instead.  The returned File must be closed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < 8 || size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s: size %d", ErrCorruptFile, path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	mmapped := err == nil
	if !mmapped {
		if data, err = readAllAt(f, int(size)); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cf, err := parse(path, data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	cf.mmapped = mmapped
	return cf, nil
}

func parse(path string, data []byte) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: %s: header length %d", ErrCorruptFile, path, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: header: %v", ErrCorruptFile, path, err)
	}

	cf := &File{
		Path:      path,
		Tensors:   make(map[string]TensorInfo, len(raw)),
		data:      data,
		dataStart: int64(8 + headerLen),
		meta:      map[string]string{},
	}
	payload := int64(len(data)) - cf.dataStart
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &cf.meta); err != nil {
				return nil, fmt.Errorf("%w: %s: metadata: %v", ErrCorruptFile, path, err)
			}
			continue
		}
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorruptFile, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > payload {
			return nil, fmt.Errorf("%w: tensor %s: data_offsets %v", ErrCorruptFile, name, th.DataOffsets)
		}
		cf.Tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return cf, nil
}

// Close releases the mapping.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	return err
}

// Size returns the total file size in bytes.
func (f *File) Size() int64 { return int64(len(f.data)) }

// ReadTensorF32 decodes a stored F32 tensor.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if info.DType != dtypeF32 {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	raw := f.data[f.dataStart+info.Start : f.dataStart+info.End]
	if len(raw) != n*4 {
		return nil, TensorInfo{}, fmt.Errorf("%w: tensor %s: %d bytes for %d values", ErrCorruptFile, name, len(raw), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, info, nil
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > int(^uint(0)>>1)/d {
			return 0, errors.New("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int
	for off < size {
		n, err := r.ReadAt(out[off:], int64(off))
		off += n
		if err != nil {
			if err == io.EOF && off == size {
				break
			}
			return nil, err
		}
	}
	return out, nil
}
