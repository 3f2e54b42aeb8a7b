package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/seqgen/internal/nn"
	"github.com/samcharles93/seqgen/internal/seq2seq"
)

// Metadata is stored in the header next to the tensors.
type Metadata struct {
	Config     seq2seq.Config
	GlobalStep int64
	Epoch      int
	RunID      string
	CreatedAt  time.Time
}

const formatName = "seqgen"

func (m Metadata) encode() (map[string]string, error) {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return map[string]string{
		"format":      formatName,
		"config":      string(cfg),
		"global_step": strconv.FormatInt(m.GlobalStep, 10),
		"epoch":       strconv.Itoa(m.Epoch),
		"run_id":      m.RunID,
		"created_at":  m.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// Metadata decodes the stored metadata.
func (f *File) Metadata() (Metadata, error) {
	var m Metadata
	if f.meta["format"] != formatName {
		return m, fmt.Errorf("%w: %s: not a %s checkpoint", ErrCorruptFile, f.Path, formatName)
	}
	if err := json.Unmarshal([]byte(f.meta["config"]), &m.Config); err != nil {
		return m, fmt.Errorf("%w: config: %v", ErrCorruptFile, err)
	}
	var err error
	if m.GlobalStep, err = strconv.ParseInt(f.meta["global_step"], 10, 64); err != nil {
		return m, fmt.Errorf("%w: global_step: %v", ErrCorruptFile, err)
	}
	if m.Epoch, err = strconv.Atoi(f.meta["epoch"]); err != nil {
		return m, fmt.Errorf("%w: epoch: %v", ErrCorruptFile, err)
	}
	m.RunID = f.meta["run_id"]
	if ts := f.meta["created_at"]; ts != "" {
		if m.CreatedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return m, fmt.Errorf("%w: created_at: %v", ErrCorruptFile, err)
		}
	}
	return m, nil
}

// Save writes every parameter to path.  The file is written next to path
// and renamed into place, so readers never see a partial checkpoint.  An
// empty RunID or zero CreatedAt is filled in.
func Save(path string, params *nn.Params, meta Metadata) error {
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	encoded, err := meta.encode()
	if err != nil {
		return err
	}

	header := make(map[string]any, len(params.All())+1)
	header[metadataKey] = encoded
	var offset int64
	for _, p := range params.All() {
		v := &p.Var.Value
		n := int64(v.R * v.C * 4)
		header[p.Name] = tensorHeader{DType: dtypeF32, Shape: []int{v.R, v.C}, DataOffsets: []int64{offset, offset + n}}
		offset += n
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	// Pad the header so the payload starts 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := writePayload(tmp, hdr, params); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func writePayload(f *os.File, hdr []byte, params *nn.Params) error {
	w := bufio.NewWriterSize(f, 1<<20)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	var word [4]byte
	for _, p := range params.All() {
		v := &p.Var.Value
		for i := 0; i < v.R; i++ {
			for _, x := range v.Row(i) {
				binary.LittleEndian.PutUint32(word[:], math.Float32bits(x))
				if _, err := w.Write(word[:]); err != nil {
					return err
				}
			}
		}
	}
	return w.Flush()
}

// Restore copies every registered parameter from f.  Every parameter must be
// present with a matching shape; extra tensors in f are ignored.
func Restore(f *File, params *nn.Params) error {
	for _, p := range params.All() {
		info, ok := f.Tensors[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTensorNotFound, p.Name)
		}
		v := &p.Var.Value
		if len(info.Shape) != 2 || info.Shape[0] != v.R || info.Shape[1] != v.C {
			return fmt.Errorf("%w: %s: stored %v, model [%d %d]", ErrShapeMismatch, p.Name, info.Shape, v.R, v.C)
		}
		values, _, err := f.ReadTensorF32(p.Name)
		if err != nil {
			return err
		}
		for i := 0; i < v.R; i++ {
			copy(v.Row(i), values[i*v.C:(i+1)*v.C])
		}
	}
	return nil
}

var ckptName = regexp.MustCompile(`^ckpt-(\d+)\.safetensors$`)

// PathFor returns the checkpoint path for step inside dir.
func PathFor(dir string, step int64) string {
	return filepath.Join(dir, fmt.Sprintf("ckpt-%d.safetensors", step))
}

// List returns the steps of every checkpoint in dir, ascending.
func List(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var steps []int64
	for _, e := range entries {
		m := ckptName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		step, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	slices.Sort(steps)
	return steps, nil
}

// Latest returns the path and step of the newest checkpoint in dir.
func Latest(dir string) (string, int64, error) {
	steps, err := List(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", 0, err
	}
	if len(steps) == 0 {
		return "", 0, fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}
	step := steps[len(steps)-1]
	return PathFor(dir, step), step, nil
}

// ReadMetadata opens the checkpoint at path just long enough to decode its
// metadata.
func ReadMetadata(path string) (Metadata, error) {
	f, err := Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = f.Close() }()
	return f.Metadata()
}

// Prune deletes all but the newest keep checkpoints in dir written by run.
// Checkpoints of other runs, and files whose metadata cannot be read, are
// left alone.  An empty run matches every checkpoint.
func Prune(dir, run string, keep int) error {
	steps, err := List(dir)
	if err != nil {
		return err
	}
	if run != "" {
		steps = slices.DeleteFunc(steps, func(step int64) bool {
			meta, err := ReadMetadata(PathFor(dir, step))
			return err != nil || meta.RunID != run
		})
	}
	for len(steps) > max(keep, 1) {
		if err := os.Remove(PathFor(dir, steps[0])); err != nil && !os.IsNotExist(err) {
			return err
		}
		steps = steps[1:]
	}
	return nil
}
