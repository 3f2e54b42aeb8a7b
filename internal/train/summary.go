package train

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// SummaryRecord is one line of a summary log.
type SummaryRecord struct {
	Step  int64     `json:"step"`
	Tag   string    `json:"tag"`
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// SummaryWriter appends scalar records to a JSON-lines file.
type SummaryWriter struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// NewSummaryWriter opens (or creates) path for appending.
func NewSummaryWriter(path string) (*SummaryWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create summary dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open summary: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &SummaryWriter{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Scalar records a single value.
func (w *SummaryWriter) Scalar(step int64, tag string, value float64) error {
	return w.Scalars(step, map[string]float64{tag: value})
}

// Scalars records several values of the same step, in tag order.
func (w *SummaryWriter) Scalars(step int64, values map[string]float64) error {
	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tag := range tags {
		if err := w.enc.Encode(SummaryRecord{Step: step, Tag: tag, Value: values[tag], Time: now}); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the file.
func (w *SummaryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadSummary parses a summary log.
func ReadSummary(r io.Reader) ([]SummaryRecord, error) {
	var out []SummaryRecord
	dec := json.NewDecoder(r)
	for {
		var rec SummaryRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, rec)
	}
}
