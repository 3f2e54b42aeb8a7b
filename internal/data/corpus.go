package data

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/samcharles93/seqgen/internal/seq2seq"
)

// ErrMalformedLine is returned for a corpus line without exactly one tab.
var ErrMalformedLine = errors.New("malformed corpus line")

// Pair is one training example: the keyword/context source and the target
// sentence.
type Pair struct {
	Source string
	Target string
}

// LoadPairs reads a corpus file, see ReadPairs.
func LoadPairs(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return ReadPairs(f)
}

// ReadPairs parses "source<TAB>target" lines.  Blank lines and lines
// starting with '#' are skipped.
func ReadPairs(r io.Reader) ([]Pair, error) {
	var pairs []Pair
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		src, tgt, ok := strings.Cut(text, "\t")
		if !ok || strings.Contains(tgt, "\t") {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedLine, line)
		}
		pairs = append(pairs, Pair{Source: src, Target: tgt})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return pairs, nil
}

// Texts returns every source and target string, for vocabulary building.
func Texts(pairs []Pair) []string {
	out := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		out = append(out, p.Source, p.Target)
	}
	return out
}

// Pad right-pads rows with PadID to a common width and returns the original
// lengths.  The width is at least minWidth.
func Pad(rows [][]int, minWidth int) ([][]int, []int) {
	width := minWidth
	for _, r := range rows {
		width = max(width, len(r))
	}
	out := make([][]int, len(rows))
	lengths := make([]int, len(rows))
	for i, r := range rows {
		row := make([]int, width)
		copy(row, r)
		for t := len(r); t < width; t++ {
			row[t] = PadID
		}
		out[i] = row
		lengths[i] = len(r)
	}
	return out, lengths
}

type example struct {
	source, target []int
}

// Batcher splits an encoded corpus into padded batches.
type Batcher struct {
	examples  []example
	batchSize int
	seed      int64
}

// NewBatcher encodes pairs with vocab.  Sequences longer than maxLen are
// truncated; maxLen <= 0 disables truncation.
func NewBatcher(pairs []Pair, vocab *Vocab, batchSize, maxLen int, seed int64) *Batcher {
	b := &Batcher{batchSize: max(1, batchSize), seed: seed}
	for _, p := range pairs {
		src, tgt := vocab.Encode(p.Source), vocab.Encode(p.Target)
		if maxLen > 0 {
			src = src[:min(len(src), maxLen)]
			tgt = tgt[:min(len(tgt), maxLen)]
		}
		b.examples = append(b.examples, example{source: src, target: tgt})
	}
	return b
}

// Examples returns the number of pairs.
func (b *Batcher) Examples() int { return len(b.examples) }

// Len returns the number of batches per epoch.  The last batch may be
// smaller than the batch size.
func (b *Batcher) Len() int {
	return (len(b.examples) + b.batchSize - 1) / b.batchSize
}

// Epoch returns the batches of one epoch.  The order is a shuffle seeded by
// the batcher seed and epoch, so a resumed run sees the same batches.
func (b *Batcher) Epoch(epoch int) []*seq2seq.Batch {
	order := rand.New(rand.NewSource(b.seed + int64(epoch))).Perm(len(b.examples))
	batches := make([]*seq2seq.Batch, 0, b.Len())
	for start := 0; start < len(order); start += b.batchSize {
		idx := order[start:min(start+b.batchSize, len(order))]
		src := make([][]int, len(idx))
		tgt := make([][]int, len(idx))
		for i, j := range idx {
			src[i] = b.examples[j].source
			tgt[i] = b.examples[j].target
		}
		encIn, encLen := Pad(src, 1)
		decIn, decLen := Pad(tgt, 0)
		batches = append(batches, &seq2seq.Batch{
			EncoderInputs:  encIn,
			EncoderLengths: encLen,
			DecoderInputs:  decIn,
			DecoderLengths: decLen,
		})
	}
	return batches
}
