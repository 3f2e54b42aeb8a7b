package data

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/seqgen/internal/tensor"
)

// RandomEmbedding returns a [vocab x dim] table drawn from U(-0.1, 0.1).
func RandomEmbedding(vocab, dim int, seed int64) tensor.Mat {
	m := tensor.NewMat(vocab, dim)
	tensor.FillUniform(&m, rand.New(rand.NewSource(seed)), 0.1)
	return m
}

// LoadEmbedding reads text vectors, one "token v1 ... vdim" per line, into a
// table laid out by vocab.  Tokens missing from the file keep random values;
// tokens missing from the vocabulary are ignored.  A leading word2vec header
// ("count dim") is skipped.  It returns the table and the number of vocabulary
// entries found in the file.
func LoadEmbedding(path string, vocab *Vocab, dim int, seed int64) (tensor.Mat, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return tensor.Mat{}, 0, fmt.Errorf("open embedding: %w", err)
	}
	defer f.Close()

	table := RandomEmbedding(vocab.Size(), dim, seed)
	found := make(map[int]bool)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}
		if len(fields)-1 != dim {
			return tensor.Mat{}, 0, fmt.Errorf("embedding line %d: expected %d values, got %d", line, dim, len(fields)-1)
		}
		id, ok := vocab.index[fields[0]]
		if !ok {
			continue
		}
		row := table.Row(id)
		for j, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return tensor.Mat{}, 0, fmt.Errorf("embedding line %d: value %d: %w", line, j, err)
			}
			row[j] = float32(v)
		}
		found[id] = true
	}
	if err := sc.Err(); err != nil {
		return tensor.Mat{}, 0, fmt.Errorf("read embedding: %w", err)
	}
	return table, len(found), nil
}
