// Package data turns text into model inputs: a character vocabulary,
// source/target pair corpora, padded batches and pretrained embedding
// tables.
package data

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

// Reserved tokens.  Their ids are fixed and match seq2seq.PadID, GoID and
// EOSID.
const (
	PadToken = "<pad>"
	GoToken  = "<go>"
	EOSToken = "<eos>"
	UnkToken = "<unk>"
)

const (
	PadID = iota
	GoID
	EOSID
	UnkID
)

var reserved = []string{PadToken, GoToken, EOSToken, UnkToken}

// ErrInvalidVocab is returned when a vocabulary file is malformed.
var ErrInvalidVocab = errors.New("invalid vocabulary")

// Vocab maps characters to ids.
type Vocab struct {
	tokens []string
	index  map[string]int
}

// NewVocab builds a vocabulary from an ordered token list.  The list must
// start with the reserved tokens and contain no duplicates.
func NewVocab(tokens []string) (*Vocab, error) {
	if len(tokens) < len(reserved) {
		return nil, fmt.Errorf("%w: %d tokens, need at least %d", ErrInvalidVocab, len(tokens), len(reserved))
	}
	for i, r := range reserved {
		if tokens[i] != r {
			return nil, fmt.Errorf("%w: token %d is %q, expected %q", ErrInvalidVocab, i, tokens[i], r)
		}
	}
	v := &Vocab{tokens: slices.Clone(tokens), index: make(map[string]int, len(tokens))}
	for i, tok := range v.tokens {
		if _, dup := v.index[tok]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q", ErrInvalidVocab, tok)
		}
		v.index[tok] = i
	}
	return v, nil
}

// BuildVocab counts the characters of texts and keeps the maxSize-4 most
// frequent ones after the reserved tokens.  Ties are broken by character
// order.  maxSize <= 0 keeps every character.
func BuildVocab(texts []string, maxSize int) *Vocab {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, r := range text {
			counts[string(r)]++
		}
	}
	for _, r := range reserved {
		delete(counts, r)
	}

	chars := make([]string, 0, len(counts))
	for c := range counts {
		chars = append(chars, c)
	}
	slices.SortFunc(chars, func(a, b string) int {
		if n := cmp.Compare(counts[b], counts[a]); n != 0 {
			return n
		}
		return strings.Compare(a, b)
	})
	if maxSize > 0 {
		chars = chars[:min(len(chars), max(0, maxSize-len(reserved)))]
	}

	v, _ := NewVocab(append(slices.Clone(reserved), chars...))
	return v
}

// Size returns the number of tokens including reserved ones.
func (v *Vocab) Size() int { return len(v.tokens) }

// Tokens returns the token list in id order.
func (v *Vocab) Tokens() []string { return slices.Clone(v.tokens) }

// ID returns the id of tok, or UnkID.
func (v *Vocab) ID(tok string) int {
	if id, ok := v.index[tok]; ok {
		return id
	}
	return UnkID
}

// Token returns the token for id, or UnkToken when out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return UnkToken
	}
	return v.tokens[id]
}

// Encode maps every character of text to its id.
func (v *Vocab) Encode(text string) []int {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		ids = append(ids, v.ID(string(r)))
	}
	return ids
}

// Decode joins the tokens of ids.  It stops at the first end token and skips
// pad and start tokens.
func (v *Vocab) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		switch id {
		case EOSID:
			return sb.String()
		case PadID, GoID:
			continue
		}
		sb.WriteString(v.Token(id))
	}
	return sb.String()
}

type vocabFile struct {
	Tokens []string `json:"tokens"`
}

// Save writes the vocabulary as JSON.
func (v *Vocab) Save(path string) error {
	raw, err := json.MarshalIndent(vocabFile{Tokens: v.tokens}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vocab: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vocab dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write vocab: %w", err)
	}
	return nil
}

// LoadVocab reads a vocabulary written by Save.
func LoadVocab(path string) (*Vocab, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	var f vocabFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidVocab, path, err)
	}
	return NewVocab(f.Tokens)
}
