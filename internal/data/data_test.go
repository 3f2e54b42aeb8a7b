package data

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/seqgen/internal/seq2seq"
)

func TestReservedIDsMatchModel(t *testing.T) {
	t.Parallel()
	if PadID != seq2seq.PadID || GoID != seq2seq.GoID || EOSID != seq2seq.EOSID {
		t.Fatal("expected data and seq2seq reserved ids to agree")
	}
}

func TestBuildVocabOrdersByFrequency(t *testing.T) {
	t.Parallel()
	v := BuildVocab([]string{"abca", "cab", "a"}, 0)
	want := []string{PadToken, GoToken, EOSToken, UnkToken, "a", "b", "c"}
	got := v.Tokens()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	small := BuildVocab([]string{"abca", "cab", "a"}, 5)
	if small.Size() != 5 || small.ID("b") != UnkID {
		t.Fatalf("expected truncated vocab of 5 without b, got %v", small.Tokens())
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	v := BuildVocab([]string{"春眠不觉晓"}, 0)
	ids := v.Encode("春晓x")
	if len(ids) != 3 || ids[2] != UnkID {
		t.Fatalf("expected 3 ids ending in unk, got %v", ids)
	}
	out := v.Decode(append([]int{GoID}, append(v.Encode("不觉"), EOSID, v.ID("春"))...))
	if out != "不觉" {
		t.Fatalf("expected decode to stop at eos, got %q", out)
	}
}

func TestVocabSaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "vocab.json")
	v := BuildVocab([]string{"hello"}, 0)
	if err := v.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadVocab(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != v.Size() || loaded.ID("l") != v.ID("l") {
		t.Fatalf("expected identical vocab, got %v", loaded.Tokens())
	}
}

func TestNewVocabRejectsBadLayout(t *testing.T) {
	t.Parallel()
	if _, err := NewVocab([]string{"a", GoToken, EOSToken, UnkToken}); !errors.Is(err, ErrInvalidVocab) {
		t.Fatalf("expected ErrInvalidVocab, got %v", err)
	}
	if _, err := NewVocab([]string{PadToken, GoToken, EOSToken, UnkToken, "x", "x"}); !errors.Is(err, ErrInvalidVocab) {
		t.Fatalf("expected ErrInvalidVocab for duplicate, got %v", err)
	}
}

func TestReadPairs(t *testing.T) {
	t.Parallel()
	in := "# comment\n春\t春眠不觉晓\r\n\n花\t花落知多少\n"
	pairs, err := ReadPairs(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 || pairs[1].Source != "花" || pairs[0].Target != "春眠不觉晓" {
		t.Fatalf("unexpected pairs %+v", pairs)
	}

	_, err = ReadPairs(strings.NewReader("ok\tline\nno tab here\n"))
	if !errors.Is(err, ErrMalformedLine) || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected ErrMalformedLine at line 2, got %v", err)
	}
}

func TestPad(t *testing.T) {
	t.Parallel()
	rows, lengths := Pad([][]int{{5, 6, 7}, {}, {8}}, 1)
	if len(rows[1]) != 3 || lengths[1] != 0 || lengths[0] != 3 {
		t.Fatalf("unexpected pad result %v %v", rows, lengths)
	}
	rows, _ = Pad([][]int{{}}, 1)
	if len(rows[0]) != 1 {
		t.Fatalf("expected min width 1, got %v", rows)
	}
}

func TestBatcherEpochs(t *testing.T) {
	t.Parallel()
	pairs := []Pair{{"a", "bb"}, {"b", "a"}, {"ab", "b"}, {"ba", "aab"}, {"a", "a"}}
	v := BuildVocab(Texts(pairs), 0)
	b := NewBatcher(pairs, v, 2, 2, 7)
	if b.Len() != 3 || b.Examples() != 5 {
		t.Fatalf("expected 3 batches of 5 examples, got %d / %d", b.Len(), b.Examples())
	}

	first := b.Epoch(0)
	if len(first) != 3 || first[2].Size() != 1 {
		t.Fatalf("expected last partial batch of 1, got %d batches", len(first))
	}
	total := 0
	for _, batch := range first {
		if err := batch.Validate(seq2seq.ModeTrain); err != nil {
			t.Fatalf("invalid batch: %v", err)
		}
		for _, l := range batch.DecoderLengths {
			if l > 2 {
				t.Fatalf("expected truncation to 2, got length %d", l)
			}
		}
		total += batch.Size()
	}
	if total != 5 {
		t.Fatalf("expected 5 examples, got %d", total)
	}

	again := b.Epoch(0)
	for i := range first {
		if first[i].EncoderInputs[0][0] != again[i].EncoderInputs[0][0] {
			t.Fatal("expected the same epoch to produce the same order")
		}
	}
}

func TestLoadEmbedding(t *testing.T) {
	t.Parallel()
	v := BuildVocab([]string{"ab"}, 0)
	path := filepath.Join(t.TempDir(), "vec.txt")
	content := "3 2\na 0.5 -0.5\nzz 1 1\nb 2 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	table, found, err := LoadEmbedding(path, v, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if found != 2 {
		t.Fatalf("expected 2 tokens found, got %d", found)
	}
	if table.At(v.ID("b"), 1) != 3 || table.At(v.ID("a"), 0) != 0.5 {
		t.Fatalf("unexpected rows %v", table.Data)
	}
	if table.R != v.Size() || table.C != 2 {
		t.Fatalf("expected [%d x 2], got [%d x %d]", v.Size(), table.R, table.C)
	}

	if _, _, err := LoadEmbedding(path, v, 3, 1); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
