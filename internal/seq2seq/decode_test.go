package seq2seq

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/seqgen/internal/autograd"
)

// biasToward makes the output projection strongly prefer token id.
func biasToward(m *Model, id int) {
	m.Output.Kernel.Value.Zero()
	row := m.Output.Bias.Value.Row(0)
	for i := range row {
		row[i] = 0
	}
	row[id] = 50
}

func newDecodeModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(tinyConfig(ModeDecode), nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGreedyStopsAtEndToken(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	biasToward(m, EOSID)
	hyps, err := m.Decode(context.Background(), [][]int{{4, 5}, {6, 0}}, []int{2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hyps) != 2 {
		t.Fatalf("expected 2 hypotheses, got %d", len(hyps))
	}
	for i, h := range hyps {
		if len(h.IDs) != 0 {
			t.Fatalf("row %d: expected empty output, got %v", i, h.IDs)
		}
	}
}

func TestGreedyRespectsMaxSteps(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	biasToward(m, 5)
	hyps, err := m.DecodeWith(context.Background(), [][]int{{4}}, []int{1}, DecodeOptions{BeamWidth: 1, MaxSteps: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(hyps[0].IDs) != 3 {
		t.Fatalf("expected 3 tokens, got %v", hyps[0].IDs)
	}
	for _, id := range hyps[0].IDs {
		if id != 5 {
			t.Fatalf("expected only token 5, got %v", hyps[0].IDs)
		}
	}
}

func TestBeamSearchStopsAtEndToken(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	biasToward(m, EOSID)
	hyps, err := m.DecodeWith(context.Background(), [][]int{{4, 5}, {6, 7}}, []int{2, 2}, DecodeOptions{BeamWidth: 3, MaxSteps: 4})
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range hyps {
		if len(h.IDs) != 0 {
			t.Fatalf("row %d: expected empty output, got %v", i, h.IDs)
		}
	}
}

func TestBeamWidthOneMatchesGreedy(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	src := [][]int{{4, 5, 6}, {7, 3, 0}}
	lengths := []int{3, 2}
	greedy, err := m.DecodeWith(context.Background(), src, lengths, DecodeOptions{BeamWidth: 1, MaxSteps: 5})
	if err != nil {
		t.Fatal(err)
	}
	tape := autograd.NoGrad()
	beam, err := m.beamSearch(context.Background(), tape, m.Encode(tape, src, lengths), DecodeOptions{BeamWidth: 1, MaxSteps: 5})
	if err != nil {
		t.Fatal(err)
	}
	for b := range greedy {
		if len(greedy[b].IDs) != len(beam[b].IDs) {
			t.Fatalf("row %d: greedy %v beam %v", b, greedy[b].IDs, beam[b].IDs)
		}
		for i := range greedy[b].IDs {
			if greedy[b].IDs[i] != beam[b].IDs[i] {
				t.Fatalf("row %d: greedy %v beam %v", b, greedy[b].IDs, beam[b].IDs)
			}
		}
	}
}

func TestDecodeHonoursCancellation(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Decode(ctx, [][]int{{4}}, []int{1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodePickOverridesArgmax(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	biasToward(m, EOSID)
	pick := func([]float32) int { return 6 }
	hyps, err := m.DecodeWith(context.Background(), [][]int{{4}}, []int{1}, DecodeOptions{MaxSteps: 2, Pick: pick})
	if err != nil {
		t.Fatal(err)
	}
	if len(hyps[0].IDs) != 2 || hyps[0].IDs[0] != 6 {
		t.Fatalf("expected picker tokens, got %v", hyps[0].IDs)
	}
}

func TestTopK(t *testing.T) {
	t.Parallel()
	got := topK([]float32{0.1, 0.9, 0.5, 0.9, -1}, 3)
	want := []int{1, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDecodeRejectsOversizedOptions(t *testing.T) {
	t.Parallel()
	m := newDecodeModel(t)
	src, lengths := [][]int{{4}}, []int{1}
	for _, opts := range []DecodeOptions{
		{BeamWidth: 60000, MaxSteps: 3},
		{BeamWidth: m.Config().VocabSize + 1, MaxSteps: 3},
		{BeamWidth: 1, MaxSteps: MaxDecodeLength + 1},
	} {
		if _, err := m.DecodeWith(context.Background(), src, lengths, opts); !errors.Is(err, ErrDecodeLimit) {
			t.Fatalf("%+v: expected ErrDecodeLimit, got %v", opts, err)
		}
	}
	hyps, err := m.DecodeWith(context.Background(), src, lengths, DecodeOptions{BeamWidth: m.Config().VocabSize, MaxSteps: 2})
	if err != nil {
		t.Fatalf("expected a beam as wide as the vocabulary to be accepted, got %v", err)
	}
	if len(hyps) != 1 || len(hyps[0].IDs) > 2 {
		t.Fatalf("expected one hypothesis of at most 2 tokens, got %+v", hyps)
	}
}
