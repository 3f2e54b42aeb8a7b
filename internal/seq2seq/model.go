package seq2seq

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/logger"
	"github.com/samcharles93/seqgen/internal/nn"
	"github.com/samcharles93/seqgen/internal/tensor"
)

// Model is an attentional encoder-decoder.  Parameters are registered in a
// fixed order, so two models built from the same Config have identical
// parameter names and shapes.
type Model struct {
	cfg Config
	log logger.Logger

	Params    *nn.Params
	Embedding *nn.Embedding
	Encoder   *nn.MultiCell
	Attention *nn.BahdanauAttention
	Output    *nn.Dense

	// decoder holds the lower decoder layers followed by the unbound
	// attention wrapper.
	decoder []nn.Cell
	top     *nn.AttentionWrapper
}

// New validates cfg and builds the model.
func New(cfg Config, log logger.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	log.Info("building model", "mode", cfg.Mode, "cell", cfg.CellType, "depth", cfg.Depth, "units", cfg.HiddenUnits)

	params := nn.NewParams(cfg.Seed)
	m := &Model{
		cfg:       cfg,
		log:       log,
		Params:    params,
		Embedding: nn.NewEmbedding(params, "embedding", cfg.VocabSize, cfg.HiddenUnits, cfg.TrainEmbedding),
	}
	if err := m.buildEncoder(); err != nil {
		return nil, err
	}
	if err := m.buildDecoder(); err != nil {
		return nil, err
	}

	log.Info("model ready",
		"params", humanize.Comma(int64(params.Count(false))),
		"trainable", humanize.Comma(int64(params.Count(true))))
	return m, nil
}

func (m *Model) buildEncoder() error {
	m.log.Debug("building encoder")
	h := m.cfg.HiddenUnits
	enc, err := nn.NewMultiCell(m.cfg.CellType, m.Params, "encoder", m.cfg.Depth, h, h)
	if err != nil {
		return fmt.Errorf("build encoder: %w", err)
	}
	m.Encoder = enc
	return nil
}

// buildDecoder stacks Depth cells.  Only the top one is wrapped with
// attention; its cell reads the layer below concatenated with the previous
// attention vector.
func (m *Model) buildDecoder() error {
	m.log.Debug("building decoder")
	h := m.cfg.HiddenUnits
	m.Attention = nn.NewBahdanauAttention(m.Params, "decoder/attention", h, h, h)

	m.decoder = make([]nn.Cell, m.cfg.Depth)
	for i := range m.decoder {
		in := h
		if i == m.cfg.Depth-1 {
			in = h + h
		}
		cell, err := nn.NewCell(m.cfg.CellType, m.Params, fmt.Sprintf("decoder/cell_%d", i), in, h)
		if err != nil {
			return fmt.Errorf("build decoder: %w", err)
		}
		m.decoder[i] = cell
	}
	m.top = nn.NewAttentionWrapper(m.Params, "decoder/attention_wrapper", m.decoder[m.cfg.Depth-1], m.Attention, h, h)
	m.decoder[m.cfg.Depth-1] = m.top

	m.Output = nn.NewDense(m.Params, "decoder/output_projection", h, m.cfg.VocabSize)
	return nil
}

// Config returns the configuration the model was built from.
func (m *Model) Config() Config { return m.cfg }

// Mode returns the mode the model was built for.
func (m *Model) Mode() Mode { return m.cfg.Mode }

// AssignEmbedding overwrites the embedding table.
func (m *Model) AssignEmbedding(table *tensor.Mat) error {
	return m.Embedding.Assign(table)
}

// Encoded is the encoder result: one output per time step, the final state of
// every layer and the source lengths.
type Encoded struct {
	Outputs []*autograd.Var
	Final   nn.MultiState
	Lengths []int
}

// Encode embeds ids and runs the encoder stack over them.
func (m *Model) Encode(tape *autograd.Tape, ids [][]int, lengths []int) *Encoded {
	steps := len(ids[0])
	inputs := make([]*autograd.Var, steps)
	for t := range inputs {
		inputs[t] = m.Embedding.Lookup(tape, column(ids, t))
	}
	outputs, final := nn.DynamicRNN(tape, m.Encoder, inputs, lengths, m.Encoder.ZeroState(tape, len(ids)))
	return &Encoded{Outputs: outputs, Final: final, Lengths: lengths}
}

// boundDecoder returns the decoder stack with its attention bound to mem.
func (m *Model) boundDecoder(mem *nn.Memory) *nn.MultiCell {
	cells := make([]nn.Cell, len(m.decoder))
	copy(cells, m.decoder)
	cells[len(cells)-1] = m.top.WithMemory(mem)
	return &nn.MultiCell{Cells: cells}
}

// initialDecoderState starts every decoder layer from the final state of the
// matching encoder layer.  The top layer additionally gets a zero attention
// vector.
func (m *Model) initialDecoderState(tape *autograd.Tape, final nn.MultiState, batch int) nn.MultiState {
	state := make(nn.MultiState, len(final))
	copy(state, final)
	top := len(state) - 1
	state[top] = m.top.InitialState(tape, final[top], batch)
	return state
}

// DecodeTrainOutput holds the teacher-forced decoder result.
type DecodeTrainOutput struct {
	Logits      []*autograd.Var // one [batch x vocab] value per step
	Predictions [][]int         // argmax ids, batch-major
}

// DecodeTrain runs the decoder over dt.Inputs.  Rows whose length is
// exhausted keep their state and produce zero logits.
func (m *Model) DecodeTrain(tape *autograd.Tape, enc *Encoded, dt DecoderTrain) *DecodeTrainOutput {
	batch := len(dt.Inputs)
	steps := dt.MaxLen()
	mem := m.Attention.Prepare(tape, enc.Outputs, enc.Lengths)
	dec := m.boundDecoder(mem)

	inputs := make([]*autograd.Var, steps)
	for t := range inputs {
		inputs[t] = m.Embedding.Lookup(tape, column(dt.Inputs, t))
	}
	outputs, _ := nn.DynamicRNN(tape, dec, inputs, dt.Lengths, m.initialDecoderState(tape, enc.Final, batch))

	out := &DecodeTrainOutput{
		Logits:      make([]*autograd.Var, steps),
		Predictions: make([][]int, batch),
	}
	for b := range out.Predictions {
		out.Predictions[b] = make([]int, steps)
	}
	for t, o := range outputs {
		logits := m.Output.Apply(tape, o)
		if mask, all := nn.StepMask(dt.Lengths, t); !all {
			logits = tape.MaskRows(logits, nil, mask)
		}
		out.Logits[t] = logits
		for b := 0; b < batch; b++ {
			out.Predictions[b][t] = tensor.Argmax(logits.Value.Row(b))
		}
	}
	return out
}

// TrainOutput is the result of a teacher-forced forward pass.
type TrainOutput struct {
	Loss        *autograd.Var
	Logits      []*autograd.Var
	Predictions [][]int
	Targets     [][]int
	Mask        [][]float32
}

// Forward runs the encoder, the teacher-forced decoder and the masked
// sequence loss.  The model must be in train mode.
func (m *Model) Forward(tape *autograd.Tape, b *Batch) (*TrainOutput, error) {
	if m.cfg.Mode != ModeTrain {
		return nil, fmt.Errorf("%w: forward needs %q, model is %q", ErrWrongMode, ModeTrain, m.cfg.Mode)
	}
	if err := m.validateBatch(b); err != nil {
		return nil, err
	}
	enc := m.Encode(tape, b.EncoderInputs, b.EncoderLengths)
	dt := PrepareDecoderTrain(b, m.cfg.StartToken, m.cfg.EndToken, m.cfg.PadToken)
	dec := m.DecodeTrain(tape, enc, dt)

	steps := dt.MaxLen()
	targets := make([][]int, len(dt.Targets))
	for i, row := range dt.Targets {
		targets[i] = row[:steps]
	}
	mask := SequenceMask(dt.Lengths, steps)
	return &TrainOutput{
		Loss:        SequenceLoss(tape, dec.Logits, targets, mask),
		Logits:      dec.Logits,
		Predictions: dec.Predictions,
		Targets:     targets,
		Mask:        mask,
	}, nil
}

func (m *Model) validateBatch(b *Batch) error {
	if err := b.Validate(m.cfg.Mode); err != nil {
		return err
	}
	if err := checkIDs("encoder", b.EncoderInputs, m.cfg.VocabSize); err != nil {
		return err
	}
	if m.cfg.Mode == ModeTrain {
		return checkIDs("decoder", b.DecoderInputs, m.cfg.VocabSize)
	}
	return nil
}
