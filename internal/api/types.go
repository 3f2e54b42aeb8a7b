package api

import (
	"github.com/samcharles93/seqgen/internal/seq2seq"
	"github.com/samcharles93/seqgen/internal/version"
)

// GenerateRequest is the body of POST /v1/generate.  Exactly one of Input
// and Keywords must be set.
type GenerateRequest struct {
	Input       string   `json:"input,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	BeamWidth   *int     `json:"beam_width,omitempty"`
	MaxSteps    *int     `json:"max_steps,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Stream      *bool    `json:"stream,omitempty"`
	Store       *bool    `json:"store,omitempty"`
}

type GenerateResponse struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Model     string          `json:"model"`
	Status    string          `json:"status"`
	Lines     []GeneratedLine `json:"lines"`
	Usage     *Usage          `json:"usage,omitempty"`
}

type GeneratedLine struct {
	Index  int     `json:"index"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Tokens int     `json:"tokens"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type ModelResponse struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	Checkpoint string         `json:"checkpoint,omitempty"`
	GlobalStep int64          `json:"global_step"`
	Params     int            `json:"params"`
	Config     seq2seq.Config `json:"config"`
	Version    version.Info   `json:"version"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}
