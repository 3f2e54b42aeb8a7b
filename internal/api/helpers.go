package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/seqgen/internal/generate"
	"github.com/samcharles93/seqgen/internal/seq2seq"
)

func writeBadRequest(c *echo.Context, param, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeGenerateError maps a generation failure to an HTTP status.
func writeGenerateError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, generate.ErrInvalidOptions),
		errors.Is(err, generate.ErrEmptyInput),
		errors.Is(err, seq2seq.ErrDecodeLimit):
		return writeBadRequest(c, errorParam(err), err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusGatewayTimeout, "timeout_error", "generation timed out", "", "")
	case errors.Is(err, context.Canceled):
		return writeError(c, 499, "cancelled", "request cancelled", "", "")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// options overlays the request on defaults.
func (r *GenerateRequest) options(defaults generate.Options) (generate.Options, error) {
	opts := defaults
	opts.OnLine = nil
	hasInput := strings.TrimSpace(r.Input) != ""
	switch {
	case hasInput && len(r.Keywords) > 0:
		return opts, newInvalidRequest("input", "input and keywords are mutually exclusive")
	case !hasInput && len(r.Keywords) == 0:
		return opts, newInvalidRequest("input", "one of input or keywords is required")
	}
	for i, kw := range r.Keywords {
		if strings.TrimSpace(kw) == "" {
			return opts, newInvalidRequest("keywords", fmt.Sprintf("keywords[%d] is empty", i))
		}
	}
	if r.BeamWidth != nil {
		if *r.BeamWidth < 1 || *r.BeamWidth > seq2seq.MaxBeamWidth {
			return opts, newInvalidRequest("beam_width", fmt.Sprintf("beam_width must be in [1, %d]", seq2seq.MaxBeamWidth))
		}
		opts.BeamWidth = *r.BeamWidth
	}
	if r.MaxSteps != nil {
		if *r.MaxSteps < 1 || *r.MaxSteps > seq2seq.MaxDecodeLength {
			return opts, newInvalidRequest("max_steps", fmt.Sprintf("max_steps must be in [1, %d]", seq2seq.MaxDecodeLength))
		}
		opts.MaxSteps = *r.MaxSteps
	}
	if r.Temperature != nil {
		if *r.Temperature < 0 || math.IsNaN(*r.Temperature) {
			return opts, newInvalidRequest("temperature", "temperature must be >= 0")
		}
		opts.Temperature = float32(*r.Temperature)
	}
	if r.TopK != nil {
		if *r.TopK < 0 {
			return opts, newInvalidRequest("top_k", "top_k must be >= 0")
		}
		opts.TopK = *r.TopK
	}
	if r.TopP != nil {
		if *r.TopP <= 0 || *r.TopP > 1 {
			return opts, newInvalidRequest("top_p", "top_p must be in (0, 1]")
		}
		opts.TopP = float32(*r.TopP)
	}
	if r.Seed != nil {
		opts.Seed = *r.Seed
	}
	return opts, nil
}

func toLine(i int, r generate.Result) GeneratedLine {
	return GeneratedLine{
		Index:  i,
		Source: r.Source,
		Text:   r.Text,
		Score:  r.Score,
		Tokens: len(r.IDs),
	}
}

func usageOf(lines []GeneratedLine) *Usage {
	u := &Usage{}
	for _, l := range lines {
		u.InputTokens += len([]rune(l.Source))
		u.OutputTokens += l.Tokens
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
