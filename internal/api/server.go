// Package api serves a trained model over HTTP.
package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/seqgen/internal/generate"
	"github.com/samcharles93/seqgen/internal/logger"
	"github.com/samcharles93/seqgen/internal/version"
)

// Generator is the part of generate.Generator the server uses.
type Generator interface {
	Generate(ctx context.Context, source string, opts generate.Options) (generate.Result, error)
	GenerateLines(ctx context.Context, keywords []string, opts generate.Options) ([]generate.Result, error)
	Info() generate.Info
}

type ServerConfig struct {
	// Timeout bounds a single generation.  Zero means no limit.
	Timeout       time.Duration
	StoreCapacity int
	// Defaults apply to fields a request leaves unset.
	Defaults generate.Options
	Logger   logger.Logger
}

type Server struct {
	gen      Generator
	store    *GenerationStore
	timeout  time.Duration
	defaults generate.Options
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(gen Generator, cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		gen:      gen,
		store:    NewGenerationStore(cfg.StoreCapacity),
		timeout:  cfg.Timeout,
		defaults: cfg.Defaults,
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) modelID() string {
	ckpt := s.gen.Info().Checkpoint
	if ckpt == "" {
		return "seqgen"
	}
	return "seqgen/" + strings.TrimSuffix(filepath.Base(ckpt), filepath.Ext(ckpt))
}

func (s *Server) handleModel(c *echo.Context) error {
	info := s.gen.Info()
	return c.JSON(http.StatusOK, ModelResponse{
		ID:         s.modelID(),
		Object:     "model",
		Checkpoint: info.Checkpoint,
		GlobalStep: info.GlobalStep,
		Params:     info.Params,
		Config:     info.Config,
		Version:    version.Resolve(),
	})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.gen == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generator not configured", "", "")
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "", err.Error())
	}
	opts, err := req.options(s.defaults)
	if err != nil {
		return writeGenerateError(c, err)
	}

	ctx := c.Request().Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp := GenerateResponse{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: s.clock().Unix(),
		Model:     s.modelID(),
		Status:    "in_progress",
	}

	var writer *SSEStreamWriter
	if req.Stream != nil && *req.Stream {
		writer, err = NewSSEStreamWriter(c)
		if err != nil {
			return writeBadRequest(c, "stream", err.Error())
		}
		if err := writer.Begin(resp); err != nil {
			return err
		}
	}

	start := s.clock()
	if len(req.Keywords) > 0 {
		opts.OnLine = func(i int, r generate.Result) error {
			line := toLine(i, r)
			resp.Lines = append(resp.Lines, line)
			if writer != nil {
				return writer.EmitLine(line)
			}
			return nil
		}
		_, err = s.gen.GenerateLines(ctx, req.Keywords, opts)
	} else {
		var res generate.Result
		res, err = s.gen.Generate(ctx, req.Input, opts)
		if err == nil {
			line := toLine(0, res)
			resp.Lines = append(resp.Lines, line)
			if writer != nil {
				err = writer.EmitLine(line)
			}
		}
	}
	if err != nil {
		s.log.Warn("generation failed", "id", resp.ID, "error", err)
		if writer != nil {
			_ = writer.Failed(resp, err)
			return nil
		}
		return writeGenerateError(c, err)
	}

	resp.Status = "completed"
	if resp.Lines == nil {
		resp.Lines = []GeneratedLine{}
	}
	resp.Usage = usageOf(resp.Lines)
	s.log.Info("generated", "id", resp.ID, "lines", len(resp.Lines), "tokens", resp.Usage.OutputTokens, "duration", s.clock().Sub(start))

	if req.Store == nil || *req.Store {
		s.store.Save(resp)
	}
	if writer != nil {
		return writer.Complete(resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "generation.deleted", Deleted: true})
}
