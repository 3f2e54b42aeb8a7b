package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/samcharles93/seqgen/internal/generate"
	"github.com/samcharles93/seqgen/internal/logger"
)

// decodeSettings are the flag values shared by generate and serve.
type decodeSettings struct {
	checkpoint  string
	vocab       string
	beamWidth   int
	maxSteps    int
	temperature float64
	topK        int
	topP        float64
	seed        int64
}

func (o decodeSettings) options() generate.Options {
	return generate.Options{
		BeamWidth:   o.beamWidth,
		MaxSteps:    o.maxSteps,
		Temperature: float32(o.temperature),
		TopK:        o.topK,
		TopP:        float32(o.topP),
		Seed:        o.seed,
	}
}

func (o decodeSettings) load(log logger.Logger) (*generate.Generator, error) {
	ckpt, err := resolveCheckpoint(o.checkpoint, resolveSaveDir(saveDir))
	if err != nil {
		return nil, err
	}
	return generate.Load(ckpt, resolveVocab(o.vocab, ckpt), log)
}

func generateCmd() *cli.Command {
	var (
		settings decodeSettings
		input    string
		keywords []string
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate text from a trained checkpoint",
		Description: "With --input, decodes one line.  With --keyword (repeatable), generates one line per\n" +
			"keyword, each conditioned on the keyword and the lines before it.  With neither, reads\n" +
			"sources from stdin; separate keywords with '|' to generate several lines.",
		Flags: append(decodeFlags(&settings),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "source text",
				Destination: &input,
			},
			&cli.StringSliceFlag{
				Name:        "keyword",
				Aliases:     []string{"k"},
				Usage:       "keyword for one generated line (repeatable)",
				Destination: &keywords,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDecodeConfig(cmd, fileConfig, &settings)
			if input != "" && len(keywords) > 0 {
				return errors.New("--input and --keyword are mutually exclusive")
			}
			gen, err := settings.load(log)
			if err != nil {
				return err
			}
			opts := settings.options()

			switch {
			case input != "":
				return printGenerated(ctx, os.Stdout, gen, []string{input}, opts)
			case len(keywords) > 0:
				return printGenerated(ctx, os.Stdout, gen, keywords, opts)
			case stdinIsTTY():
				return interactive(ctx, gen, opts)
			default:
				return generateFromReader(ctx, os.Stdin, os.Stdout, gen, opts)
			}
		},
	}
}

// lineGenerator is the part of generate.Generator the CLI loops use.
type lineGenerator interface {
	Generate(ctx context.Context, source string, opts generate.Options) (generate.Result, error)
	GenerateLines(ctx context.Context, keywords []string, opts generate.Options) ([]generate.Result, error)
}

// parseKeywords splits a prompt on '|'.  A prompt without '|' is a single
// source.
func parseKeywords(line string) []string {
	var out []string
	for part := range strings.SplitSeq(line, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printGenerated writes one generated line per source.  A single source is
// decoded on its own; several are treated as keywords.
func printGenerated(ctx context.Context, w io.Writer, gen lineGenerator, sources []string, opts generate.Options) error {
	if len(sources) == 1 {
		res, err := gen.Generate(ctx, sources[0], opts)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, res.Text)
		return err
	}
	opts.OnLine = func(_ int, r generate.Result) error {
		_, err := fmt.Fprintln(w, r.Text)
		return err
	}
	_, err := gen.GenerateLines(ctx, sources, opts)
	return err
}

func generateFromReader(ctx context.Context, r io.Reader, w io.Writer, gen lineGenerator, opts generate.Options) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		sources := parseKeywords(sc.Text())
		if len(sources) == 0 {
			continue
		}
		if err := printGenerated(ctx, w, gen, sources, opts); err != nil {
			return err
		}
	}
	return sc.Err()
}

func interactive(ctx context.Context, gen lineGenerator, opts generate.Options) error {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return generateFromReader(ctx, os.Stdin, os.Stdout, gen, opts)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	_, _ = fmt.Fprintln(t, "Enter a source line, or keywords separated by '|'. Ctrl-D exits.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sources := parseKeywords(line)
		if len(sources) == 0 {
			continue
		}
		if err := printGenerated(ctx, t, gen, sources, opts); err != nil {
			_, _ = fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}
