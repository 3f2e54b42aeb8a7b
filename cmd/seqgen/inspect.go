package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/logger"
	"github.com/samcharles93/seqgen/internal/seq2seq"
)

// paramRow is one line of the parameter table.
type paramRow struct {
	name      string
	shape     []int
	trainable string
}

func (r paramRow) count() int {
	n := 1
	for _, d := range r.shape {
		n *= d
	}
	return n
}

func inspectCmd() *cli.Command {
	var (
		ckptArg   string
		build     bool
		vocabSize int
		filter    string
	)
	cfg := seq2seq.DefaultConfig()

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the parameters of a checkpoint, or of a model built from flags",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "checkpoint file or directory (default: save dir)",
				Destination: &ckptArg,
			},
			&cli.BoolFlag{
				Name:        "build",
				Usage:       "build a fresh model from the hyperparameter flags instead of reading a checkpoint",
				Destination: &build,
			},
			&cli.IntFlag{
				Name:        "vocab-size",
				Usage:       "vocabulary size for --build",
				Value:       cfg.VocabSize,
				Destination: &vocabSize,
			},
			&cli.StringFlag{
				Name:        "filter",
				Usage:       "only list parameters whose name contains this substring",
				Destination: &filter,
			},
		}, modelFlags(&cfg)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if build {
				applyModelConfig(cmd, fileConfig, &cfg)
				cfg.VocabSize = vocabSize
				model, err := seq2seq.New(cfg, log)
				if err != nil {
					return err
				}
				var rows []paramRow
				for _, p := range model.Params.All() {
					rows = append(rows, paramRow{
						name:      p.Name,
						shape:     []int{p.Var.Value.R, p.Var.Value.C},
						trainable: yesNo(p.Trainable),
					})
				}
				printConfig(os.Stdout, cfg)
				return printParams(os.Stdout, rows, filter)
			}

			path, err := resolveCheckpoint(ckptArg, resolveSaveDir(saveDir))
			if err != nil {
				return err
			}
			f, err := checkpoint.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			meta, err := f.Metadata()
			if err != nil {
				return err
			}
			fmt.Printf("checkpoint:  %s (%s)\n", path, humanize.Bytes(uint64(f.Size())))
			fmt.Printf("global step: %s\n", humanize.Comma(meta.GlobalStep))
			fmt.Printf("next epoch:  %d\n", meta.Epoch)
			if meta.RunID != "" {
				fmt.Printf("run id:      %s\n", meta.RunID)
			}
			if !meta.CreatedAt.IsZero() {
				fmt.Printf("created:     %s (%s)\n", meta.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(meta.CreatedAt))
			}
			printConfig(os.Stdout, meta.Config)

			rows := make([]paramRow, 0, len(f.Tensors))
			for name, info := range f.Tensors {
				rows = append(rows, paramRow{name: name, shape: info.Shape, trainable: "-"})
			}
			slices.SortFunc(rows, func(a, b paramRow) int { return strings.Compare(a.name, b.name) })
			return printParams(os.Stdout, rows, filter)
		},
	}
}

func printConfig(w io.Writer, cfg seq2seq.Config) {
	_, _ = fmt.Fprintf(w, "model:       %s x%d, %d units, vocab %d, %s optimizer\n",
		cfg.CellType, cfg.Depth, cfg.HiddenUnits, cfg.VocabSize, cfg.Optimizer)
}

func printParams(w io.Writer, rows []paramRow, filter string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\nNAME\tSHAPE\tPARAMS\tTRAINABLE")
	var total, shown int
	for _, r := range rows {
		if filter != "" && !strings.Contains(r.name, filter) {
			continue
		}
		n := r.count()
		total += n
		shown++
		_, _ = fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", r.name, r.shape, humanize.Comma(int64(n)), r.trainable)
	}
	_, _ = fmt.Fprintf(tw, "total\t%d tensors\t%s\t\n", shown, humanize.Comma(int64(total)))
	if err := tw.Flush(); err != nil {
		return err
	}
	if shown == 0 && filter != "" {
		return fmt.Errorf("no parameter matches %q", filter)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
