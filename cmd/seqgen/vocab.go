package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqgen/internal/data"
	"github.com/samcharles93/seqgen/internal/logger"
)

func vocabCmd() *cli.Command {
	var (
		corpusPath string
		outPath    string
		maxSize    int
		show       int
	)

	return &cli.Command{
		Name:  "vocab",
		Usage: "Build a character vocabulary from a corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "corpus",
				Usage:       "corpus file with one \"source<TAB>target\" pair per line",
				Required:    true,
				Destination: &corpusPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output file (default: <save-dir>/vocab.json)",
				Destination: &outPath,
			},
			&cli.IntFlag{
				Name:        "max-size",
				Usage:       "keep at most this many tokens, reserved ones included (0 = no cap)",
				Destination: &maxSize,
			},
			&cli.IntFlag{
				Name:        "show",
				Usage:       "print the first n tokens",
				Value:       20,
				Destination: &show,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			pairs, err := data.LoadPairs(corpusPath)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = filepath.Join(resolveSaveDir(saveDir), vocabFileName)
			}
			vocab := data.BuildVocab(data.Texts(pairs), maxSize)
			if err := vocab.Save(outPath); err != nil {
				return err
			}
			log.Info("vocabulary written", "path", outPath, "size", vocab.Size(), "pairs", len(pairs))

			tokens := vocab.Tokens()
			if show > 0 && len(tokens) > 0 {
				n := min(show, len(tokens))
				quoted := make([]string, n)
				for i, t := range tokens[:n] {
					quoted[i] = fmt.Sprintf("%q", t)
				}
				fmt.Printf("%d tokens: %s", len(tokens), strings.Join(quoted, " "))
				if n < len(tokens) {
					fmt.Print(" ...")
				}
				fmt.Println()
			}
			return nil
		},
	}
}
