package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/seqgen/internal/checkpoint"
)

const (
	envSaveDir     = "SEQGEN_SAVE_DIR"
	defaultSaveDir = "runs"
	vocabFileName  = "vocab.json"
	summaryName    = "summary.jsonl"
)

func resolveSaveDir(flag string) string {
	if dir := strings.TrimSpace(flag); dir != "" {
		return filepath.Clean(dir)
	}
	return defaultSaveDir
}

// resolveCheckpoint accepts a checkpoint file or a directory, in which case
// the latest checkpoint inside it is used.  An empty arg means dir.
func resolveCheckpoint(arg, dir string) (string, error) {
	path := strings.TrimSpace(arg)
	if path == "" {
		path = dir
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	if !st.IsDir() {
		return path, nil
	}
	latest, _, err := checkpoint.Latest(path)
	if err != nil {
		return "", err
	}
	return latest, nil
}

// checkFreshSaveDir refuses a new run in a dir that already holds
// checkpoints.  Latest would keep pointing at the older run's steps.
func checkFreshSaveDir(dir string) error {
	path, step, err := checkpoint.Latest(dir)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s already holds checkpoints up to step %d (%s); pass --resume or choose another --save-dir",
		dir, step, filepath.Base(path))
}

// resolveVocab defaults to vocab.json next to the checkpoint.
func resolveVocab(arg, ckpt string) string {
	if v := strings.TrimSpace(arg); v != "" {
		return v
	}
	return filepath.Join(filepath.Dir(ckpt), vocabFileName)
}

func stdinIsTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
