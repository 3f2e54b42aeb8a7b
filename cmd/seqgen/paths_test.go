package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/nn"
)

func TestResolveSaveDir(t *testing.T) {
	t.Parallel()
	if got := resolveSaveDir("  "); got != defaultSaveDir {
		t.Fatalf("expected %q, got %q", defaultSaveDir, got)
	}
	if got := resolveSaveDir("runs/a/../b"); got != filepath.Join("runs", "b") {
		t.Fatalf("expected cleaned path, got %q", got)
	}
}

func TestResolveCheckpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := resolveCheckpoint("", filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing save dir")
	}
	if _, err := resolveCheckpoint("", dir); err == nil {
		t.Fatal("expected error for empty save dir")
	}

	params := nn.NewParams(1)
	params.Add("w", 1, 1, nn.Zeros(), true)
	for _, step := range []int64{3, 11} {
		if err := checkpoint.Save(checkpoint.PathFor(dir, step), params, checkpoint.Metadata{GlobalStep: step}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := resolveCheckpoint("", dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != checkpoint.PathFor(dir, 11) {
		t.Fatalf("expected latest checkpoint, got %s", got)
	}
	explicit := checkpoint.PathFor(dir, 3)
	if got, err := resolveCheckpoint(explicit, "ignored"); err != nil || got != explicit {
		t.Fatalf("expected explicit file, got %q (%v)", got, err)
	}
}

func TestCheckFreshSaveDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := checkFreshSaveDir(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("expected a missing dir to be accepted, got %v", err)
	}
	if err := checkFreshSaveDir(dir); err != nil {
		t.Fatalf("expected an empty dir to be accepted, got %v", err)
	}

	params := nn.NewParams(1)
	params.Add("w", 1, 1, nn.Zeros(), true)
	if err := checkpoint.Save(checkpoint.PathFor(dir, 1000), params, checkpoint.Metadata{GlobalStep: 1000}); err != nil {
		t.Fatal(err)
	}
	err := checkFreshSaveDir(dir)
	if err == nil || !strings.Contains(err.Error(), "step 1000") || !strings.Contains(err.Error(), "--resume") {
		t.Fatalf("expected refusal naming step 1000 and --resume, got %v", err)
	}
}

func TestResolveVocab(t *testing.T) {
	t.Parallel()
	if got := resolveVocab("", filepath.Join("runs", "ckpt-1.safetensors")); got != filepath.Join("runs", vocabFileName) {
		t.Fatalf("expected vocab next to checkpoint, got %q", got)
	}
	if got := resolveVocab("v.json", "runs/ckpt-1.safetensors"); got != "v.json" {
		t.Fatalf("expected explicit vocab, got %q", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
	if err != nil || cfg.Epochs != nil {
		t.Fatalf("expected zero config for missing file, got %+v (%v)", cfg, err)
	}

	path := filepath.Join(dir, "config.yaml")
	body := "save_dir: /data/runs\nepochs: 12\nlearning_rate: 0.01\ncell_type: gru\ntemperature: 0.7\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SaveDir != "/data/runs" || cfg.Epochs == nil || *cfg.Epochs != 12 || cfg.CellType != "gru" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 || cfg.Depth != nil {
		t.Fatalf("expected temperature set and depth unset, got %+v", cfg)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("epochs: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("expected parse error")
	}
}
