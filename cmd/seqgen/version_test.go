package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/seqgen/internal/version"
)

func TestWriteVersionText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	info := version.Info{Version: "v1.2.0", Commit: "abc123", GoVersion: "go1.26.0", Modified: true}
	if err := writeVersion(&buf, info, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"seqgen v1.2.0", "commit abc123 (modified)", "built  unknown", "go     go1.26.0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestWriteVersionJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	info := version.Info{Version: "dev", GoVersion: "go1.26.0"}
	if err := writeVersion(&buf, info, true); err != nil {
		t.Fatal(err)
	}
	var got version.Info
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if got != info {
		t.Fatalf("expected %+v, got %+v", info, got)
	}
	if strings.Contains(buf.String(), "commit") {
		t.Fatalf("expected empty commit to be omitted, got %s", buf.String())
	}
}
