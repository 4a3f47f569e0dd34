//go:build unix

package pull

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestExecCLIUsesConfiguredEnv runs a fake binary that echoes its service
// environment. With Env set, the subprocess must see the configured store and
// host, never stale values inherited from the daemon's own environment.
func TestExecCLIUsesConfiguredEnv(t *testing.T) {
	t.Setenv("OLLAMA_MODELS", "/somewhere/else/models")
	t.Setenv("OLLAMA_HOST", "10.0.0.9:12345")

	bin := filepath.Join(t.TempDir(), "fake-ollama")
	script := "#!/bin/sh\nenv | grep '^OLLAMA_' | sort\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	cli := &ExecCLI{
		Binary: bin,
		Env: []string{
			"PATH=" + os.Getenv("PATH"),
			"OLLAMA_MODELS=/app/models",
			"OLLAMA_HOME=/app/home",
			"OLLAMA_HOST=127.0.0.1:43500",
		},
	}
	var lines []string
	if err := cli.Run(context.Background(), "llama3.2:3b", func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"OLLAMA_MODELS=/app/models",
		"OLLAMA_HOME=/app/home",
		"OLLAMA_HOST=127.0.0.1:43500",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("subprocess env missing %q; saw:\n%s", want, joined)
		}
	}
	for _, stale := range []string{"/somewhere/else/models", "10.0.0.9:12345"} {
		if strings.Contains(joined, stale) {
			t.Fatalf("subprocess inherited stale value %q; saw:\n%s", stale, joined)
		}
	}
}
