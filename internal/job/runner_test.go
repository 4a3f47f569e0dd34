//go:build unix

package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marcutd/pkg/types"
)

func writeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want types.ProgressUpdate
		ok   bool
	}{
		{"MARCUT:redact|Stage:40%|Overall:55%", types.ProgressUpdate{Phase: "redact", Stage: 40, Overall: 55}, true},
		{"MARCUT:analyze|Stage:0%|Overall:5%", types.ProgressUpdate{Phase: "analyze", Stage: 0, Overall: 5}, true},
		{"  MARCUT:write|Stage:100%|Overall:100%  ", types.ProgressUpdate{Phase: "write", Stage: 100, Overall: 100}, true},
		{"MARCUT:loading model", types.ProgressUpdate{Message: "loading model"}, true},
		{"MARCUT:redact|Stage:oops|Overall:55%", types.ProgressUpdate{Message: "redact|Stage:oops|Overall:55%"}, true},
		{"plain log line", types.ProgressUpdate{}, false},
		{"", types.ProgressUpdate{}, false},
	}
	for _, c := range cases {
		got, ok := parseLine(c.line)
		if ok != c.ok {
			t.Errorf("parseLine(%q) ok = %v, want %v", c.line, ok, c.ok)
			continue
		}
		if got != c.want {
			t.Errorf("parseLine(%q) = %+v, want %+v", c.line, got, c.want)
		}
	}
}

func TestRunDeliversProgressInOrder(t *testing.T) {
	worker := writeWorker(t, `echo "MARCUT:analyze|Stage:50%|Overall:10%"
echo "ordinary log noise"
echo "MARCUT:redact|Stage:20%|Overall:40%"
echo "MARCUT:writing output"
echo "MARCUT:write|Stage:100%|Overall:100%"
`)
	r := NewRunner(worker, "127.0.0.1:43500", zerolog.Nop())

	var updates []types.ProgressUpdate
	err := r.Run(context.Background(), "job-1", Spec{Input: "in.pdf", Output: "out.pdf"}, func(u types.ProgressUpdate) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(updates) != 4 {
		t.Fatalf("got %d updates, want 4: %+v", len(updates), updates)
	}
	for i, u := range updates {
		if u.JobID != "job-1" {
			t.Fatalf("update %d missing job id: %+v", i, u)
		}
	}
	if updates[0].Phase != "analyze" || updates[1].Phase != "redact" {
		t.Fatalf("updates out of order: %+v", updates)
	}
	if updates[2].Message != "writing output" {
		t.Fatalf("message update = %+v", updates[2])
	}
	if last := updates[3]; last.Overall != 100 {
		t.Fatalf("final overall = %v, want 100", last.Overall)
	}
}

func TestRunWorkerFailureCarriesOutputTail(t *testing.T) {
	worker := writeWorker(t, `echo "MARCUT:analyze|Stage:10%|Overall:5%"
echo "ERROR: cannot open input" >&2
exit 3
`)
	r := NewRunner(worker, "", zerolog.Nop())

	err := r.Run(context.Background(), "", Spec{Input: "in.pdf", Output: "out.pdf"}, func(types.ProgressUpdate) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Fatalf("error missing exit status: %v", err)
	}
	if !strings.Contains(err.Error(), "cannot open input") {
		t.Fatalf("error missing output tail: %v", err)
	}
}

func TestRunGeneratesJobID(t *testing.T) {
	worker := writeWorker(t, `echo "MARCUT:done|Stage:100%|Overall:100%"`+"\n")
	r := NewRunner(worker, "", zerolog.Nop())

	var got string
	err := r.Run(context.Background(), "", Spec{}, func(u types.ProgressUpdate) { got = u.JobID })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got == "" {
		t.Fatal("no job id assigned")
	}
}

func TestRunContextCancelKillsWorker(t *testing.T) {
	worker := writeWorker(t, `echo "MARCUT:analyze|Stage:0%|Overall:0%"
exec sleep 60
`)
	r := NewRunner(worker, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, "job-cancel", Spec{}, func(u types.ProgressUpdate) {
			cancel()
		})
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker not killed after cancel")
	}
}

func TestCancelUnknownJobIsNoop(t *testing.T) {
	r := NewRunner("/nonexistent", "", zerolog.Nop())
	r.Cancel("never-started")
	r.Cancel("never-started")
}

func TestWorkerEnvPointsAtServer(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://proxy:3128")
	t.Setenv("OLLAMA_HOST", "stale:1")
	r := NewRunner("/bin/true", "127.0.0.1:43777", zerolog.Nop())

	env := strings.Join(r.workerEnv(), "\n")
	if strings.Contains(env, "proxy:3128") {
		t.Fatal("proxy leaked into worker env")
	}
	if strings.Contains(env, "stale:1") {
		t.Fatal("stale OLLAMA_HOST leaked into worker env")
	}
	if !strings.Contains(env, "OLLAMA_HOST=127.0.0.1:43777") {
		t.Fatal("worker env missing server host")
	}
}
