// Package job runs redaction jobs as worker subprocesses and translates
// their line-oriented progress protocol into structured updates.
package job

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marcutd/pkg/types"
)

const stopGrace = 2 * time.Second

// Spec describes one redaction job.
type Spec struct {
	// Input is the document to redact.
	Input string
	// Output receives the redacted document.
	Output string
	// Report receives the redaction report; optional.
	Report string
	// Mode selects the redaction profile (e.g. "standard", "strict").
	Mode string
	// Model is the model identifier the worker should use.
	Model string
}

// Runner spawns redaction workers. The worker inherits a sanitized
// environment pointing at the supervised server.
type Runner struct {
	// WorkerPath is the redaction worker executable.
	WorkerPath string
	// ServerHost is the supervised server's host:port, handed to the worker.
	ServerHost string
	log        zerolog.Logger

	mu     sync.Mutex
	active map[string]*exec.Cmd
}

// NewRunner returns a Runner launching workerPath against serverHost.
func NewRunner(workerPath, serverHost string, log zerolog.Logger) *Runner {
	return &Runner{
		WorkerPath: workerPath,
		ServerHost: serverHost,
		log:        log.With().Str("component", "job").Logger(),
		active:     map[string]*exec.Cmd{},
	}
}

// NewJobID returns a fresh job identifier.
func NewJobID() string { return uuid.NewString() }

// Run executes one job to completion, delivering every parsed progress line
// to onProgress in output order with jobID attached. Cancelling ctx kills
// the worker. On a non-zero exit the error carries the exit status and the
// last output lines.
func (r *Runner) Run(ctx context.Context, jobID string, spec Spec, onProgress func(types.ProgressUpdate)) error {
	if jobID == "" {
		jobID = NewJobID()
	}
	args := []string{"--input", spec.Input, "--output", spec.Output}
	if spec.Report != "" {
		args = append(args, "--report", spec.Report)
	}
	if spec.Mode != "" {
		args = append(args, "--mode", spec.Mode)
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}

	cmd := exec.Command(r.WorkerPath, args...)
	cmd.Env = r.workerEnv()
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	r.track(jobID, cmd)
	defer r.untrack(jobID)
	r.log.Info().Str("job", jobID).Int("pid", cmd.Process.Pid).Msg("worker started")

	// Kill the worker when the caller gives up; idempotent with Cancel.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			r.Cancel(jobID)
		case <-watchDone:
		}
	}()

	var tail []string
	stream := newLineStream(out)
	for {
		line, ok := stream.Next()
		if !ok {
			break
		}
		tail = appendTailLine(tail, line)
		if update, ok := parseLine(line); ok {
			update.JobID = jobID
			onProgress(update)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return fmt.Errorf("worker failed (%v); last output: %s", waitErr, strings.Join(tail, " / "))
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("read worker output: %w", err)
	}
	r.log.Info().Str("job", jobID).Msg("worker finished")
	return nil
}

// Cancel terminates a running job. Idempotent: cancelling an unknown or
// already-finished job is a no-op.
func (r *Runner) Cancel(jobID string) {
	r.mu.Lock()
	cmd := r.active[jobID]
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	go func(p *os.Process) {
		time.Sleep(stopGrace)
		_ = p.Kill()
	}(cmd.Process)
	r.log.Info().Str("job", jobID).Msg("worker cancelled")
}

func (r *Runner) track(jobID string, cmd *exec.Cmd) {
	r.mu.Lock()
	r.active[jobID] = cmd
	r.mu.Unlock()
}

func (r *Runner) untrack(jobID string) {
	r.mu.Lock()
	delete(r.active, jobID)
	r.mu.Unlock()
}

// workerEnv strips proxy variables and points the worker at the supervised
// server.
func (r *Runner) workerEnv() []string {
	env := make([]string, 0, 16)
	for _, kv := range os.Environ() {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		switch strings.ToUpper(kv[:i]) {
		case "HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "FTP_PROXY", "OLLAMA_HOST":
			continue
		}
		env = append(env, kv)
	}
	if r.ServerHost != "" {
		env = append(env, "OLLAMA_HOST="+r.ServerHost)
	}
	return env
}

const maxTailLines = 20

func appendTailLine(tail []string, line string) []string {
	if strings.TrimSpace(line) == "" {
		return tail
	}
	tail = append(tail, line)
	if len(tail) > maxTailLines {
		tail = tail[len(tail)-maxTailLines:]
	}
	return tail
}

// lineStream yields worker output one line at a time, in order, until EOF.
// It is a plain pull-based iterator so completion and ordering are explicit
// at the call site.
type lineStream struct {
	sc *bufio.Scanner
}

func newLineStream(r io.Reader) *lineStream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &lineStream{sc: sc}
}

// Next returns the next line; ok is false once the stream is exhausted.
func (l *lineStream) Next() (line string, ok bool) {
	if !l.sc.Scan() {
		return "", false
	}
	return l.sc.Text(), true
}

// Err reports a read failure, if any, after Next has returned false.
func (l *lineStream) Err() error { return l.sc.Err() }
