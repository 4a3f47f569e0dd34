package pull

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"marcutd/pkg/types"
)

// CLIRunner streams line-oriented progress text from an out-of-process pull.
// It exists so the fallback transport can be faked in tests.
type CLIRunner interface {
	// Run invokes the pull for modelID and calls fn once per output line.
	Run(ctx context.Context, modelID string, fn func(line string)) error
}

// ExecCLI runs the service's own pull subcommand as the fallback transport.
type ExecCLI struct {
	// Binary is the service executable, e.g. /usr/local/bin/ollama.
	Binary string
	// Env, when non-nil, replaces the subprocess environment so the CLI
	// targets the same server and models directory as the HTTP transport.
	Env []string
}

// Run executes `<binary> pull <model>` and streams combined output lines.
// Progress text arrives on stderr with carriage-return repaints; both are
// normalized to plain lines before fn sees them.
func (e *ExecCLI) Run(ctx context.Context, modelID string, fn func(line string)) error {
	cmd := exec.CommandContext(ctx, e.Binary, "pull", modelID)
	if e.Env != nil {
		cmd.Env = e.Env
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return err
	}

	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(scanProgressLines)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			fn(line)
		}
	}
	waitErr := cmd.Wait()
	if serr := sc.Err(); serr != nil && waitErr == nil {
		waitErr = serr
	}
	return waitErr
}

// scanProgressLines splits on \n and \r so terminal progress repaints become
// individual lines.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// attemptCLI shells out to the fallback transport, translating its
// human-readable progress text onto the same milestone scale as the HTTP
// stream. Success still requires either an explicit success line or a clean
// exit; verification happens in confirmOnDisk either way.
func (p *Puller) attemptCLI(ctx context.Context, modelID string, session *Session, report ProgressFunc) error {
	var cliErr error
	runErr := p.cli.Run(ctx, modelID, func(line string) {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error"):
			if cliErr == nil {
				cliErr = errors.New(line)
			}
			return
		case strings.Contains(lower, "success"):
			progress, _ := session.Observe(Event{Status: "success"})
			report(types.ProgressUpdate{Phase: "success", Overall: progress})
			return
		}
		if m := percentRe.FindStringSubmatch(line); m != nil {
			pct, _ := strconv.Atoi(m[1])
			scaled := byteFloor + float64(pct)/100*byteSpan
			if scaled > byteCap {
				scaled = byteCap
			}
			report(types.ProgressUpdate{Phase: "pulling", Overall: session.ObservePercent(scaled)})
			return
		}
		if progress, _ := session.Observe(Event{Status: lower}); progress > 0 {
			report(types.ProgressUpdate{Phase: lower, Overall: progress})
		}
	})
	if cliErr != nil {
		return cliErr
	}
	return runErr
}
