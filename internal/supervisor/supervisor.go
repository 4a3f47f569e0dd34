// Package supervisor owns the lifecycle of the model server child process:
// port selection, sanitized launch environment, readiness probing with
// backoff, reuse of a healthy instance, and idempotent termination. The
// tracked child and its port are mutated only under the supervisor's lock;
// a foreign process occupying a port is never adopted.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"marcutd/internal/ports"
	"marcutd/internal/pull"
	"marcutd/internal/staging"
	"marcutd/internal/store"
	"marcutd/pkg/types"
)

const (
	cacheWindow       = 5 * time.Second
	maxPortCandidates = 20
	earlyExitWindow   = 150 * time.Millisecond
	readinessAttempts = 15
	readinessBase     = 500 * time.Millisecond
	readinessCap      = 3200 * time.Millisecond
	stopGrace         = 2 * time.Second
	pidFileName       = "server.pid"
)

// PortSelector picks a free port starting at base. *ports.Allocator is the
// production implementation.
type PortSelector interface {
	Select(base, maxAttempts int, ownPIDs map[int]int) (int, bool)
}

// Config carries everything needed to launch and address the child server.
type Config struct {
	// BinaryPath is the server executable.
	BinaryPath string
	// Host the child binds; loopback in practice.
	Host string
	// BasePort is the first port candidate.
	BasePort int
	// HomeDir is the app container the child's home is pointed at.
	HomeDir string
	// ModelsDir is the model store root handed to the child.
	ModelsDir string
	// LogPath receives the child's combined output.
	LogPath string
	// Model is the default model EnsureModel targets when none is named.
	Model string
}

// instance is the one tracked child. Never adopted, only launched.
type instance struct {
	cmd       *exec.Cmd
	pid       int
	port      int
	startedAt time.Time
	// done is closed after cmd.Wait returns, which also guarantees the
	// output copier has released the sink.
	done    chan struct{}
	waitErr error
}

func (i *instance) alive() bool {
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}

// Supervisor manages the model server subprocess and the model store on its
// behalf.
type Supervisor struct {
	cfg      Config
	store    *store.Store
	staging  *staging.Manager
	selector PortSelector
	puller   func(baseURL string, env []string) *pull.Puller
	sink     *logSink
	log      zerolog.Logger

	// probe reports whether the server at baseURL answers; injectable for
	// tests.
	probe func(ctx context.Context, baseURL string) bool

	readyAttempts int
	readyBase     time.Duration
	readyCap      time.Duration

	flight singleflight.Group

	mu       sync.Mutex
	state    types.ServiceState
	inst     *instance
	model    string
	lastGood time.Time
	// ownPIDs remembers port→pid for children this supervisor launched, so
	// the allocator can tell our listener from a foreign one.
	ownPIDs map[int]int
}

// New builds a Supervisor. makePuller constructs the download pipeline for a
// given child base URL and sanitized subprocess environment; staging must
// already be prepared.
func New(cfg Config, st *store.Store, stg *staging.Manager, selector PortSelector, makePuller func(baseURL string, env []string) *pull.Puller, log zerolog.Logger) (*Supervisor, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.HomeDir, "logs", "server.log")
	}
	sink, err := newLogSink(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open server log: %w", err)
	}
	if selector == nil {
		selector = ports.New(cfg.Host)
	}
	s := &Supervisor{
		cfg:      cfg,
		store:    st,
		staging:  stg,
		selector: selector,
		puller:   makePuller,
		sink:     sink,
		log:      log.With().Str("component", "supervisor").Logger(),
		state:    types.StateStopped,
		ownPIDs:  map[int]int{},
	}
	s.probe = func(ctx context.Context, baseURL string) bool {
		return pull.NewClient(baseURL).Reachable(ctx)
	}
	s.readyAttempts = readinessAttempts
	s.readyBase = readinessBase
	s.readyCap = readinessCap
	return s, nil
}

// BaseURL returns the tracked child's URL, or "" when none is ready.
func (s *Supervisor) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inst == nil {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.inst.port)
}

// Ready reports whether a tracked child is in the Ready state.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == types.StateReady && s.inst != nil && s.inst.alive()
}

// Status returns a point-in-time snapshot for the control API.
func (s *Supervisor) Status() types.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := types.StatusResponse{
		State:          string(s.state),
		Model:          s.model,
		ServerTimeUnix: time.Now().Unix(),
	}
	if s.model != "" {
		resp.ModelAvailable = s.store.Verified(s.model)
	}
	if s.inst != nil {
		resp.PID = s.inst.pid
		resp.Port = s.inst.port
		resp.BaseURL = fmt.Sprintf("http://%s:%d", s.cfg.Host, s.inst.port)
		resp.UptimeSeconds = int64(time.Since(s.inst.startedAt).Seconds())
	}
	return resp
}

// EnsureRunning makes sure a healthy child is up, reusing a live one when
// possible. Concurrent callers share a single in-flight attempt; force skips
// the known-good cache window.
func (s *Supervisor) EnsureRunning(ctx context.Context, force bool) error {
	if !force {
		s.mu.Lock()
		cached := s.state == types.StateReady && time.Since(s.lastGood) < cacheWindow &&
			s.inst != nil && s.inst.alive()
		s.mu.Unlock()
		if cached {
			return nil
		}
	}

	_, err, _ := s.flight.Do("ensure", func() (any, error) {
		return nil, s.ensure(ctx)
	})
	return err
}

// ensure runs one full ensure pass; only ever executing once at a time via
// the singleflight group.
func (s *Supervisor) ensure(ctx context.Context) error {
	// Reuse path: live tracked child on its remembered port.
	s.mu.Lock()
	inst := s.inst
	s.mu.Unlock()
	if inst != nil && inst.alive() {
		// Sandbox policy can invalidate a previously good staging dir
		// between runs; a child with a broken staging dir must go.
		if err := s.staging.Revalidate(); err != nil {
			s.log.Warn().Err(err).Msg("staging invalid; restarting child")
			s.Stop()
		} else if s.probe(ctx, fmt.Sprintf("http://%s:%d", s.cfg.Host, inst.port)) {
			s.mu.Lock()
			s.state = types.StateReady
			s.lastGood = time.Now()
			s.mu.Unlock()
			s.log.Debug().Int("port", inst.port).Msg("reusing healthy child")
			return nil
		} else {
			s.log.Warn().Int("port", inst.port).Msg("tracked child not answering; discarding")
			s.Stop()
		}
	} else if inst != nil {
		// Exited behind our back; clean up the stale reference.
		s.Stop()
	}

	if err := s.staging.Revalidate(); err != nil {
		s.setState(types.StateFailed)
		return err
	}

	s.setState(types.StateStarting)
	if err := s.launch(ctx); err != nil {
		s.setState(types.StateFailed)
		return err
	}
	s.mu.Lock()
	s.state = types.StateReady
	s.lastGood = time.Now()
	s.mu.Unlock()
	return nil
}

// launch walks port candidates, starting the child on the first free one and
// waiting for readiness. An immediate exit mentioning a port conflict moves
// to the next candidate; any other immediate exit aborts all attempts.
func (s *Supervisor) launch(ctx context.Context) error {
	base := s.cfg.BasePort
	for attempt := 0; attempt < maxPortCandidates; attempt++ {
		s.mu.Lock()
		own := make(map[int]int, len(s.ownPIDs))
		for p, pid := range s.ownPIDs {
			own[p] = pid
		}
		s.mu.Unlock()

		port, ok := s.selector.Select(base+attempt, 1, own)
		if !ok {
			continue
		}

		inst, err := s.start(port)
		if err != nil {
			return ErrLaunchFailure(err.Error())
		}

		// Immediate-exit check: a child that dies within the window never
		// reached its listen loop.
		select {
		case <-inst.done:
			tail := s.sink.Tail()
			if strings.Contains(strings.ToLower(tail), "address already in use") {
				s.log.Warn().Int("port", port).Msg("port race; trying next candidate")
				s.forget(port)
				continue
			}
			s.forget(port)
			return ErrLaunchFailure(fmt.Sprintf("exited immediately: %v; log tail: %s", inst.waitErr, tail))
		case <-time.After(earlyExitWindow):
		}

		if err := s.awaitReady(ctx, inst); err != nil {
			s.terminate(inst)
			s.forget(port)
			return err
		}
		// Startup may have extracted runtime payloads into the staging dir;
		// trust them now, before the child tries to exec one.
		s.trustStagedPayloads()

		s.mu.Lock()
		s.inst = inst
		s.ownPIDs[port] = inst.pid
		s.mu.Unlock()
		s.writePIDFile(inst.pid)
		s.log.Info().Int("pid", inst.pid).Int("port", port).Msg("child ready")
		return nil
	}
	return ErrPortUnavailable(base, maxPortCandidates)
}

// start spawns the child bound to port with a sanitized environment, output
// routed to the log sink, and an exit watcher attached.
func (s *Supervisor) start(port int) (*instance, error) {
	cmd := exec.Command(s.cfg.BinaryPath, "serve")
	cmd.Env = s.childEnv(port)
	cmd.Stdout = s.sink
	cmd.Stderr = s.sink
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.cfg.BinaryPath, err)
	}
	inst := &instance{cmd: cmd, pid: cmd.Process.Pid, port: port, startedAt: time.Now(), done: make(chan struct{})}
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.done)
	}()
	s.log.Info().Int("pid", inst.pid).Int("port", port).Msg("child started")
	return inst, nil
}

// childEnv builds the child environment: inherited vars minus proxies and any
// pre-existing service configuration, plus home/models/tmp rooted in this
// app's container and the chosen host binding.
func (s *Supervisor) childEnv(port int) []string {
	drop := func(key string) bool {
		upper := strings.ToUpper(key)
		switch upper {
		case "HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "FTP_PROXY":
			return true
		}
		return strings.HasPrefix(upper, "OLLAMA_")
	}
	env := make([]string, 0, 16)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 && drop(kv[:i]) {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		"OLLAMA_HOST="+s.cfg.Host+":"+strconv.Itoa(port),
		"OLLAMA_HOME="+s.cfg.HomeDir,
		"OLLAMA_MODELS="+s.cfg.ModelsDir,
		"TMPDIR="+s.staging.Dir(),
	)
}

// awaitReady polls the child's HTTP surface with exponential backoff, bailing
// out as soon as the process dies.
func (s *Supervisor) awaitReady(ctx context.Context, inst *instance) error {
	s.setState(types.StateProbing)
	baseURL := fmt.Sprintf("http://%s:%d", s.cfg.Host, inst.port)
	delay := s.readyBase
	for attempt := 0; attempt < s.readyAttempts; attempt++ {
		if s.probe(ctx, baseURL) {
			return nil
		}
		select {
		case <-inst.done:
			return ErrLaunchFailure(fmt.Sprintf("exited during startup: %v; log tail: %s", inst.waitErr, s.sink.Tail()))
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.readyCap {
			delay = s.readyCap
		}
	}
	return ErrReadinessTimeout(s.sink.Tail())
}

// Stop terminates the tracked child. Idempotent: stopping an already-stopped
// or crashed child is a no-op. cmd.Wait is allowed to finish before state is
// cleared so the output copier never writes against torn-down state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	inst := s.inst
	s.inst = nil
	s.state = types.StateStopped
	s.lastGood = time.Time{}
	s.mu.Unlock()
	if inst == nil {
		return
	}
	s.terminate(inst)
	s.forget(inst.port)
	s.removePIDFile()
	s.releaseStagedScratch()
	s.log.Info().Int("pid", inst.pid).Msg("child stopped")
}

// trustStagedPayloads scans the staging dir and trusts every regular file the
// child dropped there, stripping quarantine and restoring the exec bit.
func (s *Supervisor) trustStagedPayloads() {
	dir := s.staging.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", dir).Msg("scan staging dir")
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := s.staging.TrustPayload(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("trust staged payload")
			continue
		}
		s.log.Debug().Str("path", path).Msg("staged payload trusted")
	}
}

// releaseStagedScratch wipes the staging dir's files once the child is gone
// so scratch content never outlives the process that wrote it.
func (s *Supervisor) releaseStagedScratch() {
	dir := s.staging.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := s.staging.Release(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("release staged scratch")
		}
	}
}

// terminate asks the child to exit, escalating to SIGKILL after a grace
// period, and waits for the exit watcher so pipes are fully drained.
func (s *Supervisor) terminate(inst *instance) {
	if inst.alive() {
		_ = inst.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-inst.done:
		case <-time.After(stopGrace):
			_ = inst.cmd.Process.Kill()
			<-inst.done
		}
	} else {
		<-inst.done
	}
}

// EnsureModel makes sure the service is running and modelID is present and
// verified on disk, downloading it when missing. An empty modelID targets
// the configured default.
func (s *Supervisor) EnsureModel(ctx context.Context, modelID string, onProgress pull.ProgressFunc) error {
	if modelID == "" {
		modelID = s.cfg.Model
	}
	if err := s.EnsureRunning(ctx, false); err != nil {
		return err
	}
	s.mu.Lock()
	s.model = modelID
	s.mu.Unlock()

	if s.store.Verified(modelID) {
		return nil
	}
	if err := s.store.Promote(modelID); err == nil {
		return nil
	}
	if err := s.currentPuller().DownloadModel(ctx, modelID, onProgress); err != nil {
		return err
	}
	// The pipeline verifies on disk before reporting success; this is the
	// supervisor's own independent check.
	if !s.store.Verified(modelID) {
		return ErrLaunchFailure("model " + modelID + " missing after download")
	}
	return nil
}

// PullModel forces a download of modelID through the pipeline, ensuring the
// service first. Unlike EnsureModel it always runs the pipeline, which is
// idempotent for an already-verified model.
func (s *Supervisor) PullModel(ctx context.Context, modelID string, onProgress pull.ProgressFunc) error {
	if modelID == "" {
		modelID = s.cfg.Model
	}
	if err := s.EnsureRunning(ctx, false); err != nil {
		return err
	}
	s.mu.Lock()
	s.model = modelID
	s.mu.Unlock()
	return s.currentPuller().DownloadModel(ctx, modelID, onProgress)
}

// currentPuller builds the download pipeline for the tracked child, handing
// the factory the same sanitized environment the child runs under so an exec
// fallback targets this app's store and port rather than inherited defaults.
func (s *Supervisor) currentPuller() *pull.Puller {
	s.mu.Lock()
	port := s.cfg.BasePort
	if s.inst != nil {
		port = s.inst.port
	}
	s.mu.Unlock()
	return s.puller(fmt.Sprintf("http://%s:%d", s.cfg.Host, port), s.childEnv(port))
}

// Models lists the store's discovered models.
func (s *Supervisor) Models() []types.ModelInfo { return s.store.Models() }

// ReopenLog recreates the child log handle after external log clearing.
func (s *Supervisor) ReopenLog() error { return s.sink.Reopen() }

// Close stops the child and releases the log sink.
func (s *Supervisor) Close() error {
	s.Stop()
	return s.sink.Close()
}

func (s *Supervisor) setState(st types.ServiceState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) forget(port int) {
	s.mu.Lock()
	delete(s.ownPIDs, port)
	s.mu.Unlock()
}

func (s *Supervisor) pidFilePath() string {
	return filepath.Join(s.cfg.HomeDir, pidFileName)
}

func (s *Supervisor) writePIDFile(pid int) {
	if err := os.MkdirAll(s.cfg.HomeDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(s.pidFilePath(), []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (s *Supervisor) removePIDFile() {
	_ = os.Remove(s.pidFilePath())
}
