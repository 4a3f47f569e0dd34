// Package staging selects and maintains a writeable, exec-capable scratch
// directory for the supervised server. Many install locations mount tmpdirs
// noexec or quarantine extracted payloads; the only reliable answer is to
// probe by executing a real file in each candidate and to strip trust
// metadata in place.
package staging

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"marcutd/internal/common/fsutil"
)

// ErrNoUsableDir is returned when no candidate directory passes the exec
// probe. Startup must not proceed past it.
var ErrNoUsableDir = errors.New("no staging directory allows executing files")

// Capability adapts platform trust mechanics: making an extracted payload
// executable and, where the OS quarantines downloads, removing that mark.
type Capability interface {
	// Trust makes path runnable in place.
	Trust(path string) error
}

// Manager owns the chosen staging directory for one daemon lifetime.
type Manager struct {
	dir string
	cap Capability
	log zerolog.Logger
}

// New probes candidates in order and keeps the first directory where a file
// can be written, marked executable, and actually run. Each candidate is
// created 0700 if missing.
func New(candidates []string, capability Capability, log zerolog.Logger) (*Manager, error) {
	if capability == nil {
		capability = platformCapability()
	}
	l := log.With().Str("component", "staging").Logger()
	for _, c := range candidates {
		if c == "" {
			continue
		}
		dir, err := fsutil.ExpandHome(c)
		if err != nil {
			l.Debug().Err(err).Str("dir", c).Msg("candidate not expandable")
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			l.Debug().Err(err).Str("dir", dir).Msg("candidate not creatable")
			continue
		}
		if err := probeExec(dir); err != nil {
			l.Debug().Err(err).Str("dir", dir).Msg("candidate failed exec probe")
			continue
		}
		l.Info().Str("dir", dir).Msg("staging directory selected")
		return &Manager{dir: dir, cap: capability, log: l}, nil
	}
	return nil, ErrNoUsableDir
}

// Dir returns the selected staging directory.
func (m *Manager) Dir() string { return m.dir }

// Revalidate re-runs the exec probe on the selected directory. Mount options
// can change between restarts; a directory that was usable yesterday may be
// noexec today.
func (m *Manager) Revalidate() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("staging dir %s: %w", m.dir, err)
	}
	if err := probeExec(m.dir); err != nil {
		return fmt.Errorf("staging dir %s no longer executable: %w", m.dir, err)
	}
	return nil
}

// TrustPayload makes a runtime-extracted file under the staging dir
// executable and trusted in place.
func (m *Manager) TrustPayload(path string) error {
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := m.cap.Trust(path); err != nil {
		return fmt.Errorf("trust %s: %w", path, err)
	}
	return nil
}

// Release wipes a sensitive scratch file: zero-filled, then removed.
func (m *Manager) Release(path string) error {
	return fsutil.SecureWipe(path)
}

// probeExec writes a minimal script into dir, marks it executable, and runs
// it. Only a clean exit proves the directory is usable; stat flags lie on
// noexec mounts.
func probeExec(dir string) error {
	f, err := os.CreateTemp(dir, "probe-*.sh")
	if err != nil {
		return err
	}
	name := f.Name()
	defer os.Remove(name)
	if _, err := f.WriteString("#!/bin/sh\nexit 0\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o755); err != nil {
		return err
	}
	if err := exec.Command(name).Run(); err != nil {
		return fmt.Errorf("exec probe %s: %w", filepath.Base(name), err)
	}
	return nil
}
