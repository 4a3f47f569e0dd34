//go:build unix

package staging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type recordingCapability struct {
	trusted []string
	err     error
}

func (r *recordingCapability) Trust(path string) error {
	r.trusted = append(r.trusted, path)
	return r.err
}

func TestNewSelectsFirstUsableCandidate(t *testing.T) {
	usable := t.TempDir()
	m, err := New([]string{"", usable}, &recordingCapability{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Dir() != usable {
		t.Fatalf("Dir = %q, want %q", m.Dir(), usable)
	}
	// The probe must not leave artifacts behind.
	entries, err := os.ReadDir(usable)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("probe left %d entries in staging dir", len(entries))
	}
}

func TestNewCreatesMissingCandidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "staging")
	m, err := New([]string{dir}, &recordingCapability{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := os.Stat(m.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Fatalf("staging dir perm = %o, want 0700", perm)
	}
}

func TestNewSkipsUncreatableCandidate(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; permission bits are not enforced")
	}
	blocked := t.TempDir()
	if err := os.Chmod(blocked, 0o500); err != nil {
		t.Fatal(err)
	}
	fallback := t.TempDir()
	m, err := New([]string{filepath.Join(blocked, "sub"), fallback}, &recordingCapability{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Dir() != fallback {
		t.Fatalf("Dir = %q, want fallback %q", m.Dir(), fallback)
	}
}

func TestNewNoUsableCandidates(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; permission bits are not enforced")
	}
	blocked := t.TempDir()
	if err := os.Chmod(blocked, 0o500); err != nil {
		t.Fatal(err)
	}
	_, err := New([]string{filepath.Join(blocked, "sub")}, &recordingCapability{}, zerolog.Nop())
	if !errors.Is(err, ErrNoUsableDir) {
		t.Fatalf("err = %v, want ErrNoUsableDir", err)
	}
}

func TestRevalidate(t *testing.T) {
	m, err := New([]string{t.TempDir()}, &recordingCapability{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Revalidate(); err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	// Removing the directory must not break revalidation; it is recreated.
	if err := os.RemoveAll(m.Dir()); err != nil {
		t.Fatal(err)
	}
	if err := m.Revalidate(); err != nil {
		t.Fatalf("Revalidate after removal: %v", err)
	}
}

func TestTrustPayload(t *testing.T) {
	rec := &recordingCapability{}
	m, err := New([]string{t.TempDir()}, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := filepath.Join(m.Dir(), "server")
	if err := os.WriteFile(payload, []byte("#!/bin/sh\nexit 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.TrustPayload(payload); err != nil {
		t.Fatalf("TrustPayload: %v", err)
	}
	info, err := os.Stat(payload)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o100 == 0 {
		t.Fatalf("payload not executable: %o", perm)
	}
	if len(rec.trusted) != 1 || rec.trusted[0] != payload {
		t.Fatalf("capability calls = %v", rec.trusted)
	}
}

func TestReleaseWipesFile(t *testing.T) {
	m, err := New([]string{t.TempDir()}, &recordingCapability{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	secret := filepath.Join(m.Dir(), "scratch.bin")
	if err := os.WriteFile(secret, []byte("sensitive"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(secret); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(secret); !os.IsNotExist(err) {
		t.Fatal("scratch file still present after release")
	}
}
