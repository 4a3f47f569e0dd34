package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	p, err = ExpandHome("~/models")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != filepath.Join(home, "models") {
		t.Fatalf("expected %q, got %q", filepath.Join(home, "models"), p)
	}
}

func TestLinkOrCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst.bin")
	if err := LinkOrCopy(src, dst); err != nil {
		t.Fatalf("LinkOrCopy: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "payload" {
		t.Fatalf("read dst: %q err=%v", b, err)
	}
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	if err := os.WriteFile(p, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FileSize(p); got != 5 {
		t.Fatalf("FileSize=%d, want 5", got)
	}
	if got := FileSize(filepath.Join(dir, "missing")); got != -1 {
		t.Fatalf("FileSize missing=%d, want -1", got)
	}
	if got := FileSize(dir); got != -1 {
		t.Fatalf("FileSize dir=%d, want -1", got)
	}
}

func TestSecureWipe(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "scratch")
	if err := os.WriteFile(p, []byte("sensitive"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := SecureWipe(p); err != nil {
		t.Fatalf("SecureWipe: %v", err)
	}
	if PathExists(p) {
		t.Fatal("file still exists after wipe")
	}
	// wiping a missing file is a no-op
	if err := SecureWipe(p); err != nil {
		t.Fatalf("SecureWipe missing: %v", err)
	}
}
