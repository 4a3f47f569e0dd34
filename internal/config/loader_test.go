package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTemp(t, "cfg.yaml", "addr: \":8090\"\nmodel: llama3.2:3b\nbase_port: 11434\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8090" || cfg.Model != "llama3.2:3b" || cfg.BasePort != 11434 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTemp(t, "cfg.json", `{"home_dir":"~/.marcut","log_level":"debug"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HomeDir != "~/.marcut" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTemp(t, "cfg.toml", "host = \"127.0.0.1\"\nlog_json = true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || !cfg.LogJSON {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	p := writeTemp(t, "cfg.ini", "addr=:8090")
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for .ini")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMerge(t *testing.T) {
	base := Config{Addr: ":8080", Model: "llama3.2:3b", BasePort: 11434}
	over := Config{Model: "phi4:mini", LogLevel: "debug"}
	got := Merge(base, over)
	if got.Addr != ":8080" {
		t.Fatalf("Addr overwritten: %q", got.Addr)
	}
	if got.Model != "phi4:mini" || got.LogLevel != "debug" || got.BasePort != 11434 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}
