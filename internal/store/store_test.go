package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testDigest = "6a0746a1ec1aef3e7ec53868f220ff6e389f6f8ef87a01d77c96807de94ca2aa"

func layeredManifest(digest string, size int64) string {
	return fmt.Sprintf(`{
  "layers": [
    {"mediaType": "application/vnd.ollama.image.model; type=gguf", "digest": "sha256:%s", "size": %d},
    {"mediaType": "application/vnd.ollama.image.template", "digest": "sha256:%s", "size": 120}
  ]
}`, digest, size, strings.Repeat("b", 64))
}

// seedModel writes a manifest and matching blob for modelID and returns the store.
func seedModel(t *testing.T, modelID string, payload []byte) *Store {
	t.Helper()
	root := t.TempDir()
	library, name, tag := SplitModelID(modelID)
	dir := filepath.Join(root, "manifests", "registry.ollama.ai", library, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := layeredManifest(testDigest, int64(len(payload)))
	if err := os.WriteFile(filepath.Join(dir, tag), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	blobs := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(blobs, "sha256-"+testDigest), payload, 0o644); err != nil {
		t.Fatal(err)
	}
	return New(root)
}

func TestNormalizeDigest(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{testDigest, testDigest, true},
		{"sha256:" + testDigest, testDigest, true},
		{"sha256-" + testDigest, testDigest, true},
		{"SHA256:" + strings.ToUpper(testDigest), testDigest, true},
		{testDigest[:63], "", false},
		{testDigest + "0", "", false},
		{strings.Replace(testDigest, "6", "g", 1), "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeDigest(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("NormalizeDigest(%q) = (%q,%v), want (%q,%v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestBlobPathNormalizesPrefixes(t *testing.T) {
	s := New("/store")
	want := filepath.Join("/store", "blobs", "sha256-"+testDigest)
	for _, in := range []string{testDigest, "sha256:" + testDigest, "sha256-" + testDigest} {
		got, ok := s.BlobPath(in)
		if !ok || got != want {
			t.Errorf("BlobPath(%q) = (%q,%v), want %q", in, got, ok, want)
		}
	}
	if _, ok := s.BlobPath("not-a-digest"); ok {
		t.Error("BlobPath accepted malformed digest")
	}
}

func TestParseManifestShapes(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	// Layered: the gguf-marked layer wins even when another layer is larger.
	big := strings.Repeat("c", 64)
	layered := write("layered.json", fmt.Sprintf(`{"layers":[
		{"mediaType":"application/vnd.ollama.image.license","digest":"sha256:%s","size":999999},
		{"mediaType":"application/vnd.ollama.image.model; type=GGUF","digest":"sha256:%s","size":1000}
	]}`, big, testDigest))
	m, ok := ParseManifest(layered)
	if !ok || m.Digest != testDigest || m.ExpectedSize != 1000 {
		t.Fatalf("layered: got %+v ok=%v", m, ok)
	}

	// No marker: largest layer wins.
	unmarked := write("unmarked.json", fmt.Sprintf(`{"layers":[
		{"mediaType":"application/octet-stream","digest":"sha256:%s","size":10},
		{"mediaType":"application/octet-stream","digest":"sha256:%s","size":20}
	]}`, testDigest, big))
	m, ok = ParseManifest(unmarked)
	if !ok || m.Digest != big || m.ExpectedSize != 20 {
		t.Fatalf("unmarked: got %+v ok=%v", m, ok)
	}

	// Single-config fallback.
	single := write("single.json", fmt.Sprintf(`{"config":{"digest":"sha256:%s","size":42}}`, testDigest))
	m, ok = ParseManifest(single)
	if !ok || m.Digest != testDigest || m.ExpectedSize != 42 {
		t.Fatalf("single: got %+v ok=%v", m, ok)
	}

	// Nothing recognizable.
	if _, ok := ParseManifest(write("empty.json", `{}`)); ok {
		t.Fatal("expected no digest in empty manifest")
	}
	if _, ok := ParseManifest(write("garbage.json", `not json`)); ok {
		t.Fatal("expected parse failure for invalid JSON")
	}
}

func TestSplitModelID(t *testing.T) {
	cases := []struct {
		in                  string
		library, name, tag string
	}{
		{"llama3.2:3b", "library", "llama3.2", "3b"},
		{"llama3.2", "library", "llama3.2", "latest"},
		{"myorg/llama3.2:3b", "myorg", "llama3.2", "3b"},
		{"myorg/llama3.2", "myorg", "llama3.2", "latest"},
	}
	for _, c := range cases {
		lib, name, tag := SplitModelID(c.in)
		if lib != c.library || name != c.name || tag != c.tag {
			t.Errorf("SplitModelID(%q) = (%s,%s,%s), want (%s,%s,%s)",
				c.in, lib, name, tag, c.library, c.name, c.tag)
		}
	}
}

func TestResolveManifestFallsBackToLegacyName(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "manifests", "registry.ollama.ai", "library", "llama3.2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := layeredManifest(testDigest, 77)
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := New(root).ResolveManifest("llama3.2:3b")
	if err != nil {
		t.Fatalf("ResolveManifest: %v", err)
	}
	if m.Digest != testDigest || m.ExpectedSize != 77 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestResolveManifestRecursiveScan(t *testing.T) {
	// Unknown registry nesting: only a full tree scan of library+name matches.
	root := t.TempDir()
	dir := filepath.Join(root, "manifests", "mirror.example.com", "extra", "library", "llama3.2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "3b"), []byte(layeredManifest(testDigest, 9)), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := New(root).ResolveManifest("llama3.2:3b")
	if err != nil {
		t.Fatalf("ResolveManifest: %v", err)
	}
	if m.ExpectedSize != 9 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestResolveManifestMissing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.ResolveManifest("ghost:1b")
	if err == nil || !IsManifestMissing(err) {
		t.Fatalf("expected manifest-missing error, got %v", err)
	}
}

func TestPromoteIdempotent(t *testing.T) {
	payload := []byte("gguf weights payload")
	s := seedModel(t, "llama3.2:3b", payload)

	if err := s.Promote("llama3.2:3b"); err != nil {
		t.Fatalf("first promote: %v", err)
	}
	canonical := s.CanonicalPath("llama3.2:3b")
	fi1, err := os.Stat(canonical)
	if err != nil {
		t.Fatalf("canonical missing: %v", err)
	}
	if err := s.Promote("llama3.2:3b"); err != nil {
		t.Fatalf("second promote: %v", err)
	}
	fi2, err := os.Stat(canonical)
	if err != nil {
		t.Fatal(err)
	}
	if !fi1.ModTime().Equal(fi2.ModTime()) {
		t.Fatal("second promote rewrote an already-valid canonical file")
	}
	if !s.Verified("llama3.2:3b") {
		t.Fatal("model not verified after promote")
	}
}

func TestPromoteReplacesCorruptCanonical(t *testing.T) {
	payload := []byte("gguf weights payload")
	s := seedModel(t, "llama3.2:3b", payload)
	canonical := s.CanonicalPath("llama3.2:3b")
	if err := os.WriteFile(canonical, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Promote("llama3.2:3b"); err != nil {
		t.Fatalf("promote over corrupt file: %v", err)
	}
	b, err := os.ReadFile(canonical)
	if err != nil || string(b) != string(payload) {
		t.Fatalf("canonical not regenerated: %q err=%v", b, err)
	}
}

func TestPromoteSizeMismatchDeletesResult(t *testing.T) {
	payload := []byte("gguf weights payload")
	s := seedModel(t, "llama3.2:3b", payload)
	// Corrupt the blob so the promoted size cannot match the manifest.
	blob, _ := s.BlobPath(testDigest)
	if err := os.WriteFile(blob, []byte("truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := s.Promote("llama3.2:3b")
	if err == nil || !IsSizeMismatch(err) {
		t.Fatalf("expected size-mismatch error, got %v", err)
	}
	if _, statErr := os.Stat(s.CanonicalPath("llama3.2:3b")); !os.IsNotExist(statErr) {
		t.Fatal("corrupt canonical file was left behind")
	}
}

func TestPromoteMissingBlob(t *testing.T) {
	s := seedModel(t, "llama3.2:3b", []byte("payload"))
	blob, _ := s.BlobPath(testDigest)
	if err := os.Remove(blob); err != nil {
		t.Fatal(err)
	}
	err := s.Promote("llama3.2:3b")
	if err == nil || !IsBlobMissing(err) {
		t.Fatalf("expected blob-missing error, got %v", err)
	}
}

func TestDiscoverIdentifiers(t *testing.T) {
	root := t.TempDir()
	add := func(library, name, tag string) {
		dir := filepath.Join(root, "manifests", "registry.ollama.ai", library, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, tag), []byte(layeredManifest(testDigest, 1)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	add("library", "llama3.2", "3b")
	add("library", "phi4", "latest")
	add("myorg", "llama3.2", "3b")

	got := New(root).Discover()
	want := []string{"llama3.2:3b", "myorg/llama3.2:3b", "phi4"}
	if len(got) != len(want) {
		t.Fatalf("Discover = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Discover = %v, want %v", got, want)
		}
	}
}

func TestCanonicalPath(t *testing.T) {
	s := New("/models")
	cases := map[string]string{
		"llama3.2:3b":       filepath.Join("/models", "llama3.2-3b.gguf"),
		"phi4":              filepath.Join("/models", "phi4.gguf"),
		"myorg/llama3.2:3b": filepath.Join("/models", "myorg-llama3.2-3b.gguf"),
	}
	for id, want := range cases {
		if got := s.CanonicalPath(id); got != want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestModelsAvailability(t *testing.T) {
	s := seedModel(t, "llama3.2:3b", []byte("payload"))
	models := s.Models()
	if len(models) != 1 || models[0].ID != "llama3.2:3b" || models[0].Available {
		t.Fatalf("before promote: %+v", models)
	}
	if err := s.Promote("llama3.2:3b"); err != nil {
		t.Fatal(err)
	}
	models = s.Models()
	if !models[0].Available || models[0].Path == "" {
		t.Fatalf("after promote: %+v", models)
	}
}
