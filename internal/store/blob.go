package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marcutd/internal/common/fsutil"
	"marcutd/pkg/types"
)

// Store reads and promotes model artifacts rooted at one models directory.
type Store struct {
	root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store { return &Store{root: dir} }

// Root returns the models directory this store operates on.
func (s *Store) Root() string { return s.root }

// NormalizeDigest strips an optional sha256: or sha256- prefix, lowercases,
// and validates the result is exactly 64 hex characters. Returns false on
// malformed input; it never guesses.
func NormalizeDigest(digest string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(digest))
	d = strings.TrimPrefix(d, "sha256:")
	d = strings.TrimPrefix(d, "sha256-")
	if len(d) != 64 {
		return "", false
	}
	for _, c := range d {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return d, true
}

// BlobPath resolves a digest to its content-addressed file path under the
// store. Returns false for malformed digests.
func (s *Store) BlobPath(digest string) (string, bool) {
	hex, ok := NormalizeDigest(digest)
	if !ok {
		return "", false
	}
	return filepath.Join(s.root, "blobs", "sha256-"+hex), true
}

// CanonicalPath derives the stable, externally-referenceable weight file path
// for a model identifier: library/name:tag becomes library-name-tag.gguf,
// with the default library and "latest" tag omitted.
func (s *Store) CanonicalPath(modelID string) string {
	library, name, tag := SplitModelID(modelID)
	base := name
	if library != types.DefaultLibrary {
		base = library + "-" + base
	}
	if tag != types.DefaultTag {
		base += "-" + tag
	}
	base = strings.ReplaceAll(base, ":", "-")
	base = strings.ReplaceAll(base, "/", "-")
	return filepath.Join(s.root, base+".gguf")
}

// Verified reports whether the canonical file for modelID exists with the
// size its manifest expects.
func (s *Store) Verified(modelID string) bool {
	m, err := s.ResolveManifest(modelID)
	if err != nil {
		return false
	}
	return fsutil.FileSize(s.CanonicalPath(modelID)) == m.ExpectedSize
}

// Promote materializes the canonical weight file for modelID from its blob.
// Idempotent: an existing canonical file of the expected size is left alone.
// A stale or corrupt file is removed and rebuilt via hardlink (copy fallback)
// into a temp path, then renamed into place so a reader never observes a
// partially written file. The final size is verified against the manifest;
// on mismatch the result is deleted and an error returned.
func (s *Store) Promote(modelID string) error {
	m, err := s.ResolveManifest(modelID)
	if err != nil {
		return err
	}
	canonical := s.CanonicalPath(modelID)
	if fsutil.FileSize(canonical) == m.ExpectedSize {
		return nil
	}

	blob, ok := s.BlobPath(m.Digest)
	if !ok {
		return ErrDigestUnrecognized(m.Digest)
	}
	if !fsutil.PathExists(blob) {
		return ErrBlobMissing(blob)
	}

	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := os.Remove(canonical); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale canonical file: %w", err)
	}

	tmp := canonical + ".tmp"
	_ = os.Remove(tmp)
	if err := fsutil.LinkOrCopy(blob, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("stage blob: %w", err)
	}
	if err := os.Rename(tmp, canonical); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("promote blob: %w", err)
	}

	if got := fsutil.FileSize(canonical); got != m.ExpectedSize {
		_ = os.Remove(canonical)
		return ErrSizeMismatch(canonical, got, m.ExpectedSize)
	}
	return nil
}

// Models lists discovered models along with their promoted availability.
func (s *Store) Models() []types.ModelInfo {
	ids := s.Discover()
	out := make([]types.ModelInfo, 0, len(ids))
	for _, id := range ids {
		info := types.ModelInfo{ID: id}
		if m, err := s.ResolveManifest(id); err == nil {
			info.Size = m.ExpectedSize
			p := s.CanonicalPath(id)
			if fsutil.FileSize(p) == m.ExpectedSize {
				info.Available = true
				info.Path = p
			}
		}
		out = append(out, info)
	}
	return out
}
