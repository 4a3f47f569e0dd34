// Package store manages the on-disk model store: registry manifests under
// manifests/<registry>/<library>/<name>/<tag>, content-addressed blobs under
// blobs/sha256-<hex>, and stable canonical weight files promoted from blobs.
package store

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"marcutd/pkg/types"
)

// weightMarker identifies the layer carrying model weights. Media types look
// like "application/vnd.ollama.image.model" or carry a gguf type parameter.
const weightMarker = "gguf"

const legacyManifestName = "manifest.json"

// maxScanEntries bounds the recursive fallback scan of the manifests tree.
const maxScanEntries = 4096

type manifestLayer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

type manifestFile struct {
	Layers []manifestLayer `json:"layers"`
	Config *manifestLayer  `json:"config"`
}

// ParseManifest loads a manifest JSON file and extracts the weight digest and
// expected size. Two shapes are supported: layered manifests and legacy
// single-config manifests. Returns false when no recognizable digest exists.
func ParseManifest(path string) (*types.ModelManifest, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var mf manifestFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, false
	}

	if layer, ok := pickWeightLayer(mf.Layers); ok {
		if digest, ok := NormalizeDigest(layer.Digest); ok {
			return &types.ModelManifest{Digest: digest, ExpectedSize: layer.Size}, true
		}
	}
	if mf.Config != nil {
		if digest, ok := NormalizeDigest(mf.Config.Digest); ok {
			return &types.ModelManifest{Digest: digest, ExpectedSize: mf.Config.Size}, true
		}
	}
	return nil, false
}

// pickWeightLayer prefers the largest layer whose media type mentions the
// weight marker; otherwise the largest layer overall.
func pickWeightLayer(layers []manifestLayer) (manifestLayer, bool) {
	var best manifestLayer
	found := false
	for _, l := range layers {
		if strings.Contains(strings.ToLower(l.MediaType), weightMarker) {
			if !found || l.Size > best.Size {
				best = l
				found = true
			}
		}
	}
	if found {
		return best, true
	}
	for _, l := range layers {
		if !found || l.Size > best.Size {
			best = l
			found = true
		}
	}
	return best, found
}

// SplitModelID splits "library/name:tag" into its parts, applying the default
// library and tag when omitted.
func SplitModelID(modelID string) (library, name, tag string) {
	library = types.DefaultLibrary
	name = modelID
	tag = types.DefaultTag
	if i := strings.Index(name, "/"); i >= 0 {
		library, name = name[:i], name[i+1:]
	}
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name, tag = name[:i], name[i+1:]
	}
	return library, name, tag
}

// ResolveManifest locates and parses the manifest for a model identifier
// under root. The on-disk manifest layout has changed across versions, so
// lookups are layered: exact tag file, legacy manifest.json, any JSON file in
// the tag directory, and finally a bounded recursive scan of the manifests
// tree matching library and name by directory structure.
func (s *Store) ResolveManifest(modelID string) (*types.ModelManifest, error) {
	library, name, tag := SplitModelID(modelID)
	manifestsRoot := filepath.Join(s.root, "manifests")

	registries, err := os.ReadDir(manifestsRoot)
	if err != nil {
		return nil, ErrManifestMissing(modelID)
	}
	for _, reg := range registries {
		if !reg.IsDir() {
			continue
		}
		dir := filepath.Join(manifestsRoot, reg.Name(), library, name)
		if m, ok := resolveInDir(dir, tag); ok {
			fillIdentity(m, reg.Name(), library, name, tag)
			return m, nil
		}
	}
	// Layout may predate the registry/library nesting; scan as a last resort.
	if m, ok := scanManifests(manifestsRoot, library, name); ok {
		fillIdentity(m, "", library, name, tag)
		return m, nil
	}
	return nil, ErrManifestMissing(modelID)
}

func fillIdentity(m *types.ModelManifest, registry, library, name, tag string) {
	m.Registry = registry
	m.Library = library
	m.Name = name
	m.Tag = tag
}

func resolveInDir(dir, tag string) (*types.ModelManifest, bool) {
	if m, ok := ParseManifest(filepath.Join(dir, tag)); ok {
		return m, true
	}
	if m, ok := ParseManifest(filepath.Join(dir, legacyManifestName)); ok {
		return m, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		if m, ok := ParseManifest(filepath.Join(dir, e.Name())); ok {
			return m, true
		}
	}
	return nil, false
}

// scanManifests walks the whole manifests tree looking for a directory whose
// parent chain matches library/name. Visits are capped at maxScanEntries so a
// pathological store cannot stall resolution.
func scanManifests(root, library, name string) (*types.ModelManifest, bool) {
	var found *types.ModelManifest
	visited := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		visited++
		if visited > maxScanEntries || found != nil {
			return fs.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		parent := filepath.Dir(path)
		if filepath.Base(parent) != name {
			return nil
		}
		if filepath.Base(filepath.Dir(parent)) != library {
			return nil
		}
		if m, ok := ParseManifest(path); ok {
			found = m
			return fs.SkipAll
		}
		return nil
	})
	return found, found != nil
}

// Discover walks the manifests tree and reconstructs the human-facing
// identifiers of every model present, sorted for stable output.
func (s *Store) Discover() []string {
	manifestsRoot := filepath.Join(s.root, "manifests")
	ids := map[string]struct{}{}
	_ = filepath.WalkDir(manifestsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(manifestsRoot, path)
		if err != nil {
			return nil
		}
		// Expect registry/library/name/tag-or-manifest.json.
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 4 {
			return nil
		}
		library, name, tag := parts[1], parts[2], parts[3]
		if tag == legacyManifestName {
			tag = types.DefaultTag
		}
		if _, ok := ParseManifest(path); !ok {
			return nil
		}
		m := types.ModelManifest{Library: library, Name: name, Tag: tag}
		ids[m.DisplayID()] = struct{}{}
		return nil
	})
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
