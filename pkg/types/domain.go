package types

// ModelManifest describes a resolved model manifest on disk.
type ModelManifest struct {
	// Registry namespace the manifest was found under.
	// example: registry.ollama.ai
	Registry string `json:"registry"`
	// Library (publisher) namespace; "library" is the implicit default.
	// example: library
	Library string `json:"library"`
	// Model name.
	// example: llama3.2
	Name string `json:"name"`
	// Tag; "latest" when the user did not name one.
	// example: 3b
	Tag string `json:"tag"`
	// Normalized weight digest (64 lowercase hex chars, no prefix).
	// example: 6a0746a1ec1aef3e7ec53868f220ff6e389f6f8ef87a01d77c96807de94ca2aa
	Digest string `json:"digest"`
	// Expected byte size of the weight blob.
	// example: 2019377376
	ExpectedSize int64 `json:"expected_size"`
}

// DisplayID reconstructs the identifier a user would type for this model:
// the default library and an explicit "latest" tag are omitted.
func (m ModelManifest) DisplayID() string {
	id := m.Name
	if m.Library != "" && m.Library != DefaultLibrary {
		id = m.Library + "/" + id
	}
	if m.Tag != "" && m.Tag != DefaultTag {
		id += ":" + m.Tag
	}
	return id
}

// DefaultLibrary is the implicit publisher namespace of the model registry.
const DefaultLibrary = "library"

// DefaultTag is assumed when a model identifier carries no tag.
const DefaultTag = "latest"

// ModelInfo pairs a discovered model identifier with its on-disk state.
type ModelInfo struct {
	// Identifier as a user would type it.
	// example: llama3.2:3b
	ID string `json:"id"`
	// Whether the canonical weight file exists and matches the manifest size.
	// example: true
	Available bool `json:"available"`
	// Absolute path of the promoted canonical file, when available.
	// example: /home/user/.marcut/models/llama3.2-3b.gguf
	Path string `json:"path,omitempty"`
	// Expected size in bytes from the manifest.
	// example: 2019377376
	Size int64 `json:"size,omitempty"`
}

// ServiceState is the lifecycle state of the supervised server.
type ServiceState string

const (
	StateStopped  ServiceState = "stopped"
	StateStarting ServiceState = "starting"
	StateProbing  ServiceState = "probing"
	StateReady    ServiceState = "ready"
	StateFailed   ServiceState = "failed"
)

// ProgressUpdate is one progress event delivered to callers during a model
// download or a redaction job. Overall is monotonic non-decreasing within
// one operation.
type ProgressUpdate struct {
	// Operation identifier (uuid).
	JobID string `json:"job_id,omitempty"`
	// Coarse phase name (e.g. "downloading", "verifying", "redact").
	Phase string `json:"phase,omitempty"`
	// Percent complete of the current stage, 0-100.
	Stage float64 `json:"stage,omitempty"`
	// Percent complete of the whole operation, 0-100.
	Overall float64 `json:"overall"`
	// Optional human-readable status line.
	Message string `json:"message,omitempty"`
}
